// internal/engine/matching.go
package engine

import (
	"document-eligibility/internal/engine/model"
	"document-eligibility/internal/engine/orchestrator"
	"document-eligibility/internal/engine/placeholder"
	"document-eligibility/internal/engine/value"
)

// MatchingCriteria tells the caller how to find the document once the
// customer is eligible.
type MatchingCriteria struct {
	MatchBy           string            `json:"matchBy"`
	ReferenceKeyType  string            `json:"referenceKeyType,omitempty"`
	ReferenceKeyValue string            `json:"referenceKeyValue,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

func matchingCriteria(cfg *model.ExtractionConfig, scope placeholder.Scope) *MatchingCriteria {
	strategy := cfg.DocumentMatchingStrategy
	if strategy == nil {
		return nil
	}

	mc := &MatchingCriteria{MatchBy: strategy.MatchBy}
	out := cfg.OutputMapping
	switch strategy.MatchBy {
	case model.MatchByReferenceKey:
		mc.ReferenceKeyType = strategy.ReferenceKeyType
		if out != nil && out.DocumentReferenceKey != "" {
			mc.ReferenceKeyValue, _ = placeholder.Expand(out.DocumentReferenceKey, scope)
		}
	case model.MatchByMetadata:
		templates := strategy.MetadataFields
		if out != nil && len(out.DocumentMetadata) > 0 {
			templates = out.DocumentMetadata
		}
		if len(templates) > 0 {
			mc.Metadata = make(map[string]string, len(templates))
			for k, tmpl := range templates {
				mc.Metadata[k], _ = placeholder.Expand(tmpl, scope)
			}
		}
	}
	return mc
}

// exposed returns the variables visible in the result. A source listing
// returnFields only exposes those; the rule engine still saw everything.
func exposed(cfg *model.ExtractionConfig, ec *orchestrator.Context) map[string]value.Value {
	vars := ec.Variables()
	for _, ds := range cfg.ExtractionStrategy {
		keep := ds.ResponseMapping.ReturnFields
		if len(keep) == 0 {
			continue
		}
		allowed := make(map[string]bool, len(keep))
		for _, f := range keep {
			allowed[f] = true
		}
		for field := range ec.SourceFields(ds.ID) {
			if !allowed[field] {
				delete(vars, field)
			}
		}
	}
	return vars
}
