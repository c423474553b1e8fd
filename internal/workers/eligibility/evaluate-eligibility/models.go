// internal/workers/eligibility/evaluate-eligibility/models.go
package evaluateeligibility

import (
	"document-eligibility/internal/common/validation"
	"document-eligibility/internal/engine"
)

type Input struct {
	TemplateID    string         `json:"templateId"`
	Seed          map[string]any `json:"seed"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

// Output is merged into the process variables. Included and
// MatchingCriteria are lifted out so gateways can branch on them.
type Output struct {
	Included          bool                      `json:"included"`
	MatchingCriteria  *engine.MatchingCriteria  `json:"matchingCriteria,omitempty"`
	EligibilityResult *engine.EligibilityResult `json:"eligibilityResult"`
}

var inputSchema = validation.MustSchema(`{
	"type": "object",
	"required": ["templateId"],
	"properties": {
		"templateId":    {"type": "string", "minLength": 1},
		"seed":          {"type": ["object", "null"]},
		"correlationId": {"type": "string"}
	}
}`)
