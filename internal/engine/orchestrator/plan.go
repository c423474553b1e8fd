// internal/engine/orchestrator/plan.go
package orchestrator

import (
	"document-eligibility/internal/engine/model"
)

// Step is one data source in a static plan.
type Step struct {
	ID          string   `json:"id"`
	Level       int      `json:"level"`
	After       []string `json:"after,omitempty"`
	Conditional bool     `json:"conditional"`
}

// Plan lays the sources out in the levels parallel mode would run them in
// if every nextCall condition fired. Within a level sources keep
// declaration order. The configuration must be prepared.
func Plan(cfg *model.ExtractionConfig) [][]Step {
	gates := gatesOf(cfg)
	levels := make(map[string]int, len(cfg.ExtractionStrategy))

	var level func(id string) int
	level = func(id string) int {
		if l, ok := levels[id]; ok {
			return l
		}
		l := 0
		for _, g := range gates[id] {
			if gl := level(g) + 1; gl > l {
				l = gl
			}
		}
		levels[id] = l
		return l
	}

	var out [][]Step
	for _, ds := range cfg.ExtractionStrategy {
		l := level(ds.ID)
		for len(out) <= l {
			out = append(out, nil)
		}
		out[l] = append(out[l], Step{
			ID:          ds.ID,
			Level:       l,
			After:       gates[ds.ID],
			Conditional: cfg.IsConditional(ds.ID),
		})
	}
	return out
}

// gatesOf lists, per source, every source that must finish before it:
// its dependencies, the owners of nextCalls targeting it and their
// dependsOn.
func gatesOf(cfg *model.ExtractionConfig) map[string][]string {
	gates := make(map[string][]string, len(cfg.ExtractionStrategy))
	add := func(id, gate string) {
		for _, g := range gates[id] {
			if g == gate {
				return
			}
		}
		gates[id] = append(gates[id], gate)
	}

	for _, ds := range cfg.ExtractionStrategy {
		for _, dep := range ds.Dependencies {
			add(ds.ID, dep)
		}
		for _, nc := range ds.NextCalls {
			add(nc.TargetDataSource, ds.ID)
			if nc.DependsOn != "" && nc.DependsOn != nc.TargetDataSource {
				add(nc.TargetDataSource, nc.DependsOn)
			}
		}
	}
	return gates
}
