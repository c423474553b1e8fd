// internal/engine/rules/engine.go
package rules

import (
	"sort"
	"time"

	"document-eligibility/internal/common/logger"
	"document-eligibility/internal/engine/model"
	"document-eligibility/internal/engine/operator"
	"document-eligibility/internal/engine/value"
)

// Lookup reads a variable from the populated evaluation context.
type Lookup func(name string) (value.Value, bool)

// Condition is one evaluated criterion as it appears in the result trace.
type Condition struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    value.Value `json:"value"`
	Expected value.Value `json:"expected"`
	Result   bool        `json:"result"`
	Error    string      `json:"error,omitempty"`
}

// Evaluation is the outcome of a rule tree.
type Evaluation struct {
	Result            bool        `json:"result"`
	MatchedConditions []Condition `json:"matchedConditions"`
}

// Engine evaluates rule trees against a populated context.
type Engine struct {
	log logger.Logger
	now func() time.Time
}

type Option func(*Engine)

// WithClock overrides the clock used by duration criteria.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(log logger.Logger, opts ...Option) *Engine {
	e := &Engine{log: log, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate walks the tree. A nil rule is false: eligibility must be stated.
func (e *Engine) Evaluate(rule *model.ExtractionRule, lookup Lookup) Evaluation {
	ev := Evaluation{MatchedConditions: []Condition{}}
	ev.Result = e.node(rule, lookup, &ev.MatchedConditions)
	return ev
}

func (e *Engine) node(rule *model.ExtractionRule, lookup Lookup, trace *[]Condition) bool {
	if rule == nil {
		return false
	}
	if !rule.IsComposite() {
		return e.leaf(rule.EligibilityCriteria, lookup, trace)
	}
	if len(rule.Rules) == 0 {
		return false
	}

	if rule.LogicOperator == model.LogicOr {
		for _, child := range rule.Rules {
			if e.node(child, lookup, trace) {
				return true
			}
		}
		return false
	}

	for _, child := range rule.Rules {
		if !e.node(child, lookup, trace) {
			return false
		}
	}
	return true
}

// leaf requires every criterion to hold. All criteria are evaluated so
// the trace shows each one.
func (e *Engine) leaf(criteria map[string]*model.CriteriaRule, lookup Lookup, trace *[]Condition) bool {
	if len(criteria) == 0 {
		return false
	}

	fields := make([]string, 0, len(criteria))
	for f := range criteria {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	all := true
	for _, field := range fields {
		cond := e.criterion(field, criteria[field], lookup)
		*trace = append(*trace, cond)
		if !cond.Result {
			all = false
		}
	}
	return all
}

func (e *Engine) criterion(field string, rule *model.CriteriaRule, lookup Lookup) Condition {
	cond := Condition{Field: field, Value: value.Null(), Expected: value.Null()}
	if rule == nil {
		cond.Error = "empty criterion"
		return cond
	}
	cond.Operator = rule.Operator

	c, err := rule.Compiled()
	if err != nil {
		cond.Error = err.Error()
		e.log.Error("Invalid criterion", map[string]interface{}{
			"field": field,
			"error": err.Error(),
		})
		return cond
	}
	cond.Operator = string(c.Operator)
	cond.Expected = c.Expected()

	actual := get(lookup, field)
	if c.DataType == operator.TypeDuration {
		source := field
		if c.CompareField != "" {
			source = c.CompareField
		}
		actual = c.DurationValue(get(lookup, source), e.now())
	}
	cond.Value = actual

	ok, err := c.Evaluate(actual)
	if err != nil {
		cond.Error = err.Error()
		e.log.Warn("Criterion evaluation failed", map[string]interface{}{
			"field":    field,
			"operator": cond.Operator,
			"error":    err.Error(),
		})
		return cond
	}
	cond.Result = ok
	return cond
}

func get(lookup Lookup, name string) value.Value {
	if lookup == nil {
		return value.Null()
	}
	if v, ok := lookup(name); ok {
		return v
	}
	return value.Null()
}
