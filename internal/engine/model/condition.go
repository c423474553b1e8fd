// internal/engine/model/condition.go
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"document-eligibility/internal/engine/operator"
	"document-eligibility/internal/engine/value"

	"github.com/google/cel-go/cel"
)

const celCostLimit = 100000

var (
	celEnvOnce sync.Once
	celEnv     *cel.Env
	celEnvErr  error
)

func conditionEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("vars", cel.MapType(cel.StringType, cel.DynType)),
		)
	})
	return celEnv, celEnvErr
}

func presenceOperator(name string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "notnull", "not_null", "exists", "isnotnull":
		return "notNull", true
	case "isnull", "is_null", "null", "notexists":
		return "isNull", true
	default:
		return "", false
	}
}

func compileExpression(expr string) (cel.Program, error) {
	env, err := conditionEnv()
	if err != nil {
		return nil, fmt.Errorf("condition environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("condition expression: %w", issues.Err())
	}
	prog, err := env.Program(ast, cel.CostLimit(celCostLimit))
	if err != nil {
		return nil, fmt.Errorf("condition program: %w", err)
	}
	return prog, nil
}

func (c *Condition) compile() error {
	if c.Expression != "" {
		prog, err := compileExpression(c.Expression)
		if err != nil {
			return err
		}
		c.program = prog
		return nil
	}

	if c.Field == "" {
		return fmt.Errorf("condition requires field or expression")
	}
	if _, ok := presenceOperator(c.Operator); ok {
		return nil
	}
	crit, err := c.criterionSpec()
	if err != nil {
		return err
	}
	c.criterion = crit
	return nil
}

func (c *Condition) criterionSpec() (*operator.Criterion, error) {
	dataType := "string"
	switch c.Value.(type) {
	case json.Number, float64, float32, int, int64, int32:
		dataType = "number"
	case bool:
		dataType = "boolean"
	}
	return operator.Compile(operator.Spec{
		Operator: c.Operator,
		DataType: dataType,
		Value:    c.Value,
	})
}

// Evaluate tests the condition against the current variables. A nil
// condition always holds.
func (c *Condition) Evaluate(vars map[string]value.Value) (bool, error) {
	if c == nil {
		return true, nil
	}

	if c.Expression != "" {
		prog := c.program
		if prog == nil {
			compiled, err := compileExpression(c.Expression)
			if err != nil {
				return false, err
			}
			prog = compiled
		}
		native := make(map[string]any, len(vars))
		for k, v := range vars {
			native[k] = v.Native()
		}
		out, _, err := prog.Eval(map[string]any{"vars": native})
		if err != nil {
			return false, fmt.Errorf("evaluate %q: %w", c.Expression, err)
		}
		b, ok := out.Value().(bool)
		return ok && b, nil
	}

	actual, present := vars[c.Field]
	if kind, ok := presenceOperator(c.Operator); ok {
		notNull := present && !actual.IsNull()
		if kind == "notNull" {
			return notNull, nil
		}
		return !notNull, nil
	}

	crit := c.criterion
	if crit == nil {
		compiled, err := c.criterionSpec()
		if err != nil {
			return false, err
		}
		crit = compiled
	}
	return crit.Evaluate(actual)
}
