// internal/engine/operator/criterion.go
package operator

import (
	"fmt"
	"time"

	"document-eligibility/internal/engine/value"
)

// Criterion is a compiled criteria rule: operator, declared type and
// operands, ready to be evaluated many times.
type Criterion struct {
	Operator     Operator
	DataType     DataType
	Unit         DurationUnit
	CompareField string
	Operands     Operands
}

// Spec is the raw, decoded form of a criterion.
type Spec struct {
	Operator     string
	DataType     string
	Value        any
	Values       []any
	MinValue     any
	MaxValue     any
	Unit         string
	CompareField string
}

// Compile validates a raw criterion and precompiles its pattern.
func Compile(spec Spec) (*Criterion, error) {
	op, err := Parse(spec.Operator)
	if err != nil {
		return nil, err
	}
	dt, err := ParseDataType(spec.DataType)
	if err != nil {
		return nil, err
	}

	c := &Criterion{
		Operator:     op,
		DataType:     dt,
		CompareField: spec.CompareField,
		Operands: Operands{
			Value: value.FromAny(spec.Value),
			Min:   value.FromAny(spec.MinValue),
			Max:   value.FromAny(spec.MaxValue),
		},
	}

	if spec.Values != nil {
		c.Operands.Values = make([]value.Value, len(spec.Values))
		for i, v := range spec.Values {
			c.Operands.Values[i] = value.FromAny(v)
		}
	} else if (op == In || op == NotIn) && c.Operands.Value.Kind() == value.KindArray {
		c.Operands.Values = c.Operands.Value.Items()
	}

	if op == Between && c.Operands.Min.IsNull() && c.Operands.Max.IsNull() {
		bounds := c.Operands.Values
		if len(bounds) == 0 {
			bounds = c.Operands.Value.Items()
		}
		if len(bounds) == 2 {
			c.Operands.Min, c.Operands.Max = bounds[0], bounds[1]
		}
	}

	if op == Matches && !c.Operands.Value.IsNull() {
		re, err := CompilePattern(c.Operands.Value.String())
		if err != nil {
			return nil, err
		}
		c.Operands.Pattern = re
	}

	if dt == TypeDuration {
		if spec.CompareField == "" {
			return nil, fmt.Errorf("%w: duration criterion requires compareField", ErrMissingOperand)
		}
		unit, err := ParseUnit(spec.Unit)
		if err != nil {
			return nil, err
		}
		c.Unit = unit
	}

	if err := checkOperands(op, c.Operands); err != nil {
		return nil, err
	}
	return c, nil
}

// Evaluate applies the criterion to an actual value.
func (c *Criterion) Evaluate(actual value.Value) (bool, error) {
	return Evaluate(c.Operator, c.DataType, actual, c.Operands)
}

// DurationValue converts the timestamp found at CompareField into the
// elapsed duration. A missing or unparsable timestamp yields null.
func (c *Criterion) DurationValue(timestamp value.Value, now time.Time) value.Value {
	since, ok := timestamp.Time()
	if !ok {
		return value.Null()
	}
	return value.Int(Elapsed(since, now, c.Unit))
}

// Expected is the operand shown in evaluation traces.
func (c *Criterion) Expected() value.Value {
	switch {
	case c.Operator == Between:
		return value.Array([]value.Value{c.Operands.Min, c.Operands.Max})
	case c.Operands.Values != nil:
		return value.Array(c.Operands.Values)
	default:
		return c.Operands.Value
	}
}
