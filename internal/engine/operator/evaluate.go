// internal/engine/operator/evaluate.go
package operator

import (
	"fmt"
	"regexp"
	"strings"

	"document-eligibility/internal/engine/value"
)

/*
 * Pure comparison functions over value.Value.
 *
 * Contract:
 *   - a null actual value never satisfies any operator
 *   - EQUALS / NOT_EQUALS compare decimals for number and duration types,
 *     string forms otherwise
 *   - ordering operators and BETWEEN compare decimals for number/duration,
 *     instants for date, and fall back to lexicographic order for strings
 *   - IN / NOT_IN and the substring operators work on string forms; an
 *     array actual value matches when any element does
 *   - MATCHES is a full-string regular expression match
 *
 * Values that cannot be coerced to the declared type evaluate to false.
 * Only configuration problems (unknown operator, missing operand, bad
 * pattern) are returned as errors.
 */

// Operands carries the right-hand side of a criterion.
type Operands struct {
	Value   value.Value
	Values  []value.Value
	Min     value.Value
	Max     value.Value
	Pattern *regexp.Regexp
}

// Evaluate applies op to actual under dataType.
func Evaluate(op Operator, dataType DataType, actual value.Value, operands Operands) (bool, error) {
	if err := checkOperands(op, operands); err != nil {
		return false, err
	}
	if actual.IsNull() {
		return false, nil
	}

	switch op {
	case Equals:
		return equal(dataType, actual, operands.Value), nil
	case NotEquals:
		return !equal(dataType, actual, operands.Value), nil
	case LessThan:
		c, ok := compare(dataType, actual, operands.Value)
		return ok && c < 0, nil
	case LessThanOrEqual:
		c, ok := compare(dataType, actual, operands.Value)
		return ok && c <= 0, nil
	case GreaterThan:
		c, ok := compare(dataType, actual, operands.Value)
		return ok && c > 0, nil
	case GreaterThanOrEqual:
		c, ok := compare(dataType, actual, operands.Value)
		return ok && c >= 0, nil
	case Between:
		lo, okLo := compare(dataType, actual, operands.Min)
		hi, okHi := compare(dataType, actual, operands.Max)
		return okLo && okHi && lo >= 0 && hi <= 0, nil
	case In:
		return anyElement(actual, func(s string) bool { return memberOf(s, operands.Values) }), nil
	case NotIn:
		return !anyElement(actual, func(s string) bool { return memberOf(s, operands.Values) }), nil
	case Contains:
		return contains(actual, operands.Value.String()), nil
	case NotContains:
		return !contains(actual, operands.Value.String()), nil
	case StartsWith:
		return strings.HasPrefix(actual.String(), operands.Value.String()), nil
	case EndsWith:
		return strings.HasSuffix(actual.String(), operands.Value.String()), nil
	case Matches:
		re := operands.Pattern
		if re == nil {
			compiled, err := CompilePattern(operands.Value.String())
			if err != nil {
				return false, err
			}
			re = compiled
		}
		return re.MatchString(actual.String()), nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnsupportedOperator, op)
	}
}

// CompilePattern anchors the expression so that it must match the whole
// string.
func CompilePattern(expr string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(`^(?:` + expr + `)$`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	return re, nil
}

func checkOperands(op Operator, o Operands) error {
	switch op {
	case Between:
		if o.Min.IsNull() || o.Max.IsNull() {
			return fmt.Errorf("%w: %s requires minValue and maxValue", ErrMissingOperand, op)
		}
	case In, NotIn:
		if o.Values == nil {
			return fmt.Errorf("%w: %s requires values", ErrMissingOperand, op)
		}
	case Equals, NotEquals, LessThan, LessThanOrEqual, GreaterThan, GreaterThanOrEqual,
		Contains, NotContains, StartsWith, EndsWith:
		if o.Value.IsNull() {
			return fmt.Errorf("%w: %s requires value", ErrMissingOperand, op)
		}
	case Matches:
		if o.Pattern == nil && o.Value.IsNull() {
			return fmt.Errorf("%w: %s requires a pattern", ErrMissingOperand, op)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedOperator, op)
	}
	return nil
}

func equal(dataType DataType, actual, expected value.Value) bool {
	if dataType.numeric() {
		a, okA := actual.Decimal()
		e, okE := expected.Decimal()
		return okA && okE && a.Equal(e)
	}
	return actual.String() == expected.String()
}

// compare returns the ordering of actual against bound and whether both
// sides could be read under dataType.
func compare(dataType DataType, actual, bound value.Value) (int, bool) {
	switch dataType {
	case TypeDate:
		a, okA := actual.Time()
		b, okB := bound.Time()
		if !okA || !okB {
			return 0, false
		}
		switch {
		case a.Before(b):
			return -1, true
		case a.After(b):
			return 1, true
		default:
			return 0, true
		}
	case TypeString:
		a, okA := actual.Decimal()
		b, okB := bound.Decimal()
		if okA && okB {
			return a.Cmp(b), true
		}
		return strings.Compare(actual.String(), bound.String()), true
	default:
		a, okA := actual.Decimal()
		b, okB := bound.Decimal()
		if !okA || !okB {
			return 0, false
		}
		return a.Cmp(b), true
	}
}

func memberOf(s string, values []value.Value) bool {
	for _, v := range values {
		if v.String() == s {
			return true
		}
	}
	return false
}

func anyElement(actual value.Value, match func(string) bool) bool {
	if actual.Kind() == value.KindArray {
		for _, item := range actual.Items() {
			if match(item.String()) {
				return true
			}
		}
		return false
	}
	return match(actual.String())
}

func contains(actual value.Value, needle string) bool {
	if actual.Kind() == value.KindArray {
		for _, item := range actual.Items() {
			if item.String() == needle {
				return true
			}
		}
		return false
	}
	return strings.Contains(actual.String(), needle)
}
