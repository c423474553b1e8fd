// internal/engine/operator/operator.go
package operator

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedOperator = errors.New("unsupported operator")
	ErrUnsupportedDataType = errors.New("unsupported data type")
	ErrMissingOperand      = errors.New("missing operand")
	ErrInvalidPattern      = errors.New("invalid pattern")
	ErrUnsupportedUnit     = errors.New("unsupported duration unit")
)

// Operator is the canonical criteria operator name.
type Operator string

const (
	Equals             Operator = "EQUALS"
	NotEquals          Operator = "NOT_EQUALS"
	LessThan           Operator = "LESS_THAN"
	LessThanOrEqual    Operator = "LESS_THAN_OR_EQUAL"
	GreaterThan        Operator = "GREATER_THAN"
	GreaterThanOrEqual Operator = "GREATER_THAN_OR_EQUAL"
	Between            Operator = "BETWEEN"
	In                 Operator = "IN"
	NotIn              Operator = "NOT_IN"
	Contains           Operator = "CONTAINS"
	NotContains        Operator = "NOT_CONTAINS"
	StartsWith         Operator = "STARTS_WITH"
	EndsWith           Operator = "ENDS_WITH"
	Matches            Operator = "MATCHES"
)

// All lists every supported operator.
var All = []Operator{
	Equals, NotEquals,
	LessThan, LessThanOrEqual, GreaterThan, GreaterThanOrEqual,
	Between, In, NotIn,
	Contains, NotContains, StartsWith, EndsWith,
	Matches,
}

var aliases = map[string]Operator{
	"==": Equals, "=": Equals, "eq": Equals,
	"!=": NotEquals, "<>": NotEquals, "ne": NotEquals,
	"<": LessThan, "lt": LessThan,
	"<=": LessThanOrEqual, "lte": LessThanOrEqual,
	">": GreaterThan, "gt": GreaterThan,
	">=": GreaterThanOrEqual, "gte": GreaterThanOrEqual,
	"notin": NotIn,
	"regex": Matches,
}

// Parse accepts EQUALS, equals, notEquals, not_equals, "==" and the other
// spellings found in stored configurations.
func Parse(name string) (Operator, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrUnsupportedOperator)
	}
	if op, ok := aliases[strings.ToLower(trimmed)]; ok {
		return op, nil
	}
	canonical := Operator(strings.ToUpper(toSnake(trimmed)))
	for _, op := range All {
		if op == canonical {
			return op, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedOperator, name)
}

// toSnake turns camelCase into snake_case and leaves other forms alone.
func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' && i > 0 && s[i-1] >= 'a' && s[i-1] <= 'z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DataType is the declared type of a criterion.
type DataType string

const (
	TypeString   DataType = "string"
	TypeNumber   DataType = "number"
	TypeBoolean  DataType = "boolean"
	TypeDate     DataType = "date"
	TypeDuration DataType = "duration"
	TypeArray    DataType = "array"
	TypeObject   DataType = "object"
)

// ParseDataType defaults an empty type to string.
func ParseDataType(name string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "string", "text":
		return TypeString, nil
	case "number", "integer", "decimal", "numeric":
		return TypeNumber, nil
	case "boolean", "bool":
		return TypeBoolean, nil
	case "date", "datetime", "timestamp":
		return TypeDate, nil
	case "duration":
		return TypeDuration, nil
	case "array", "list":
		return TypeArray, nil
	case "object":
		return TypeObject, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDataType, name)
	}
}

func (d DataType) numeric() bool {
	return d == TypeNumber || d == TypeDuration
}
