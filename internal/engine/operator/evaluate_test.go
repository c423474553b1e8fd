// internal/engine/operator/evaluate_test.go
package operator

import (
	"encoding/json"
	"testing"
	"time"

	"document-eligibility/internal/engine/value"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func num(s string) value.Value {
	return value.FromAny(json.Number(s))
}

func mustCompile(t *testing.T, spec Spec) *Criterion {
	t.Helper()
	c, err := Compile(spec)
	require.NoError(t, err)
	return c
}

// ==========================
// Parsing
// ==========================

func TestParse_Spellings(t *testing.T) {
	tests := []struct {
		in   string
		want Operator
	}{
		{"EQUALS", Equals},
		{"equals", Equals},
		{"==", Equals},
		{"notEquals", NotEquals},
		{"lessThanOrEqual", LessThanOrEqual},
		{"GREATER_THAN", GreaterThan},
		{">=", GreaterThanOrEqual},
		{"between", Between},
		{"in", In},
		{"notIn", NotIn},
		{"NOT_IN", NotIn},
		{"startsWith", StartsWith},
		{"endsWith", EndsWith},
		{"notContains", NotContains},
		{"matches", Matches},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Unsupported(t *testing.T) {
	_, err := Parse("FUZZY_MATCH")
	assert.ErrorIs(t, err, ErrUnsupportedOperator)

	_, err = Parse("")
	assert.ErrorIs(t, err, ErrUnsupportedOperator)
}

// ==========================
// Operator Semantics
// ==========================

func TestEvaluate_Table(t *testing.T) {
	tests := []struct {
		name     string
		op       Operator
		dataType DataType
		actual   value.Value
		operands Operands
		want     bool
	}{
		{"equals decimal exact", Equals, TypeNumber, num("0.30"), Operands{Value: num("0.3")}, true},
		{"equals decimal no float drift", Equals, TypeNumber, num("0.1000000000000000000001"), Operands{Value: num("0.1")}, false},
		{"equals numeric string", Equals, TypeNumber, value.String("4500"), Operands{Value: num("4500.00")}, true},
		{"equals string form", Equals, TypeString, value.String("GOLD"), Operands{Value: value.String("GOLD")}, true},
		{"equals string case sensitive", Equals, TypeString, value.String("gold"), Operands{Value: value.String("GOLD")}, false},
		{"equals boolean", Equals, TypeBoolean, value.Bool(true), Operands{Value: value.Bool(true)}, true},
		{"not equals", NotEquals, TypeString, value.String("A"), Operands{Value: value.String("B")}, true},
		{"less than", LessThan, TypeNumber, num("4500"), Operands{Value: num("5000")}, true},
		{"less than equal boundary", LessThanOrEqual, TypeNumber, num("5000"), Operands{Value: num("5000")}, true},
		{"greater than false", GreaterThan, TypeNumber, num("5000"), Operands{Value: num("5000")}, false},
		{"greater than or equal", GreaterThanOrEqual, TypeNumber, num("5000.01"), Operands{Value: num("5000")}, true},
		{"number not parseable", GreaterThan, TypeNumber, value.String("abc"), Operands{Value: num("1")}, false},
		{"date iso", LessThan, TypeDate, value.String("2020-01-01T00:00:00Z"), Operands{Value: value.String("2021-01-01")}, true},
		{"date epoch vs iso", GreaterThan, TypeDate, num("1609459201"), Operands{Value: value.String("2021-01-01T00:00:00Z")}, true},
		{"between low inclusive", Between, TypeNumber, num("1000"), Operands{Min: num("1000"), Max: num("10000")}, true},
		{"between high inclusive", Between, TypeNumber, num("10000"), Operands{Min: num("1000"), Max: num("10000")}, true},
		{"between outside", Between, TypeNumber, num("10000.5"), Operands{Min: num("1000"), Max: num("10000")}, false},
		{"between dates", Between, TypeDate, value.String("2020-06-01"), Operands{Min: value.String("2020-01-01"), Max: value.String("2020-12-31")}, true},
		{"in string form", In, TypeString, value.String("90001"), Operands{Values: []value.Value{num("90001"), num("90002")}}, true},
		{"in miss", In, TypeString, value.String("10001"), Operands{Values: []value.Value{num("90001"), num("90002")}}, false},
		{"in array actual", In, TypeArray, value.FromAny([]any{"x", "CA"}), Operands{Values: []value.Value{value.String("CA")}}, true},
		{"not in", NotIn, TypeString, value.String("TX"), Operands{Values: []value.Value{value.String("CA")}}, true},
		{"contains", Contains, TypeString, value.String("PREMIUM_GOLD"), Operands{Value: value.String("GOLD")}, true},
		{"contains array element", Contains, TypeArray, value.FromAny([]any{"a", "b"}), Operands{Value: value.String("b")}, true},
		{"not contains", NotContains, TypeString, value.String("BASIC"), Operands{Value: value.String("GOLD")}, true},
		{"starts with", StartsWith, TypeString, value.String("ACC-123"), Operands{Value: value.String("ACC-")}, true},
		{"ends with", EndsWith, TypeString, value.String("report.pdf"), Operands{Value: value.String(".pdf")}, true},
		{"matches full string", Matches, TypeString, value.String("ACC123"), Operands{Value: value.String(`ACC\d+`)}, true},
		{"matches is anchored", Matches, TypeString, value.String("xACC123"), Operands{Value: value.String(`ACC\d+`)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.op, tt.dataType, tt.actual, tt.operands)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_ConfigurationProblems(t *testing.T) {
	tests := []struct {
		name     string
		op       Operator
		operands Operands
		wantErr  error
	}{
		{"unknown operator", Operator("SOUNDS_LIKE"), Operands{Value: value.String("x")}, ErrUnsupportedOperator},
		{"between without bounds", Between, Operands{Min: num("1")}, ErrMissingOperand},
		{"in without values", In, Operands{}, ErrMissingOperand},
		{"bad regex", Matches, Operands{Value: value.String("(")}, ErrInvalidPattern},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.op, TypeString, value.String("x"), tt.operands)
			assert.False(t, got)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEvaluate_NullNeverMatches(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	types := []DataType{TypeString, TypeNumber, TypeBoolean, TypeDate, TypeDuration, TypeArray, TypeObject}

	properties.Property("null actual value is false for every operator", prop.ForAll(
		func(opIdx, typeIdx int, operand string) bool {
			op := All[opIdx]
			operands := Operands{
				Value:  value.String(operand),
				Values: []value.Value{value.String(operand)},
				Min:    value.String(operand),
				Max:    value.String(operand),
			}
			if op == Matches {
				operands.Value = value.String(".*")
			}
			got, _ := Evaluate(op, types[typeIdx], value.Null(), operands)
			return !got
		},
		gen.IntRange(0, len(All)-1),
		gen.IntRange(0, len(types)-1),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestEvaluate_NotEqualsIsNegationForPresentValues(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("EQUALS and NOT_EQUALS disagree on every non-null pair", prop.ForAll(
		func(a, b int64) bool {
			eq, _ := Evaluate(Equals, TypeNumber, value.Int(a), Operands{Value: value.Int(b)})
			ne, _ := Evaluate(NotEquals, TypeNumber, value.Int(a), Operands{Value: value.Int(b)})
			return eq != ne
		},
		gen.Int64Range(-1000, 1000),
		gen.Int64Range(-1000, 1000),
	))

	properties.TestingRun(t)
}

// ==========================
// Criterion / Duration
// ==========================

func TestCompile_BetweenFromValues(t *testing.T) {
	c := mustCompile(t, Spec{Operator: "BETWEEN", DataType: "number", Values: []any{json.Number("1000"), json.Number("10000")}})

	for _, in := range []string{"1000", "5000", "10000"} {
		got, err := c.Evaluate(num(in))
		require.NoError(t, err)
		assert.True(t, got, in)
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr error
	}{
		{"unknown operator", Spec{Operator: "APPROX", Value: 1}, ErrUnsupportedOperator},
		{"unknown type", Spec{Operator: "EQUALS", DataType: "money", Value: 1}, ErrUnsupportedDataType},
		{"duration without field", Spec{Operator: "GREATER_THAN", DataType: "duration", Value: 5, Unit: "years"}, ErrMissingOperand},
		{"duration bad unit", Spec{Operator: "GREATER_THAN", DataType: "duration", Value: 5, Unit: "weeks", CompareField: "since"}, ErrUnsupportedUnit},
		{"in without values", Spec{Operator: "IN"}, ErrMissingOperand},
		{"bad pattern", Spec{Operator: "MATCHES", Value: "[a-"}, ErrInvalidPattern},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.spec)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestElapsed(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		since time.Time
		unit  DurationUnit
		want  int64
	}{
		{"exact days", now.Add(-36 * time.Hour), Days, 1},
		{"days in future floor", now.Add(12 * time.Hour), Days, -1},
		{"month not yet complete", time.Date(2026, 9, 20, 12, 0, 0, 0, time.UTC), Months, 0},
		{"month complete", time.Date(2026, 9, 19, 12, 0, 0, 0, time.UTC), Months, 1},
		{"calendar years before anniversary", time.Date(2000, 10, 25, 0, 0, 0, 0, time.UTC), Years, 25},
		{"calendar years on anniversary", time.Date(2020, 10, 19, 12, 0, 0, 0, time.UTC), Years, 6},
		{"six times 365 days", now.Add(-6 * 365 * 24 * time.Hour), Years, 6},
		{"365 day years still short", now.AddDate(-5, 0, 2), Years, 4},
		{"leap day does not delay year", now.AddDate(-5, 0, 1), Years, 5},
		{"long span one day short", time.Date(2000, 10, 20, 12, 0, 0, 0, time.UTC), Years, 26},
		{"long span two days short", time.Date(2000, 10, 21, 12, 0, 0, 0, time.UTC), Years, 25},
		{"long span six days short", time.Date(2000, 10, 25, 12, 0, 0, 0, time.UTC), Years, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Elapsed(tt.since, now, tt.unit))
		})
	}
}

func TestCriterion_DurationGreaterThanFiveYears(t *testing.T) {
	now := time.Now().UTC()
	c := mustCompile(t, Spec{
		Operator:     "GREATER_THAN",
		DataType:     "duration",
		Value:        json.Number("5"),
		Unit:         "years",
		CompareField: "customerSinceDate",
	})

	since := value.String(now.Add(-6 * 365 * 24 * time.Hour).Format(time.RFC3339))
	got, err := c.Evaluate(c.DurationValue(since, now))
	require.NoError(t, err)
	assert.True(t, got)

	missing, err := c.Evaluate(c.DurationValue(value.Null(), now))
	require.NoError(t, err)
	assert.False(t, missing)
}
