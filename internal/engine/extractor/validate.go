// internal/engine/extractor/validate.go
package extractor

import (
	"fmt"
	"strings"

	"document-eligibility/internal/engine/model"
	"document-eligibility/internal/engine/value"
)

func (e *Extractor) validate(field string, spec *model.ValidationSpec, v value.Value) []ValidationError {
	if spec == nil {
		return nil
	}

	var errs []ValidationError
	fail := func(rule, format string, args ...interface{}) {
		msg := spec.ErrorMessage
		if msg == "" {
			msg = fmt.Sprintf(format, args...)
		}
		errs = append(errs, ValidationError{Field: field, Rule: rule, Message: msg})
	}

	if v.IsNull() || (v.Kind() == value.KindString && v.String() == "") {
		if spec.Required {
			fail("required", "missing required field: %s", field)
		}
		return errs
	}

	if !hasType(v, spec.Type) {
		fail("type", "%s must be of type %s", field, spec.Type)
		return errs
	}

	if spec.Pattern != "" {
		re, err := spec.CompiledPattern()
		if err != nil || !re.MatchString(v.String()) {
			fail("pattern", "invalid format for field: %s", field)
		}
	}

	if len(spec.EnumValues) > 0 && !contains(spec.EnumValues, v.String()) {
		fail("enum", "%s must be one of [%s]", field, strings.Join(spec.EnumValues, ", "))
	}

	if spec.Min != nil {
		if c, ok := compareBound(spec.Type, v, spec.Min); ok && c < 0 {
			fail("min", "%s must be >= %v", field, spec.Min)
		}
	}
	if spec.Max != nil {
		if c, ok := compareBound(spec.Type, v, spec.Max); ok && c > 0 {
			fail("max", "%s must be <= %v", field, spec.Max)
		}
	}

	if spec.ValidateInPast || spec.ValidateInFuture {
		t, ok := v.Time()
		now := e.now()
		switch {
		case !ok:
			fail("date", "%s is not a date", field)
		case spec.ValidateInPast && t.After(now):
			fail("inPast", "date must be in the past: %s", field)
		case spec.ValidateInFuture && t.Before(now):
			fail("inFuture", "date must be in the future: %s", field)
		}
	}

	return errs
}

func hasType(v value.Value, typ string) bool {
	switch typ {
	case "":
		return true
	case "string":
		return v.Kind() == value.KindString
	case "number":
		_, ok := v.Decimal()
		return ok && v.Kind() != value.KindBool
	case "integer":
		d, ok := v.Decimal()
		return ok && v.Kind() != value.KindBool && d.IsInteger()
	case "boolean":
		if v.Kind() == value.KindBool {
			return true
		}
		s := v.String()
		return v.Kind() == value.KindString && (s == "true" || s == "false")
	case "date":
		_, ok := v.Time()
		return ok && v.Kind() != value.KindBool
	case "array":
		return v.Kind() == value.KindArray
	case "object":
		return v.Kind() == value.KindObject
	default:
		return false
	}
}

func compareBound(typ string, v value.Value, bound any) (int, bool) {
	b := value.FromAny(bound)
	if typ == "date" {
		tv, okV := v.Time()
		tb, okB := b.Time()
		if !okV || !okB {
			return 0, false
		}
		return tv.Compare(tb), true
	}
	dv, okV := v.Decimal()
	db, okB := b.Decimal()
	if !okV || !okB {
		return 0, false
	}
	return dv.Cmp(db), true
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
