// internal/engine/extractor/transform.go
package extractor

import (
	"strings"

	"document-eligibility/internal/engine/model"
	"document-eligibility/internal/engine/operator"
	"document-eligibility/internal/engine/value"
)

func (e *Extractor) transform(spec *model.TransformSpec, field string, get Lookup) (value.Value, bool) {
	if spec == nil {
		return value.Null(), false
	}

	if spec.Type == model.TransformSelectFirst {
		return selectFirst(spec, field, get)
	}

	in, ok := get(spec.Input(field))
	if !ok {
		return value.Null(), false
	}

	switch spec.Type {
	case model.TransformUppercase:
		return mapString(in, strings.ToUpper), true
	case model.TransformLowercase:
		return mapString(in, strings.ToLower), true
	case model.TransformTrim:
		return mapString(in, strings.TrimSpace), true
	case model.TransformCalculateAge:
		dob, ok := in.Time()
		if !ok {
			e.log.Debug("calculateAge input is not a date", map[string]interface{}{"field": field})
			return value.Null(), false
		}
		return value.Int(operator.Elapsed(dob, e.now(), operator.Months) / 12), true
	case model.TransformAgeGroup, model.TransformBalanceTier, model.TransformClassification, model.TransformTier:
		return classify(in, spec.Ranges())
	default:
		return in, true
	}
}

func mapString(v value.Value, fn func(string) string) value.Value {
	if v.Kind() != value.KindString {
		return v
	}
	return value.String(fn(v.String()))
}

// classify returns the label of the first range containing v. A missing
// bound leaves that side open.
func classify(v value.Value, ranges []model.TierMapping) (value.Value, bool) {
	d, ok := v.Decimal()
	if !ok {
		return value.Null(), false
	}
	for _, r := range ranges {
		if r.Min != nil {
			lo, ok := value.FromAny(r.Min).Decimal()
			if !ok || d.LessThan(lo) {
				continue
			}
		}
		if r.Max != nil {
			hi, ok := value.FromAny(r.Max).Decimal()
			if !ok || d.GreaterThan(hi) {
				continue
			}
		}
		return value.String(r.Value), true
	}
	return value.Null(), false
}

// selectFirst picks the first present candidate. With explicit sources the
// candidates are those fields in order; otherwise the input field, taking
// the first element when it is an array.
func selectFirst(spec *model.TransformSpec, field string, get Lookup) (value.Value, bool) {
	fallback := func() (value.Value, bool) {
		if spec.Fallback == nil {
			return value.Null(), false
		}
		return value.FromAny(spec.Fallback), true
	}

	if len(spec.Sources) > 0 {
		for _, name := range spec.Sources {
			if v, ok := get(name); ok && !isEmpty(v) {
				return first(v), true
			}
		}
		return fallback()
	}

	v, ok := get(spec.Input(field))
	if !ok || isEmpty(v) {
		return fallback()
	}
	return first(v), true
}

func first(v value.Value) value.Value {
	if v.Kind() == value.KindArray {
		return v.Items()[0]
	}
	return v
}

func isEmpty(v value.Value) bool {
	return v.IsNull() || (v.Kind() == value.KindArray && len(v.Items()) == 0)
}
