// internal/engine/placeholder/placeholder.go
package placeholder

import (
	"os"
	"sort"
	"strings"

	"document-eligibility/internal/common/logger"
	"document-eligibility/internal/engine/value"
)

/*
 * ${name} substitution for URLs, headers, bodies, cache keys and output
 * templates.
 *
 * Name forms, in lookup order:
 *   correlationId, x-correlation-Id   the evaluation's correlation id
 *   env.NAME                          process environment
 *   $input.NAME, input.NAME           seed identifiers
 *   NAME                              extracted variable, then seed
 *   SOURCE.FIELD                      field extracted by a given source
 *
 * Unresolved tokens are left verbatim so that the caller can see exactly
 * what was missing.
 */

// Lookup resolves a placeholder name.
type Lookup interface {
	Lookup(name string) (value.Value, bool)
}

// Scope is the standard lookup over one evaluation's state.
type Scope struct {
	Variables     map[string]value.Value
	Seed          map[string]value.Value
	BySource      map[string]map[string]value.Value
	CorrelationID string
	Env           func(string) (string, bool)
}

func (s Scope) Lookup(name string) (value.Value, bool) {
	if name == "correlationId" || strings.EqualFold(name, "x-correlation-id") {
		if s.CorrelationID == "" {
			return value.Null(), false
		}
		return value.String(s.CorrelationID), true
	}

	if env, ok := strings.CutPrefix(name, "env."); ok {
		lookupEnv := s.Env
		if lookupEnv == nil {
			lookupEnv = os.LookupEnv
		}
		if v, ok := lookupEnv(env); ok {
			return value.String(v), true
		}
		return value.Null(), false
	}

	for _, prefix := range []string{"$input.", "input."} {
		if key, ok := strings.CutPrefix(name, prefix); ok {
			return present(s.Seed, key)
		}
	}

	if v, ok := present(s.Variables, name); ok {
		return v, true
	}
	if src, field, ok := strings.Cut(name, "."); ok {
		if v, ok := present(s.BySource[src], field); ok {
			return v, true
		}
	}
	return present(s.Seed, name)
}

func present(m map[string]value.Value, key string) (value.Value, bool) {
	v, ok := m[key]
	if !ok || v.IsNull() {
		return value.Null(), false
	}
	return v, true
}

// Expand replaces every resolvable token in template and returns the
// names it could not resolve.
func Expand(template string, lookup Lookup) (string, []string) {
	if !strings.Contains(template, "${") {
		return template, nil
	}

	var b strings.Builder
	var missing []string
	rest := template
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[start+2:], '}')
		if end < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:start])

		token := rest[start : start+2+end+1]
		name := strings.TrimSpace(rest[start+2 : start+2+end])
		if v, ok := lookup.Lookup(name); ok {
			b.WriteString(v.String())
		} else {
			b.WriteString(token)
			missing = append(missing, name)
		}
		rest = rest[start+2+end+1:]
	}
	return b.String(), missing
}

// ExpandValue resolves tokens inside a decoded JSON body. A string that is
// exactly one token takes the typed value, so numbers stay numbers.
func ExpandValue(body any, lookup Lookup) (any, []string) {
	switch v := body.(type) {
	case string:
		if name, ok := soleToken(v); ok {
			if resolved, found := lookup.Lookup(name); found {
				return resolved.Interface(), nil
			}
			return v, []string{name}
		}
		s, missing := Expand(v, lookup)
		return s, missing
	case map[string]any:
		out := make(map[string]any, len(v))
		var missing []string
		for k, item := range v {
			resolved, m := ExpandValue(item, lookup)
			out[k] = resolved
			missing = append(missing, m...)
		}
		sort.Strings(missing)
		return out, missing
	case []any:
		out := make([]any, len(v))
		var missing []string
		for i, item := range v {
			resolved, m := ExpandValue(item, lookup)
			out[i] = resolved
			missing = append(missing, m...)
		}
		return out, missing
	default:
		return body, nil
	}
}

func soleToken(s string) (string, bool) {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return "", false
	}
	inner := s[2 : len(s)-1]
	if strings.ContainsAny(inner, "{}") {
		return "", false
	}
	return strings.TrimSpace(inner), true
}

// Resolver expands templates and reports unresolved tokens as warnings.
type Resolver struct {
	log logger.Logger
}

func NewResolver(log logger.Logger) *Resolver {
	return &Resolver{log: log}
}

// String expands template; where names what is being expanded for logs.
func (r *Resolver) String(where, template string, lookup Lookup) string {
	out, missing := Expand(template, lookup)
	r.warn(where, missing)
	return out
}

// Map expands every value of a header or query map.
func (r *Resolver) Map(where string, templates map[string]string, lookup Lookup) map[string]string {
	if len(templates) == 0 {
		return nil
	}
	out := make(map[string]string, len(templates))
	var missing []string
	for k, tmpl := range templates {
		resolved, m := Expand(tmpl, lookup)
		out[k] = resolved
		missing = append(missing, m...)
	}
	sort.Strings(missing)
	r.warn(where, missing)
	return out
}

// Body expands a request body template.
func (r *Resolver) Body(where string, body any, lookup Lookup) any {
	out, missing := ExpandValue(body, lookup)
	r.warn(where, missing)
	return out
}

func (r *Resolver) warn(where string, missing []string) {
	if len(missing) == 0 || r.log == nil {
		return
	}
	r.log.Warn("Unresolved placeholders", map[string]interface{}{
		"target":       where,
		"placeholders": missing,
	})
}
