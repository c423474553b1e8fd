// internal/engine/jsonpath/eval.go
package jsonpath

import (
	"strings"

	"document-eligibility/internal/engine/value"
)

// Find evaluates the path against doc. It reports false when nothing
// matched, or when a definite path resolved to an explicit null.
func (p *Path) Find(doc value.Value) (value.Value, bool) {
	nodes := []value.Value{doc}
	for _, s := range p.steps {
		var next []value.Value
		for _, n := range nodes {
			next = s.apply(n, next)
		}
		if len(next) == 0 {
			return value.Null(), false
		}
		nodes = next
	}

	if p.definite {
		if nodes[0].IsNull() {
			return value.Null(), false
		}
		return nodes[0], true
	}
	return value.Array(nodes), true
}

func (s step) apply(n value.Value, out []value.Value) []value.Value {
	switch s.kind {
	case stepMember:
		if child, ok := n.Field(s.name); ok {
			out = append(out, child)
		}
	case stepIndex:
		items := n.Items()
		i := s.index
		if i < 0 {
			i += len(items)
		}
		if i >= 0 && i < len(items) {
			out = append(out, items[i])
		}
	case stepWildcard:
		out = append(out, children(n)...)
	case stepDescend:
		out = descend(n, s.name, out)
	case stepFilter:
		switch n.Kind() {
		case value.KindArray:
			for _, item := range n.Items() {
				if s.filter.match(item) {
					out = append(out, item)
				}
			}
		case value.KindObject:
			if s.filter.match(n) {
				out = append(out, n)
			}
		}
	}
	return out
}

// children lists object members in key order so that results are stable.
func children(n value.Value) []value.Value {
	switch n.Kind() {
	case value.KindArray:
		return n.Items()
	case value.KindObject:
		keys := n.Keys()
		out := make([]value.Value, 0, len(keys))
		for _, k := range keys {
			child, _ := n.Field(k)
			out = append(out, child)
		}
		return out
	default:
		return nil
	}
}

// descend collects every descendant of n named name, or every descendant
// when name is empty, in document order.
func descend(n value.Value, name string, out []value.Value) []value.Value {
	switch n.Kind() {
	case value.KindObject:
		for _, k := range n.Keys() {
			child, _ := n.Field(k)
			if name == "" || k == name {
				out = append(out, child)
			}
			out = descend(child, name, out)
		}
	case value.KindArray:
		for _, item := range n.Items() {
			if name == "" {
				out = append(out, item)
			}
			out = descend(item, name, out)
		}
	}
	return out
}

func (f *filter) match(item value.Value) bool {
	actual, ok := item, true
	for _, name := range f.field {
		actual, ok = actual.Field(name)
		if !ok {
			return false
		}
	}

	if f.op == "" {
		return !actual.IsNull()
	}
	if actual.IsNull() || f.literal.IsNull() {
		same := actual.IsNull() && f.literal.IsNull()
		switch f.op {
		case "==":
			return same
		case "!=":
			return !same
		default:
			return false
		}
	}

	c, comparable := compareValues(actual, f.literal)
	switch f.op {
	case "==":
		return comparable && c == 0
	case "!=":
		return !comparable || c != 0
	case "<":
		return comparable && c < 0
	case "<=":
		return comparable && c <= 0
	case ">":
		return comparable && c > 0
	case ">=":
		return comparable && c >= 0
	default:
		return false
	}
}

func compareValues(a, b value.Value) (int, bool) {
	if a.Kind() == value.KindNumber || b.Kind() == value.KindNumber {
		da, okA := a.Decimal()
		db, okB := b.Decimal()
		if !okA || !okB {
			return 0, false
		}
		return da.Cmp(db), true
	}
	return strings.Compare(a.String(), b.String()), true
}
