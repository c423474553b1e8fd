// internal/engine/extractor/extractor.go
package extractor

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"document-eligibility/internal/common/logger"
	"document-eligibility/internal/engine/model"
	"document-eligibility/internal/engine/value"
)

var ErrMalformedBody = errors.New("response body is not valid JSON")

// Lookup reads a variable already present in the evaluation context.
type Lookup func(name string) (value.Value, bool)

// ValidationError is a failed validation rule. It is reported, not raised.
type ValidationError struct {
	Source  string `json:"source"`
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Result holds the fields one response produced.
type Result struct {
	Fields           map[string]value.Value
	Missing          []string
	ValidationErrors []ValidationError
}

type Extractor struct {
	log logger.Logger
	now func() time.Time
}

type Option func(*Extractor)

// WithClock overrides the clock used by calculateAge and date validations.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

func New(log logger.Logger, opts ...Option) *Extractor {
	e := &Extractor{log: log, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract applies a response mapping to a raw body: path extraction, then
// transforms, then validations. Only a body that is not JSON fails; a path
// that matches nothing leaves the field missing.
func (e *Extractor) Extract(sourceID string, mapping *model.ResponseMapping, body []byte, lookup Lookup) (*Result, error) {
	doc, err := value.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return e.ExtractValue(sourceID, mapping, doc, lookup), nil
}

// ExtractValue is Extract over an already decoded document.
func (e *Extractor) ExtractValue(sourceID string, mapping *model.ResponseMapping, doc value.Value, lookup Lookup) *Result {
	res := &Result{Fields: make(map[string]value.Value, len(mapping.Extract))}
	if lookup == nil {
		lookup = func(string) (value.Value, bool) { return value.Null(), false }
	}

	for _, field := range sortedKeys(mapping.Extract) {
		path, err := mapping.Path(field)
		if err != nil {
			e.log.Warn("Invalid path expression", map[string]interface{}{
				"source": sourceID,
				"field":  field,
				"error":  err.Error(),
			})
			res.Missing = append(res.Missing, field)
			continue
		}
		v, ok := path.Find(doc)
		if !ok {
			e.log.Debug("Path matched nothing", map[string]interface{}{
				"source": sourceID,
				"field":  field,
				"path":   path.String(),
			})
			res.Missing = append(res.Missing, field)
			continue
		}
		res.Fields[field] = v
	}

	get := func(name string) (value.Value, bool) {
		if v, ok := res.Fields[name]; ok && !v.IsNull() {
			return v, true
		}
		return lookup(name)
	}

	for _, field := range sortedKeys(mapping.Transform) {
		spec := mapping.Transform[field]
		out, ok := e.transform(spec, field, get)
		if !ok {
			delete(res.Fields, field)
			continue
		}
		res.Fields[field] = out
	}

	for _, field := range sortedKeys(mapping.Validate) {
		v, ok := res.Fields[field]
		if !ok {
			v = value.Null()
		}
		for _, verr := range e.validate(field, mapping.Validate[field], v) {
			verr.Source = sourceID
			res.ValidationErrors = append(res.ValidationErrors, verr)
		}
	}

	if len(res.ValidationErrors) > 0 {
		e.log.Warn("Validation failed", map[string]interface{}{
			"source": sourceID,
			"errors": len(res.ValidationErrors),
		})
	}
	return res
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
