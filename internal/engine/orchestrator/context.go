// internal/engine/orchestrator/context.go
package orchestrator

import (
	"strings"
	"sync"
	"time"

	"document-eligibility/internal/engine/extractor"
	"document-eligibility/internal/engine/model"
	"document-eligibility/internal/engine/placeholder"
	"document-eligibility/internal/engine/value"
)

// Status is the outcome recorded for a data source.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Metrics are the counters reported with every result.
type Metrics struct {
	TotalAPICalls       int      `json:"totalApiCalls"`
	CacheHits           int      `json:"cacheHits"`
	CacheMisses         int      `json:"cacheMisses"`
	ExecutionTimeMs     int64    `json:"executionTimeMs"`
	DataSourcesExecuted []string `json:"dataSourcesExecuted"`
}

// Context is the state of one evaluation. It is owned by a single
// evaluation; the mutex serializes writers when sources run in parallel.
type Context struct {
	mu sync.Mutex

	correlationID string
	template      string
	seed          map[string]value.Value
	variables     map[string]value.Value
	bySource      map[string]map[string]value.Value
	status        map[string]Status
	executed      []string
	errors        map[string]error
	validation    []extractor.ValidationError

	cacheHits     int
	cacheMisses   int
	totalAPICalls int
	started       time.Time
}

// NewContext seeds a context with the caller's identifiers.
func NewContext(seed map[string]any, correlationID string) *Context {
	c := &Context{
		correlationID: correlationID,
		seed:          make(map[string]value.Value, len(seed)),
		variables:     make(map[string]value.Value),
		bySource:      make(map[string]map[string]value.Value),
		status:        make(map[string]Status),
		errors:        make(map[string]error),
		started:       time.Now(),
	}
	for k, v := range seed {
		c.seed[k] = value.FromAny(v)
	}
	return c
}

func (c *Context) CorrelationID() string { return c.correlationID }

// WithTemplate names the template being evaluated. It must be called
// before the context is handed to Run.
func (c *Context) WithTemplate(templateID string) *Context {
	c.template = templateID
	return c
}

func (c *Context) Template() string { return c.template }

// Lookup resolves a name for rules and transforms: $input. references read
// the seed, other names read extracted variables and then the seed.
func (c *Context) Lookup(name string) (value.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rest, ok := inputName(name); ok {
		v, found := c.seed[rest]
		return v, found && !v.IsNull()
	}
	if v, ok := c.variables[name]; ok && !v.IsNull() {
		return v, true
	}
	v, ok := c.seed[name]
	return v, ok && !v.IsNull()
}

func inputName(name string) (string, bool) {
	if strings.HasPrefix(name, model.InputPrefix) {
		return strings.TrimPrefix(name, model.InputPrefix), true
	}
	if strings.HasPrefix(name, "input.") {
		return strings.TrimPrefix(name, "input."), true
	}
	return "", false
}

// Scope snapshots the context for placeholder resolution, so templates are
// expanded without holding the lock.
func (c *Context) Scope(env func(string) (string, bool)) placeholder.Scope {
	c.mu.Lock()
	defer c.mu.Unlock()

	vars := make(map[string]value.Value, len(c.variables))
	for k, v := range c.variables {
		vars[k] = v
	}
	bySource := make(map[string]map[string]value.Value, len(c.bySource))
	for k, v := range c.bySource {
		bySource[k] = v
	}
	return placeholder.Scope{
		Variables:     vars,
		Seed:          c.seed,
		BySource:      bySource,
		CorrelationID: c.correlationID,
		Env:           env,
	}
}

// Merge writes a source's fields into the context. Later writers win.
func (c *Context) Merge(source string, fields map[string]value.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()

	own := make(map[string]value.Value, len(fields))
	for k, v := range fields {
		c.variables[k] = v
		own[k] = v
	}
	c.bySource[source] = own
}

// Set writes a single variable.
func (c *Context) Set(name string, v value.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[name] = v
}

// Variables returns a copy of every extracted variable.
func (c *Context) Variables() map[string]value.Value {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]value.Value, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}

// SourceFields returns the fields a source produced.
func (c *Context) SourceFields(source string) map[string]value.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bySource[source]
}

// Record stores a source's outcome. Skipped sources are not counted as
// executed.
func (c *Context) Record(source string, status Status, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.status[source] = status
	if err != nil {
		c.errors[source] = err
	}
	if status != StatusSkipped {
		c.executed = append(c.executed, source)
	}
}

// Status returns the recorded outcome of a source.
func (c *Context) Status(source string) (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.status[source]
	return s, ok
}

// Statuses returns a copy of every recorded outcome.
func (c *Context) Statuses() map[string]Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]Status, len(c.status))
	for k, v := range c.status {
		out[k] = v
	}
	return out
}

// Err returns the error recorded for a failed source.
func (c *Context) Err(source string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors[source]
}

func (c *Context) AddValidationErrors(errs []extractor.ValidationError) {
	if len(errs) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validation = append(c.validation, errs...)
}

func (c *Context) ValidationErrors() []extractor.ValidationError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]extractor.ValidationError{}, c.validation...)
}

func (c *Context) cacheHit() {
	c.mu.Lock()
	c.cacheHits++
	c.mu.Unlock()
}

func (c *Context) cacheMiss() {
	c.mu.Lock()
	c.cacheMisses++
	c.mu.Unlock()
}

func (c *Context) apiCall() {
	c.mu.Lock()
	c.totalAPICalls++
	c.mu.Unlock()
}

// Elapsed is the time since the context was created.
func (c *Context) Elapsed() time.Duration {
	return time.Since(c.started)
}

// Metrics snapshots the counters.
func (c *Context) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Metrics{
		TotalAPICalls:       c.totalAPICalls,
		CacheHits:           c.cacheHits,
		CacheMisses:         c.cacheMisses,
		ExecutionTimeMs:     time.Since(c.started).Milliseconds(),
		DataSourcesExecuted: append([]string{}, c.executed...),
	}
}
