// internal/engine/model/prepare.go
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"document-eligibility/internal/engine/jsonpath"
	"document-eligibility/internal/engine/operator"
	"document-eligibility/internal/engine/value"
)

const (
	DefaultTimeoutMs        = 5000
	DefaultCacheTTLSeconds  = 3600
	DefaultMaxAttempts      = 3
	DefaultInitialDelayMs   = 100
	DefaultMaxDelayMs       = 2000
	DefaultFailureThreshold = 5
	DefaultResetTimeoutMs   = 60000
	DefaultHalfOpenRequests = 3
	DefaultSlowRequestMs    = 3000
	DefaultErrorRate        = 0.05

	// InputPrefix marks a reference to a seed identifier.
	InputPrefix = "$input."
)

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
	http.MethodHead:   true,
}

var validationTypes = map[string]bool{
	"": true, "string": true, "number": true, "integer": true, "boolean": true,
	"date": true, "array": true, "object": true,
}

// Parse checks the document against the configuration schema, decodes it
// keeping numbers exact, and prepares it.
func Parse(data []byte) (*ExtractionConfig, error) {
	result, err := documentSchema.ValidateBytes(data)
	if err != nil {
		return nil, &ConfigurationError{Problems: []string{err.Error()}}
	}
	if !result.Valid {
		return nil, &ConfigurationError{Problems: result.GetErrorMessages()}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var cfg ExtractionConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, &ConfigurationError{Problems: []string{fmt.Sprintf("decode: %v", err)}}
	}

	if err := cfg.Prepare(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Prepare applies defaults, validates references and the dependency graph,
// and compiles operators, patterns, paths and condition expressions. It is
// the single load-time pass; a configuration that fails it must not run.
// Prepare runs once per configuration and is safe for concurrent callers;
// later calls return the first result.
func (c *ExtractionConfig) Prepare() error {
	c.once.Do(func() {
		c.prepareErr = c.prepare()
		c.prepared.Store(c.prepareErr == nil)
	})
	return c.prepareErr
}

func (c *ExtractionConfig) prepare() error {
	problems := &ConfigurationError{}

	c.applyExecutionDefaults(problems)

	c.sources = make(map[string]*DataSourceConfig, len(c.ExtractionStrategy))
	c.targets = make(map[string]bool)
	produced := make(map[string]bool)

	for i, ds := range c.ExtractionStrategy {
		if ds == nil {
			problems.add("extractionStrategy[%d]: empty data source", i)
			continue
		}
		if ds.ID == "" {
			problems.add("extractionStrategy[%d]: missing id", i)
			continue
		}
		if _, dup := c.sources[ds.ID]; dup {
			problems.add("data source %q: duplicate id", ds.ID)
			continue
		}
		c.sources[ds.ID] = ds
		prepareSource(ds, problems)

		for field := range ds.ResponseMapping.Extract {
			produced[field] = true
		}
		for field := range ds.ResponseMapping.Transform {
			produced[field] = true
		}
		if a := ds.ErrorHandling.On404; a != nil {
			for field := range a.DefaultValue {
				produced[field] = true
			}
		}
	}

	for _, ds := range c.ExtractionStrategy {
		if ds == nil || c.sources[ds.ID] != ds {
			continue
		}
		for _, dep := range ds.Dependencies {
			if dep == ds.ID {
				problems.add("data source %q: depends on itself", ds.ID)
			} else if _, ok := c.sources[dep]; !ok {
				problems.add("data source %q: unknown dependency %q", ds.ID, dep)
			}
		}
		for j, nc := range ds.NextCalls {
			if nc == nil {
				problems.add("data source %q: nextCalls[%d] is empty", ds.ID, j)
				continue
			}
			if _, ok := c.sources[nc.TargetDataSource]; !ok {
				problems.add("data source %q: nextCalls[%d] targets unknown data source %q", ds.ID, j, nc.TargetDataSource)
			} else if nc.TargetDataSource == ds.ID {
				problems.add("data source %q: nextCalls[%d] targets itself", ds.ID, j)
			} else {
				c.targets[nc.TargetDataSource] = true
			}
			if nc.DependsOn != "" {
				if _, ok := c.sources[nc.DependsOn]; !ok {
					problems.add("data source %q: nextCalls[%d] dependsOn unknown data source %q", ds.ID, j, nc.DependsOn)
				}
			}
			if nc.Condition != nil {
				if err := nc.Condition.compile(); err != nil {
					problems.add("data source %q: nextCalls[%d]: %v", ds.ID, j, err)
				}
			}
		}
	}

	if len(problems.Problems) == 0 {
		if cycle := c.findCycle(); cycle != nil {
			problems.add("dependency cycle: %s", strings.Join(cycle, " -> "))
		}
	}

	if c.InclusionRules != nil {
		prepareRule(c.InclusionRules, "inclusionRules", produced, map[*ExtractionRule]bool{}, problems)
	}

	if m := c.DocumentMatchingStrategy; m != nil {
		switch m.MatchBy {
		case MatchByReferenceKey, MatchByMetadata, MatchByTemplateOnly:
		default:
			problems.add("documentMatchingStrategy: unsupported matchBy %q", m.MatchBy)
		}
	}

	return problems.orNil()
}

func (c *ExtractionConfig) applyExecutionDefaults(problems *ConfigurationError) {
	r := &c.ExecutionRules

	switch r.ExecutionMode {
	case "":
		r.ExecutionMode = ModeSequential
	case ModeSequential, ModeParallel:
	default:
		problems.add("executionRules: unsupported executionMode %q", r.ExecutionMode)
	}

	switch r.ErrorHandling.Strategy {
	case "":
		r.ErrorHandling.Strategy = StrategyFailFast
	case StrategyFailFast, StrategyContinueOnError:
	default:
		problems.add("executionRules: unsupported error strategy %q", r.ErrorHandling.Strategy)
	}

	cb := &r.CircuitBreaker
	if cb.FailureThreshold <= 0 {
		cb.FailureThreshold = DefaultFailureThreshold
	}
	if cb.ResetTimeoutMs <= 0 {
		cb.ResetTimeoutMs = DefaultResetTimeoutMs
	}
	if cb.HalfOpenRequests <= 0 {
		cb.HalfOpenRequests = DefaultHalfOpenRequests
	}

	al := &r.Monitoring.Alerting
	if al.SlowRequestThresholdMs <= 0 {
		al.SlowRequestThresholdMs = DefaultSlowRequestMs
	}
	if al.ErrorRateThreshold <= 0 {
		al.ErrorRateThreshold = DefaultErrorRate
	}
}

func prepareSource(ds *DataSourceConfig, problems *ConfigurationError) {
	ep := &ds.Endpoint
	if strings.TrimSpace(ep.URL) == "" {
		problems.add("data source %q: endpoint url is required", ds.ID)
	}
	ep.Method = strings.ToUpper(strings.TrimSpace(ep.Method))
	if ep.Method == "" {
		ep.Method = http.MethodGet
	}
	if !allowedMethods[ep.Method] {
		problems.add("data source %q: unsupported method %q", ds.ID, ep.Method)
	}
	if ep.TimeoutMs <= 0 {
		ep.TimeoutMs = DefaultTimeoutMs
	}

	if ep.RetryPolicy == nil {
		ep.RetryPolicy = &RetryPolicy{MaxAttempts: 1, BackoffStrategy: BackoffFixed}
	} else {
		rp := ep.RetryPolicy
		if rp.MaxAttempts <= 0 {
			rp.MaxAttempts = DefaultMaxAttempts
		}
		rp.BackoffStrategy = BackoffStrategy(strings.ToLower(string(rp.BackoffStrategy)))
		switch rp.BackoffStrategy {
		case "":
			rp.BackoffStrategy = BackoffExponential
		case BackoffFixed, BackoffLinear, BackoffExponential:
		default:
			problems.add("data source %q: unsupported backoffStrategy %q", ds.ID, rp.BackoffStrategy)
		}
		if rp.InitialDelayMs <= 0 {
			rp.InitialDelayMs = DefaultInitialDelayMs
		}
		if rp.MaxDelayMs <= 0 {
			rp.MaxDelayMs = DefaultMaxDelayMs
		}
	}

	if ds.Cache.TTLSeconds <= 0 {
		ds.Cache.TTLSeconds = DefaultCacheTTLSeconds
	}
	if ds.Cache.Enabled && ds.Cache.KeyPattern == "" {
		ds.Cache.KeyPattern = ds.ID + ":" + ep.URL
	}

	eh := &ds.ErrorHandling
	switch eh.OnExtractionFailure {
	case "":
		eh.OnExtractionFailure = PolicyInclude
	case PolicyExclude, PolicyInclude, PolicyUseCache:
	default:
		problems.add("data source %q: unsupported onExtractionFailure %q", ds.ID, eh.OnExtractionFailure)
	}
	for name, action := range map[string]*ErrorAction{"on404": eh.On404, "onValidationError": eh.OnValidationError} {
		if action == nil {
			continue
		}
		switch action.Action {
		case ActionFail, ActionReturnDefault, ActionLog:
		default:
			problems.add("data source %q: %s has unsupported action %q", ds.ID, name, action.Action)
		}
	}

	rm := &ds.ResponseMapping
	rm.paths = make(map[string]*jsonpath.Path, len(rm.Extract))
	for _, field := range sortedKeys(rm.Extract) {
		p, err := jsonpath.Compile(rm.Extract[field])
		if err != nil {
			problems.add("data source %q: extract %q: %v", ds.ID, field, err)
			continue
		}
		rm.paths[field] = p
	}
	for field, t := range rm.Transform {
		prepareTransform(ds.ID, field, t, problems)
	}
	for field, v := range rm.Validate {
		if v == nil {
			problems.add("data source %q: validate %q is empty", ds.ID, field)
			continue
		}
		if !validationTypes[v.Type] {
			problems.add("data source %q: validate %q: unsupported type %q", ds.ID, field, v.Type)
		}
		if v.Pattern != "" {
			re, err := operator.CompilePattern(v.Pattern)
			if err != nil {
				problems.add("data source %q: validate %q: %v", ds.ID, field, err)
			}
			v.pattern = re
		}
	}
}

func prepareTransform(id, field string, t *TransformSpec, problems *ConfigurationError) {
	if t == nil {
		problems.add("data source %q: transform %q is empty", id, field)
		return
	}
	switch t.Type {
	case TransformUppercase, TransformLowercase, TransformTrim, TransformCalculateAge, TransformSelectFirst:
	case TransformAgeGroup, TransformBalanceTier, TransformClassification, TransformTier:
		ranges := t.Ranges()
		if len(ranges) == 0 {
			problems.add("data source %q: transform %q: %s needs classifications or tiers", id, field, t.Type)
		}
		for i, r := range ranges {
			for _, bound := range []any{r.Min, r.Max} {
				if bound == nil {
					continue
				}
				if _, ok := value.FromAny(bound).Decimal(); !ok {
					problems.add("data source %q: transform %q: range %d bound %v is not numeric", id, field, i, bound)
				}
			}
		}
	default:
		problems.add("data source %q: transform %q: unsupported type %q", id, field, t.Type)
	}
}

func prepareRule(r *ExtractionRule, at string, produced map[string]bool, path map[*ExtractionRule]bool, problems *ConfigurationError) {
	if r == nil {
		problems.add("%s: empty rule", at)
		return
	}
	if path[r] {
		problems.add("%s: rule tree contains a cycle", at)
		return
	}
	path[r] = true
	defer delete(path, r)

	if r.IsComposite() {
		r.LogicOperator = strings.ToUpper(strings.TrimSpace(r.LogicOperator))
		if r.LogicOperator == "" {
			r.LogicOperator = LogicAnd
		}
		if r.LogicOperator != LogicAnd && r.LogicOperator != LogicOr {
			problems.add("%s: unsupported logicOperator %q", at, r.LogicOperator)
		}
		for i, child := range r.Rules {
			prepareRule(child, fmt.Sprintf("%s.rules[%d]", at, i), produced, path, problems)
		}
		return
	}

	for _, field := range sortedKeys(r.EligibilityCriteria) {
		cr := r.EligibilityCriteria[field]
		where := fmt.Sprintf("%s.eligibilityCriteria.%s", at, field)
		if cr == nil {
			problems.add("%s: empty criterion", where)
			continue
		}
		crit, err := operator.Compile(cr.spec())
		if err != nil {
			problems.add("%s: %v", where, err)
			continue
		}
		if crit.CompareField != "" && !produced[crit.CompareField] && !isInputReference(crit.CompareField) {
			problems.add("%s: compareField %q is not produced by any data source", where, crit.CompareField)
		}
		cr.criterion = crit
	}
}

func isInputReference(name string) bool {
	return strings.HasPrefix(name, InputPrefix) || strings.HasPrefix(name, "input.")
}

// findCycle looks for a cycle over dependency and nextCall edges and
// returns it as a list of ids, first id repeated at the end.
func (c *ExtractionConfig) findCycle() []string {
	edges := make(map[string][]string, len(c.sources))
	for _, ds := range c.ExtractionStrategy {
		for _, dep := range ds.Dependencies {
			edges[dep] = append(edges[dep], ds.ID)
		}
		for _, nc := range ds.NextCalls {
			edges[ds.ID] = append(edges[ds.ID], nc.TargetDataSource)
			if nc.DependsOn != "" && nc.DependsOn != ds.ID {
				edges[nc.DependsOn] = append(edges[nc.DependsOn], nc.TargetDataSource)
			}
		}
	}

	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(c.sources))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, next := range edges[id] {
			switch color[next] {
			case grey:
				for i, s := range stack {
					if s == next {
						cycle = append(append([]string{}, stack[i:]...), next)
						break
					}
				}
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, ds := range c.ExtractionStrategy {
		if color[ds.ID] == white && visit(ds.ID) {
			return cycle
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Prepared reports whether Prepare succeeded on this configuration.
func (c *ExtractionConfig) Prepared() bool { return c.prepared.Load() }

// Source returns the data source with the given id.
func (c *ExtractionConfig) Source(id string) (*DataSourceConfig, bool) {
	ds, ok := c.sources[id]
	return ds, ok
}

// IsConditional reports whether a source only runs when a nextCall
// condition enables it.
func (c *ExtractionConfig) IsConditional(id string) bool {
	return c.targets[id]
}
