// internal/engine/model/types.go
package model

import (
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"document-eligibility/internal/engine/jsonpath"
	"document-eligibility/internal/engine/operator"

	"github.com/google/cel-go/cel"
)

// ExtractionConfig is the declarative description of one document's
// eligibility: which sources to call, what to extract, and which rules
// decide inclusion. It is immutable once prepared.
type ExtractionConfig struct {
	DocumentMatchingStrategy *MatchingStrategy  `json:"documentMatchingStrategy,omitempty"`
	ExtractionStrategy       []*DataSourceConfig `json:"extractionStrategy"`
	InclusionRules           *ExtractionRule     `json:"inclusionRules,omitempty"`
	OutputMapping            *OutputMapping      `json:"outputMapping,omitempty"`
	ExecutionRules           ExecutionRules      `json:"executionRules"`

	sources map[string]*DataSourceConfig
	targets map[string]bool

	once       sync.Once
	prepareErr error
	prepared   atomic.Bool
}

type MatchingStrategy struct {
	MatchBy          string            `json:"matchBy"`
	ReferenceKeyType string            `json:"referenceKeyType,omitempty"`
	MetadataFields   map[string]string `json:"metadataFields,omitempty"`
}

const (
	MatchByReferenceKey = "reference_key"
	MatchByMetadata     = "metadata"
	MatchByTemplateOnly = "template_only"
)

type OutputMapping struct {
	DocumentReferenceKey string            `json:"documentReferenceKey,omitempty"`
	DocumentMetadata     map[string]string `json:"documentMetadata,omitempty"`
}

// DataSourceConfig is one external call plus the handling of its response.
type DataSourceConfig struct {
	ID              string          `json:"id"`
	Description     string          `json:"description,omitempty"`
	Endpoint        EndpointConfig  `json:"endpoint"`
	Cache           CacheConfig     `json:"cache"`
	ResponseMapping ResponseMapping `json:"responseMapping"`
	Dependencies    []string        `json:"dependencies,omitempty"`
	NextCalls       []*NextCall     `json:"nextCalls,omitempty"`
	ErrorHandling   ErrorHandling   `json:"errorHandling"`
}

type EndpointConfig struct {
	URL         string            `json:"url"`
	Method      string            `json:"method,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	QueryParams map[string]string `json:"queryParams,omitempty"`
	Body        any               `json:"body,omitempty"`
	TimeoutMs   int               `json:"timeout,omitempty"`
	RetryPolicy *RetryPolicy      `json:"retryPolicy,omitempty"`
}

func (e EndpointConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutMs) * time.Millisecond
}

type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

type RetryPolicy struct {
	MaxAttempts     int             `json:"maxAttempts,omitempty"`
	BackoffStrategy BackoffStrategy `json:"backoffStrategy,omitempty"`
	InitialDelayMs  int             `json:"initialDelayMs,omitempty"`
	MaxDelayMs      int             `json:"maxDelayMs,omitempty"`
	RetryOn         []int           `json:"retryOn,omitempty"`
}

func (p RetryPolicy) InitialDelay() time.Duration {
	return time.Duration(p.InitialDelayMs) * time.Millisecond
}

func (p RetryPolicy) MaxDelay() time.Duration {
	return time.Duration(p.MaxDelayMs) * time.Millisecond
}

// RetriesStatus reports whether a response with this status may be retried.
func (p RetryPolicy) RetriesStatus(status int) bool {
	for _, code := range p.RetryOn {
		if code == status {
			return true
		}
	}
	return false
}

type CacheConfig struct {
	Enabled      bool     `json:"enabled"`
	TTLSeconds   int      `json:"ttl,omitempty"`
	KeyPattern   string   `json:"keyPattern,omitempty"`
	InvalidateOn []string `json:"invalidateOn,omitempty"`
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type ResponseMapping struct {
	Extract      map[string]string          `json:"extract,omitempty"`
	Transform    map[string]*TransformSpec  `json:"transform,omitempty"`
	Validate     map[string]*ValidationSpec `json:"validate,omitempty"`
	ReturnFields []string                   `json:"returnFields,omitempty"`

	paths map[string]*jsonpath.Path
}

// Path returns the compiled expression for an extracted field.
func (m *ResponseMapping) Path(field string) (*jsonpath.Path, error) {
	if p, ok := m.paths[field]; ok {
		return p, nil
	}
	return jsonpath.Compile(m.Extract[field])
}

// TransformSpec derives a field from an extracted one. The input is
// SourceField (or Source), falling back to the field itself.
type TransformSpec struct {
	Type            string        `json:"type"`
	SourceField     string        `json:"sourceField,omitempty"`
	Source          string        `json:"source,omitempty"`
	Sources         []string      `json:"sources,omitempty"`
	Fallback        any           `json:"fallback,omitempty"`
	Classifications []TierMapping `json:"classifications,omitempty"`
	Tiers           []TierMapping `json:"tiers,omitempty"`
}

// Input names the field a transform reads.
func (t *TransformSpec) Input(field string) string {
	switch {
	case t.SourceField != "":
		return t.SourceField
	case t.Source != "":
		return t.Source
	default:
		return field
	}
}

// Ranges returns the classification buckets regardless of which key the
// document used for them.
func (t *TransformSpec) Ranges() []TierMapping {
	if len(t.Classifications) > 0 {
		return t.Classifications
	}
	return t.Tiers
}

type TierMapping struct {
	Min   any    `json:"min,omitempty"`
	Max   any    `json:"max,omitempty"`
	Value string `json:"value"`
}

const (
	TransformUppercase      = "uppercase"
	TransformLowercase      = "lowercase"
	TransformTrim           = "trim"
	TransformCalculateAge   = "calculateAge"
	TransformAgeGroup       = "ageGroupClassification"
	TransformBalanceTier    = "balanceTierClassification"
	TransformClassification = "classification"
	TransformTier           = "tierClassification"
	TransformSelectFirst    = "selectFirst"
)

type ValidationSpec struct {
	Type             string   `json:"type,omitempty"`
	Required         bool     `json:"required,omitempty"`
	Pattern          string   `json:"pattern,omitempty"`
	EnumValues       []string `json:"enumValues,omitempty"`
	Min              any      `json:"min,omitempty"`
	Max              any      `json:"max,omitempty"`
	ValidateInPast   bool     `json:"validateInPast,omitempty"`
	ValidateInFuture bool     `json:"validateInFuture,omitempty"`
	ErrorMessage     string   `json:"errorMessage,omitempty"`

	pattern *regexp.Regexp
}

// CompiledPattern returns the anchored pattern prepared at load time.
func (v *ValidationSpec) CompiledPattern() (*regexp.Regexp, error) {
	if v.pattern != nil || v.Pattern == "" {
		return v.pattern, nil
	}
	return operator.CompilePattern(v.Pattern)
}

// NextCall is a conditional edge to another data source.
type NextCall struct {
	Condition        *Condition `json:"condition,omitempty"`
	DependsOn        string     `json:"dependsOn,omitempty"`
	TargetDataSource string     `json:"targetDataSource"`
}

// Condition is either a field/operator/value test or a CEL expression over
// the map `vars`.
type Condition struct {
	Field      string `json:"field,omitempty"`
	Operator   string `json:"operator,omitempty"`
	Value      any    `json:"value,omitempty"`
	Expression string `json:"expression,omitempty"`

	program   cel.Program
	criterion *operator.Criterion
}

type FailurePolicy string

const (
	PolicyExclude  FailurePolicy = "exclude"
	PolicyInclude  FailurePolicy = "include"
	PolicyUseCache FailurePolicy = "use_cache"
)

type ErrorHandling struct {
	OnExtractionFailure FailurePolicy `json:"onExtractionFailure,omitempty"`
	On404               *ErrorAction  `json:"on404,omitempty"`
	OnValidationError   *ErrorAction  `json:"onValidationError,omitempty"`
}

const (
	ActionFail          = "fail"
	ActionReturnDefault = "return-default"
	ActionLog           = "log"
)

type ErrorAction struct {
	Action       string         `json:"action"`
	DefaultValue map[string]any `json:"defaultValue,omitempty"`
	Message      string         `json:"message,omitempty"`
	Severity     string         `json:"severity,omitempty"`
}

type ExecutionMode string

const (
	ModeSequential ExecutionMode = "sequential"
	ModeParallel   ExecutionMode = "parallel"
)

const (
	StrategyFailFast        = "fail-fast"
	StrategyContinueOnError = "continue-on-error"
)

type ExecutionRules struct {
	ExecutionMode  ExecutionMode          `json:"executionMode,omitempty"`
	StopOnError    *bool                  `json:"stopOnError,omitempty"`
	ErrorHandling  ExecutionErrorHandling `json:"errorHandling"`
	CircuitBreaker CircuitBreakerConfig   `json:"circuitBreaker"`
	Monitoring     MonitoringConfig       `json:"monitoring"`
}

// AbortsOnFailure reports whether a failed exclude-policy source stops the
// whole evaluation.
func (r ExecutionRules) AbortsOnFailure() bool {
	stop := r.StopOnError == nil || *r.StopOnError
	return stop && r.ErrorHandling.Strategy != StrategyContinueOnError
}

type ExecutionErrorHandling struct {
	Strategy        string         `json:"strategy,omitempty"`
	DefaultResponse map[string]any `json:"defaultResponse,omitempty"`
}

type CircuitBreakerConfig struct {
	Enabled          bool `json:"enabled"`
	FailureThreshold int  `json:"failureThreshold,omitempty"`
	ResetTimeoutMs   int  `json:"resetTimeoutMs,omitempty"`
	HalfOpenRequests int  `json:"halfOpenRequests,omitempty"`
}

func (c CircuitBreakerConfig) ResetTimeout() time.Duration {
	return time.Duration(c.ResetTimeoutMs) * time.Millisecond
}

type MonitoringConfig struct {
	Alerting AlertingConfig `json:"alerting"`
}

type AlertingConfig struct {
	SlowRequestThresholdMs int     `json:"slowRequestThresholdMs,omitempty"`
	ErrorRateThreshold     float64 `json:"errorRateThreshold,omitempty"`
}

func (a AlertingConfig) SlowRequestThreshold() time.Duration {
	return time.Duration(a.SlowRequestThresholdMs) * time.Millisecond
}

// ExtractionRule is a node of the inclusion rule tree: a leaf carrying
// eligibilityCriteria or a composite combining child rules.
type ExtractionRule struct {
	RuleType            string                   `json:"ruleType,omitempty"`
	EligibilityCriteria map[string]*CriteriaRule `json:"eligibilityCriteria,omitempty"`
	LogicOperator       string                   `json:"logicOperator,omitempty"`
	Rules               []*ExtractionRule        `json:"rules,omitempty"`
}

const (
	LogicAnd = "AND"
	LogicOr  = "OR"
)

func (r *ExtractionRule) IsComposite() bool {
	return r.LogicOperator != "" || len(r.Rules) > 0 || r.RuleType == "composite"
}

type CriteriaRule struct {
	Operator     string `json:"operator"`
	Value        any    `json:"value,omitempty"`
	Values       []any  `json:"values,omitempty"`
	MinValue     any    `json:"minValue,omitempty"`
	MaxValue     any    `json:"maxValue,omitempty"`
	DataType     string `json:"dataType,omitempty"`
	Unit         string `json:"unit,omitempty"`
	CompareField string `json:"compareField,omitempty"`

	criterion *operator.Criterion
}

func (c *CriteriaRule) spec() operator.Spec {
	return operator.Spec{
		Operator:     c.Operator,
		DataType:     c.DataType,
		Value:        c.Value,
		Values:       c.Values,
		MinValue:     c.MinValue,
		MaxValue:     c.MaxValue,
		Unit:         c.Unit,
		CompareField: c.CompareField,
	}
}

// Compiled returns the criterion prepared at load time. Rules that were
// never prepared are compiled on each call.
func (c *CriteriaRule) Compiled() (*operator.Criterion, error) {
	if c.criterion != nil {
		return c.criterion, nil
	}
	return operator.Compile(c.spec())
}
