// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"document-eligibility/internal/common/logger"
	"document-eligibility/internal/engine/extractor"
	"document-eligibility/internal/engine/model"
	"document-eligibility/internal/engine/orchestrator"
	"document-eligibility/internal/engine/rules"
	"document-eligibility/internal/engine/value"

	apperrors "document-eligibility/internal/common/errors"
	commonhttp "document-eligibility/internal/common/http"

	"github.com/google/uuid"
)

// EligibilityResult is returned for every evaluation, including failed ones.
type EligibilityResult struct {
	Included           bool                           `json:"included"`
	CorrelationID      string                         `json:"correlationId"`
	ExtractedVariables map[string]value.Value         `json:"extractedVariables"`
	MatchingCriteria   *MatchingCriteria              `json:"matchingCriteria,omitempty"`
	RuleEvaluation     rules.Evaluation               `json:"ruleEvaluation"`
	ExecutionMetrics   orchestrator.Metrics           `json:"executionMetrics"`
	ValidationErrors   []extractor.ValidationError    `json:"validationErrors"`
	SourceStatus       map[string]orchestrator.Status `json:"sourceStatus,omitempty"`
	FailureReason      string                         `json:"failureReason,omitempty"`
}

// Report describes a finished evaluation to listeners.
type Report struct {
	TemplateID         string
	CorrelationID      string
	Result             *EligibilityResult
	Duration           time.Duration
	SlowThreshold      time.Duration
	ErrorRateThreshold float64
}

// Slow reports whether the evaluation exceeded the configured threshold.
func (r Report) Slow() bool {
	return r.SlowThreshold > 0 && r.Duration > r.SlowThreshold
}

// Listener is notified after every evaluation, e.g. to export metrics,
// write an audit record or raise an alert.
type Listener interface {
	EvaluationFinished(ctx context.Context, report Report)
}

// Engine runs configurations: it fetches and extracts data through the
// orchestrator, then applies the inclusion rules.
type Engine struct {
	orchestrator *orchestrator.Orchestrator
	rules        *rules.Engine
	listeners    []Listener
	log          logger.Logger
	env          func(string) (string, bool)
}

type options struct {
	orchestrator []orchestrator.Option
	listeners    []Listener
	now          func() time.Time
	env          func(string) (string, bool)
}

type Option func(*options)

// WithOrchestratorOptions configures cache, breakers, observer and limits.
func WithOrchestratorOptions(opts ...orchestrator.Option) Option {
	return func(o *options) { o.orchestrator = append(o.orchestrator, opts...) }
}

func WithListener(l Listener) Option {
	return func(o *options) { o.listeners = append(o.listeners, l) }
}

// WithClock fixes "now" for transforms, validations and duration criteria.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithEnv(env func(string) (string, bool)) Option {
	return func(o *options) { o.env = env }
}

func New(transport commonhttp.Transport, log logger.Logger, opts ...Option) *Engine {
	o := &options{now: time.Now, env: os.LookupEnv}
	for _, opt := range opts {
		opt(o)
	}

	orchOpts := append([]orchestrator.Option{
		orchestrator.WithExtractor(extractor.New(log, extractor.WithClock(o.now))),
		orchestrator.WithEnv(o.env),
	}, o.orchestrator...)

	return &Engine{
		orchestrator: orchestrator.New(transport, log, orchOpts...),
		rules:        rules.New(log, rules.WithClock(o.now)),
		listeners:    o.listeners,
		log:          log,
		env:          o.env,
	}
}

// Evaluate decides eligibility for one seed. It never returns an error:
// failures are reported through Included=false and FailureReason.
func (e *Engine) Evaluate(ctx context.Context, cfg *model.ExtractionConfig, seed map[string]any, correlationID string) *EligibilityResult {
	return e.EvaluateTemplate(ctx, "", cfg, seed, correlationID)
}

// EvaluateTemplate is Evaluate with the template id attached to logs and
// reports.
func (e *Engine) EvaluateTemplate(ctx context.Context, templateID string, cfg *model.ExtractionConfig, seed map[string]any, correlationID string) (result *EligibilityResult) {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := logger.WithCorrelationID(e.log, correlationID)
	if templateID != "" {
		log = log.WithFields(map[string]interface{}{"templateId": templateID})
	}

	ec := orchestrator.NewContext(seed, correlationID).WithTemplate(templateID)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Evaluation panicked", map[string]interface{}{
				"panic": fmt.Sprint(rec),
				"stack": string(debug.Stack()),
			})
			result = e.failed(ec, apperrors.NewEvaluationError(fmt.Sprint(rec)))
		}
		e.notify(ctx, templateID, cfg, result, ec.Elapsed())
	}()

	if cfg == nil {
		return e.failed(ec, apperrors.NewInvalidInputError("extraction configuration is required"))
	}
	if err := cfg.Prepare(); err != nil {
		log.Error("Configuration rejected", map[string]interface{}{"error": err.Error()})
		return e.failed(ec, apperrors.NewConfigurationError(err))
	}

	log.Debug("Evaluation started", map[string]interface{}{
		"dataSources": len(cfg.ExtractionStrategy),
		"mode":        string(cfg.ExecutionRules.ExecutionMode),
	})

	out := e.orchestrator.Run(ctx, cfg, ec)
	if out.Aborted {
		return e.aborted(cfg, ec, out, log)
	}

	ev := e.rules.Evaluate(cfg.InclusionRules, ec.Lookup)
	result = &EligibilityResult{
		Included:           ev.Result,
		CorrelationID:      correlationID,
		ExtractedVariables: exposed(cfg, ec),
		MatchingCriteria:   matchingCriteria(cfg, ec.Scope(e.env)),
		RuleEvaluation:     ev,
		ExecutionMetrics:   ec.Metrics(),
		ValidationErrors:   ec.ValidationErrors(),
		SourceStatus:       ec.Statuses(),
	}

	log.Info("Evaluation completed", map[string]interface{}{
		"included":      result.Included,
		"apiCalls":      result.ExecutionMetrics.TotalAPICalls,
		"cacheHits":     result.ExecutionMetrics.CacheHits,
		"executionTime": result.ExecutionMetrics.ExecutionTimeMs,
	})
	return result
}

// aborted builds the result of a run stopped by a failing source, using the
// configured default response.
func (e *Engine) aborted(cfg *model.ExtractionConfig, ec *orchestrator.Context, out orchestrator.Outcome, log logger.Logger) *EligibilityResult {
	reason := failureReason(out.Err)
	switch {
	case out.FailedSource != "":
		reason = fmt.Sprintf("data source %s failed: %s", out.FailedSource, reason)
	case errors.Is(out.Err, context.Canceled), errors.Is(out.Err, context.DeadlineExceeded):
		reason = "evaluation cancelled: " + reason
	}

	result := e.failed(ec, nil)
	result.FailureReason = reason
	result.ExtractedVariables = exposed(cfg, ec)

	for k, v := range cfg.ExecutionRules.ErrorHandling.DefaultResponse {
		if k == "included" {
			b, _ := v.(bool)
			result.Included = b
			continue
		}
		result.ExtractedVariables[k] = value.FromAny(v)
	}
	if result.Included {
		result.MatchingCriteria = matchingCriteria(cfg, ec.Scope(e.env))
	}

	log.Warn("Evaluation aborted", map[string]interface{}{
		"source":   out.FailedSource,
		"reason":   reason,
		"included": result.Included,
	})
	return result
}

func (e *Engine) failed(ec *orchestrator.Context, err error) *EligibilityResult {
	return &EligibilityResult{
		CorrelationID:      ec.CorrelationID(),
		ExtractedVariables: ec.Variables(),
		RuleEvaluation:     rules.Evaluation{MatchedConditions: []rules.Condition{}},
		ExecutionMetrics:   ec.Metrics(),
		ValidationErrors:   ec.ValidationErrors(),
		SourceStatus:       ec.Statuses(),
		FailureReason:      failureReason(err),
	}
}

func (e *Engine) notify(ctx context.Context, templateID string, cfg *model.ExtractionConfig, result *EligibilityResult, elapsed time.Duration) {
	if len(e.listeners) == 0 || result == nil {
		return
	}
	report := Report{
		TemplateID:    templateID,
		CorrelationID: result.CorrelationID,
		Result:        result,
		Duration:      elapsed,
	}
	if cfg != nil {
		report.SlowThreshold = cfg.ExecutionRules.Monitoring.Alerting.SlowRequestThreshold()
		report.ErrorRateThreshold = cfg.ExecutionRules.Monitoring.Alerting.ErrorRateThreshold
	}
	for _, l := range e.listeners {
		l.EvaluationFinished(ctx, report)
	}
}

func failureReason(err error) string {
	if err == nil {
		return ""
	}
	if stdErr, ok := apperrors.As(err); ok {
		if stdErr.Details != "" {
			return fmt.Sprintf("%s: %s (%s)", stdErr.Code, stdErr.Message, stdErr.Details)
		}
		return fmt.Sprintf("%s: %s", stdErr.Code, stdErr.Message)
	}
	return err.Error()
}
