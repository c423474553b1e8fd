// internal/engine/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"document-eligibility/internal/common/logger"
	"document-eligibility/internal/engine/breaker"
	"document-eligibility/internal/engine/cache"
	"document-eligibility/internal/engine/extractor"
	"document-eligibility/internal/engine/model"
	"document-eligibility/internal/engine/placeholder"
	"document-eligibility/internal/engine/retry"

	commonhttp "document-eligibility/internal/common/http"
)

// Observer receives per-source events, e.g. to export metrics.
type Observer interface {
	SourceCall(source, outcome string, elapsed time.Duration)
	CacheLookup(source string, hit bool)
	RetryAttempt(source string)
}

type nopObserver struct{}

func (nopObserver) SourceCall(string, string, time.Duration) {}
func (nopObserver) CacheLookup(string, bool) {}
func (nopObserver) RetryAttempt(string) {}

// Source call outcomes reported to the Observer.
const (
	OutcomeSuccess = "success"
	OutcomeCache   = "cache"
	OutcomeStale   = "stale"
	OutcomeDefault = "default"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Orchestrator runs the data sources of one configuration against a
// context. It is safe for concurrent evaluations; all per-evaluation state
// lives in the Context.
type Orchestrator struct {
	transport   commonhttp.Transport
	cache       cache.Gateway
	breakers    *breaker.Registry
	retry       *retry.Executor
	extractor   *extractor.Extractor
	observer    Observer
	log         logger.Logger
	env         func(string) (string, bool)
	maxParallel int
	retryOpts   []retry.Option
}

type Option func(*Orchestrator)

func WithCache(g cache.Gateway) Option {
	return func(o *Orchestrator) { o.cache = g }
}

func WithBreakers(r *breaker.Registry) Option {
	return func(o *Orchestrator) { o.breakers = r }
}

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

func WithExtractor(e *extractor.Extractor) Option {
	return func(o *Orchestrator) { o.extractor = e }
}

// WithEnv replaces the environment used by ${env.NAME} placeholders.
func WithEnv(env func(string) (string, bool)) Option {
	return func(o *Orchestrator) { o.env = env }
}

// WithMaxParallel bounds concurrent calls within one parallel level.
// Zero means unbounded.
func WithMaxParallel(n int) Option {
	return func(o *Orchestrator) { o.maxParallel = n }
}

// WithRetryOptions passes options to the retry executor.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(o *Orchestrator) { o.retryOpts = append(o.retryOpts, opts...) }
}

func New(transport commonhttp.Transport, log logger.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		transport: transport,
		cache:     cache.Nop{},
		observer:  nopObserver{},
		log:       log,
		env:       os.LookupEnv,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.breakers == nil {
		o.breakers = breaker.NewRegistry(log, nil)
	}
	if o.extractor == nil {
		o.extractor = extractor.New(log)
	}
	observer := o.observer
	o.retry = retry.NewExecutor(log, append([]retry.Option{
		retry.OnRetry(func(source string, _ int) { observer.RetryAttempt(source) }),
	}, o.retryOpts...)...)
	return o
}

// Outcome reports how a run ended.
type Outcome struct {
	Aborted      bool
	FailedSource string
	Err          error
}

// run carries the state of one Run call.
type run struct {
	cfg      *model.ExtractionConfig
	ec       *Context
	log      logger.Logger
	resolver *placeholder.Resolver

	// breakerScope keeps breakers of different templates apart.
	breakerScope string

	enabled map[string]bool
	gates   map[string][]string
	done    map[string]bool
}

// Run executes every reachable data source of cfg, writing results into
// ec. Sources run in dependency order; conditional sources only once a
// nextCall condition enables them. The configuration must be prepared.
func (o *Orchestrator) Run(ctx context.Context, cfg *model.ExtractionConfig, ec *Context) Outcome {
	log := logger.WithCorrelationID(o.log, ec.CorrelationID())
	r := &run{
		cfg:          cfg,
		ec:           ec,
		log:          log,
		resolver:     placeholder.NewResolver(log),
		breakerScope: ec.Template(),
		enabled:      make(map[string]bool, len(cfg.ExtractionStrategy)),
		gates:        make(map[string][]string),
		done:         make(map[string]bool, len(cfg.ExtractionStrategy)),
	}
	if r.breakerScope == "" {
		r.breakerScope = fmt.Sprintf("config@%p", cfg)
	}
	for _, ds := range cfg.ExtractionStrategy {
		if !cfg.IsConditional(ds.ID) {
			r.enabled[ds.ID] = true
		}
	}

	parallel := cfg.ExecutionRules.ExecutionMode == model.ModeParallel

	for {
		if err := ctx.Err(); err != nil {
			return Outcome{Aborted: true, Err: err}
		}

		ready := r.ready()
		if len(ready) == 0 {
			break
		}
		if !parallel {
			ready = ready[:1]
		}

		results := o.runLevel(ctx, r, ready)

		var abort *sourceResult
		for i := range results {
			res := &results[i]
			r.done[res.id] = true
			if res.status == StatusSuccess {
				r.fireNextCalls(res.ds)
			}
			if res.abort && abort == nil {
				abort = res
			}
		}
		if abort != nil {
			log.Warn("Aborting evaluation", map[string]interface{}{
				"source": abort.id,
				"error":  errString(abort.err),
			})
			return Outcome{Aborted: true, FailedSource: abort.id, Err: abort.err}
		}
	}

	r.skipUnreachable()
	return Outcome{}
}

// ready returns, in declaration order, the enabled sources whose gates are
// all done. Sources gated by a source that was skipped, or that failed under
// a policy other than include, are recorded as skipped on the way.
func (r *run) ready() []string {
	for {
		var ready []string
		skipped := false

		for _, ds := range r.cfg.ExtractionStrategy {
			if r.done[ds.ID] || !r.enabled[ds.ID] {
				continue
			}
			waiting, blocked := "", ""
			for _, gate := range r.gatesOf(ds) {
				if !r.done[gate] {
					waiting = gate
					break
				}
				if !r.settled(gate) && blocked == "" {
					blocked = gate
				}
			}
			if waiting != "" {
				continue
			}
			if blocked != "" {
				r.skip(ds.ID, "dependency "+blocked+" did not complete")
				skipped = true
				continue
			}
			ready = append(ready, ds.ID)
		}

		// A skip may unblock further skips but never makes anything ready.
		if len(ready) > 0 || !skipped {
			return ready
		}
	}
}

// settled reports whether a finished gate lets its dependents run.
func (r *run) settled(gate string) bool {
	switch s, _ := r.ec.Status(gate); s {
	case StatusSuccess:
		return true
	case StatusFailed:
		ds, ok := r.cfg.Source(gate)
		return ok && ds.ErrorHandling.OnExtractionFailure == model.PolicyInclude
	default:
		return false
	}
}

func (r *run) gatesOf(ds *model.DataSourceConfig) []string {
	if extra := r.gates[ds.ID]; len(extra) > 0 {
		return append(append([]string{}, ds.Dependencies...), extra...)
	}
	return ds.Dependencies
}

func (r *run) skip(id, reason string) {
	r.done[id] = true
	r.ec.Record(id, StatusSkipped, nil)
	r.log.Info("Skipping data source", map[string]interface{}{
		"source": id,
		"reason": reason,
	})
}

// skipUnreachable records enabled sources that can never run, such as
// those waiting on a conditional source that was never enabled.
func (r *run) skipUnreachable() {
	for _, ds := range r.cfg.ExtractionStrategy {
		if r.enabled[ds.ID] && !r.done[ds.ID] {
			r.skip(ds.ID, "dependencies never completed")
		}
	}
}

// fireNextCalls evaluates the nextCalls of a completed source and enables
// the targets whose condition holds.
func (r *run) fireNextCalls(ds *model.DataSourceConfig) {
	if len(ds.NextCalls) == 0 {
		return
	}
	vars := r.ec.Variables()
	for _, nc := range ds.NextCalls {
		target := nc.TargetDataSource
		if r.done[target] {
			continue
		}
		ok, err := nc.Condition.Evaluate(vars)
		if err != nil {
			r.log.Warn("Next call condition failed", map[string]interface{}{
				"source": ds.ID,
				"target": target,
				"error":  err.Error(),
			})
			continue
		}
		if !ok {
			r.log.Debug("Next call condition not met", map[string]interface{}{
				"source": ds.ID,
				"target": target,
			})
			continue
		}

		r.enabled[target] = true
		if nc.DependsOn != "" && nc.DependsOn != target {
			r.gates[target] = append(r.gates[target], nc.DependsOn)
		}
		r.log.Debug("Next call enabled", map[string]interface{}{
			"source": ds.ID,
			"target": target,
		})
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
