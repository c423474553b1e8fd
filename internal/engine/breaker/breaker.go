// internal/engine/breaker/breaker.go
package breaker

import (
	"errors"
	"sync"
	"time"

	"document-eligibility/internal/common/logger"
	"document-eligibility/internal/engine/model"

	"github.com/sony/gobreaker"
)

// ErrOpen is returned without calling through while a source's breaker is
// open or its half-open probes are used up.
var ErrOpen = errors.New("circuit open")

// Key names a breaker. Source ids are only unique within one
// configuration, so breakers are scoped by template.
type Key struct {
	Template string
	Source   string
}

func (k Key) String() string {
	if k.Template == "" {
		return k.Source
	}
	return k.Template + "/" + k.Source
}

// StateFunc observes breaker transitions, e.g. to export a gauge.
type StateFunc func(key Key, state gobreaker.State)

type entry struct {
	cb  *gobreaker.CircuitBreaker
	cfg model.CircuitBreakerConfig
}

// Registry holds one breaker per template and data source id. Breakers are
// shared by every evaluation run through the same engine.
type Registry struct {
	mu       sync.Mutex
	breakers map[Key]entry
	log      logger.Logger
	onState  StateFunc
}

func NewRegistry(log logger.Logger, onState StateFunc) *Registry {
	return &Registry{
		breakers: make(map[Key]entry),
		log:      log,
		onState:  onState,
	}
}

// Execute runs fn through the source's breaker. With the breaker disabled
// fn runs directly.
func (r *Registry) Execute(key Key, cfg model.CircuitBreakerConfig, fn func() error) error {
	if !cfg.Enabled {
		return fn()
	}

	cb := r.get(key, cfg)
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State reports a breaker's state; unknown keys are closed.
func (r *Registry) State(key Key) gobreaker.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.breakers[key]; ok {
		return e.cb.State()
	}
	return gobreaker.StateClosed
}

// get returns the breaker for key, replacing it when the configuration's
// settings changed since it was built.
func (r *Registry) get(key Key, cfg model.CircuitBreakerConfig) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.breakers[key]; ok && e.cfg == cfg {
		return e.cb
	}

	threshold := uint32(cfg.FailureThreshold)
	if threshold == 0 {
		threshold = model.DefaultFailureThreshold
	}
	halfOpen := uint32(cfg.HalfOpenRequests)
	if halfOpen == 0 {
		halfOpen = model.DefaultHalfOpenRequests
	}
	timeout := cfg.ResetTimeout()
	if timeout <= 0 {
		timeout = model.DefaultResetTimeoutMs * time.Millisecond
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key.String(),
		MaxRequests: halfOpen,
		Timeout:     timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			r.log.Warn("Circuit breaker state changed", map[string]interface{}{
				"templateId": key.Template,
				"source":     key.Source,
				"from":       from.String(),
				"to":         to.String(),
			})
			if r.onState != nil {
				r.onState(key, to)
			}
		},
	})
	r.breakers[key] = entry{cb: cb, cfg: cfg}
	return cb
}
