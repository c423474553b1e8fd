// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"time"

	"document-eligibility/internal/alerting"
	"document-eligibility/internal/audit"
	"document-eligibility/internal/common/config"
	"document-eligibility/internal/common/database"
	"document-eligibility/internal/common/logger"
	"document-eligibility/internal/common/metrics"
	"document-eligibility/internal/configstore"
	"document-eligibility/internal/engine"
	"document-eligibility/internal/engine/breaker"
	"document-eligibility/internal/engine/cache"
	"document-eligibility/internal/engine/model"
	"document-eligibility/internal/engine/orchestrator"
	"document-eligibility/pkg/registry"

	commonhttp "document-eligibility/internal/common/http"
)

// ConfigSource resolves template ids to prepared configurations.
type ConfigSource interface {
	Get(ctx context.Context, templateID string) (*model.ExtractionConfig, error)
}

// App holds the engine and the infrastructure it was built on.
type App struct {
	Engine  *engine.Engine
	Configs ConfigSource

	checks  map[string]func(context.Context) error
	closers []func() error
	log     logger.Logger
}

// New connects the configured backends and assembles the engine. Redis is
// optional: without an address responses are cached in memory. The given
// listeners are notified alongside audit and alerting.
func New(ctx context.Context, cfg *config.Config, log logger.Logger, listeners ...engine.Listener) (*App, error) {
	a := &App{checks: make(map[string]func(context.Context) error), log: log}

	gateway, err := a.cacheGateway(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	configured, err := a.listeners(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Configs, err = a.configSource(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Engine = NewEngine(cfg.Engine, gateway, log, append(listeners, configured...)...)
	return a, nil
}

// NewEngine builds an engine exporting Prometheus metrics for calls,
// retries and breaker transitions.
func NewEngine(cfg config.EngineConfig, gateway cache.Gateway, log logger.Logger, listeners ...engine.Listener) *engine.Engine {
	recorder := metrics.NewRecorder()
	transport := commonhttp.NewClient(config.GetDuration(cfg.HTTPTimeout), cfg.MaxIdleConnsPerHost)

	opts := []engine.Option{
		engine.WithOrchestratorOptions(
			orchestrator.WithCache(gateway),
			orchestrator.WithBreakers(breaker.NewRegistry(log, recorder.BreakerState)),
			orchestrator.WithObserver(recorder),
			orchestrator.WithMaxParallel(cfg.MaxParallel),
		),
		engine.WithListener(recorder),
	}
	for _, l := range listeners {
		opts = append(opts, engine.WithListener(l))
	}
	return engine.New(transport, log, opts...)
}

func (a *App) cacheGateway(ctx context.Context, cfg *config.Config, log logger.Logger) (cache.Gateway, error) {
	staleTTL := cfg.Engine.StaleTTLDuration()
	if cfg.Database.Redis.Address == "" {
		log.Info("response cache in memory", nil)
		return cache.NewMemoryGateway(staleTTL), nil
	}

	rdb, err := database.NewRedis(cfg.Database.Redis)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rdb.Close)
	if err := rdb.Ping(ctx); err != nil {
		return nil, err
	}
	a.checks["redis"] = rdb.Ping
	return cache.NewRedisGateway(rdb.Client, cfg.Engine.CachePrefix, staleTTL, log), nil
}

func (a *App) listeners(ctx context.Context, cfg *config.Config, log logger.Logger) ([]engine.Listener, error) {
	var out []engine.Listener

	if cfg.Audit.Enabled {
		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return nil, err
		}
		a.checks["elasticsearch"] = es.Ping
		out = append(out, audit.NewRecorder(es.Client, cfg.Audit.Index, log))
	}

	alerter, err := alerting.FromConfig(ctx, cfg.Alerting, log)
	if err != nil {
		return nil, fmt.Errorf("init alerting: %w", err)
	}
	if alerter != nil {
		out = append(out, alerter)
	}
	return out, nil
}

func (a *App) configSource(ctx context.Context, cfg *config.Config, log logger.Logger) (ConfigSource, error) {
	switch cfg.Engine.ConfigSource {
	case config.ConfigSourcePostgres:
		pg, err := database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.Ping(ctx); err != nil {
			return nil, err
		}
		a.checks["postgres"] = pg.Ping
		ttl := time.Duration(cfg.Engine.ConfigCacheTTL) * time.Second
		return configstore.New(pg.DB, ttl, log), nil
	default:
		reg, err := registry.LoadRegistry(cfg.Engine.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load extraction configs: %w", err)
		}
		log.Info("extraction configs loaded", map[string]interface{}{
			"path":      cfg.Engine.ConfigPath,
			"version":   reg.Version(),
			"templates": len(reg.Templates()),
		})
		return reg, nil
	}
}

// Ready pings every backend the app depends on.
func (a *App) Ready(ctx context.Context) map[string]string {
	status := make(map[string]string, len(a.checks))
	for name, check := range a.checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			continue
		}
		status[name] = "ok"
	}
	return status
}

// Close releases backends in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", map[string]interface{}{"error": err.Error()})
		}
	}
	a.closers = nil
}
