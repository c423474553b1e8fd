// internal/engine/orchestrator/execute.go
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"document-eligibility/internal/common/logger"
	"document-eligibility/internal/engine/breaker"
	"document-eligibility/internal/engine/extractor"
	"document-eligibility/internal/engine/model"
	"document-eligibility/internal/engine/placeholder"
	"document-eligibility/internal/engine/retry"
	"document-eligibility/internal/engine/value"

	apperrors "document-eligibility/internal/common/errors"
	commonhttp "document-eligibility/internal/common/http"
)

type sourceResult struct {
	id     string
	ds     *model.DataSourceConfig
	status Status
	abort  bool
	err    error
}

// runLevel runs the given sources, concurrently when there is more than
// one, and returns their results in the given order.
func (o *Orchestrator) runLevel(ctx context.Context, r *run, ids []string) []sourceResult {
	results := make([]sourceResult, len(ids))
	if len(ids) == 1 {
		ds, _ := r.cfg.Source(ids[0])
		results[0] = o.runSource(ctx, r, ds)
		return results
	}

	var sem chan struct{}
	if o.maxParallel > 0 {
		sem = make(chan struct{}, o.maxParallel)
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		ds, _ := r.cfg.Source(id)
		wg.Add(1)
		go func(i int, ds *model.DataSourceConfig) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			results[i] = o.runSource(ctx, r, ds)
		}(i, ds)
	}
	wg.Wait()
	return results
}

// runSource performs one data source: cache lookup, call with retries
// behind the circuit breaker, extraction, and the failure policy.
func (o *Orchestrator) runSource(ctx context.Context, r *run, ds *model.DataSourceConfig) sourceResult {
	start := time.Now()
	log := r.log.WithFields(map[string]interface{}{"source": ds.ID})
	scope := r.ec.Scope(o.env)

	key := ""
	if ds.Cache.Enabled {
		key = r.resolver.String(ds.ID+".cache.keyPattern", ds.Cache.KeyPattern, scope)
	}

	if key != "" {
		body, hit, err := o.cache.Get(ctx, key)
		if err != nil {
			log.Warn("Cache read failed", map[string]interface{}{"error": err.Error()})
		}
		if hit {
			r.ec.cacheHit()
			o.observer.CacheLookup(ds.ID, true)
			if err := o.complete(ds, body, r.ec, log); err == nil {
				return o.succeed(r, ds, OutcomeCache, start)
			}
			log.Warn("Cached response unusable, calling source", nil)
			_ = o.cache.Invalidate(ctx, key)
		} else {
			r.ec.cacheMiss()
			o.observer.CacheLookup(ds.ID, false)
		}
	}

	req, err := o.buildRequest(ds, r, scope)
	if err != nil {
		return o.fail(ctx, r, ds, key, apperrors.NewExtractionFailedError(ds.ID, err), start, log)
	}

	body, notFound, err := o.call(ctx, r, ds, req)
	if err != nil {
		return o.fail(ctx, r, ds, key, classify(ds.ID, err), start, log)
	}

	if notFound {
		defaults := make(map[string]value.Value, len(ds.ErrorHandling.On404.DefaultValue))
		for k, v := range ds.ErrorHandling.On404.DefaultValue {
			defaults[k] = value.FromAny(v)
		}
		r.ec.Merge(ds.ID, defaults)
		log.Info("Data source returned 404, using default values", map[string]interface{}{
			"fields": len(defaults),
		})
		return o.succeed(r, ds, OutcomeDefault, start)
	}

	if key != "" {
		if err := o.cache.Set(ctx, key, body, ds.Cache.TTL()); err != nil {
			log.Warn("Cache write failed", map[string]interface{}{"error": err.Error()})
		}
	}

	if err := o.complete(ds, body, r.ec, log); err != nil {
		return o.fail(ctx, r, ds, key, err, start, log)
	}
	return o.succeed(r, ds, OutcomeSuccess, start)
}

func (o *Orchestrator) succeed(r *run, ds *model.DataSourceConfig, outcome string, start time.Time) sourceResult {
	r.ec.Record(ds.ID, StatusSuccess, nil)
	o.observer.SourceCall(ds.ID, outcome, time.Since(start))
	return sourceResult{id: ds.ID, ds: ds, status: StatusSuccess}
}

// complete extracts a body into the context. A body that is not JSON, or
// validation errors under an onValidationError "fail" action, fail the
// source; otherwise validation errors are only reported.
func (o *Orchestrator) complete(ds *model.DataSourceConfig, body []byte, ec *Context, log logger.Logger) error {
	res, err := o.extractor.Extract(ds.ID, &ds.ResponseMapping, body, ec.Lookup)
	if err != nil {
		return apperrors.NewExtractionFailedError(ds.ID, err)
	}

	if len(res.ValidationErrors) > 0 {
		if a := ds.ErrorHandling.OnValidationError; a != nil && a.Action == model.ActionFail {
			msgs := make([]string, len(res.ValidationErrors))
			for i, v := range res.ValidationErrors {
				msgs[i] = v.Message
			}
			ec.AddValidationErrors(res.ValidationErrors)
			return apperrors.NewExtractionFailedError(ds.ID, fmt.Errorf("validation failed: %s", strings.Join(msgs, "; ")))
		}
	}

	ec.Merge(ds.ID, res.Fields)
	ec.AddValidationErrors(res.ValidationErrors)
	if len(res.Missing) > 0 {
		log.Debug("Fields not found in response", map[string]interface{}{"fields": res.Missing})
	}
	return nil
}

// fail applies the source's onExtractionFailure policy.
func (o *Orchestrator) fail(ctx context.Context, r *run, ds *model.DataSourceConfig, key string, err error, start time.Time, log logger.Logger) sourceResult {
	policy := ds.ErrorHandling.OnExtractionFailure
	log.Warn("Data source failed", map[string]interface{}{
		"errorCode": string(apperrors.CodeOf(err)),
		"error":     err.Error(),
		"policy":    string(policy),
	})

	if policy == model.PolicyUseCache && key != "" {
		body, hit, gerr := o.cache.GetStale(ctx, key)
		if gerr != nil {
			log.Warn("Stale cache read failed", map[string]interface{}{"error": gerr.Error()})
		}
		if hit {
			if cerr := o.complete(ds, body, r.ec, log); cerr == nil {
				r.ec.cacheHit()
				o.observer.CacheLookup(ds.ID, true)
				log.Info("Serving stale cached response", nil)
				return o.succeed(r, ds, OutcomeStale, start)
			}
		}
	}

	r.ec.Record(ds.ID, StatusFailed, err)
	o.observer.SourceCall(ds.ID, OutcomeFailed, time.Since(start))

	abort := false
	if policy == model.PolicyExclude || policy == model.PolicyUseCache {
		abort = r.cfg.ExecutionRules.AbortsOnFailure()
	}
	return sourceResult{id: ds.ID, ds: ds, status: StatusFailed, abort: abort, err: err}
}

// call sends the request with retries, behind the source's breaker. A 404
// answered by an on404 return-default action reports notFound instead of
// an error, and does not count against the breaker. Calls short-circuited
// by an open breaker are not counted as API calls.
func (o *Orchestrator) call(ctx context.Context, r *run, ds *model.DataSourceConfig, req commonhttp.Request) ([]byte, bool, error) {
	policy := model.RetryPolicy{MaxAttempts: 1}
	if ds.Endpoint.RetryPolicy != nil {
		policy = *ds.Endpoint.RetryPolicy
	}
	returnDefault := ds.ErrorHandling.On404 != nil && ds.ErrorHandling.On404.Action == model.ActionReturnDefault

	var body []byte
	notFound := false
	key := breaker.Key{Template: r.breakerScope, Source: ds.ID}
	err := o.breakers.Execute(key, r.cfg.ExecutionRules.CircuitBreaker, func() error {
		r.ec.apiCall()
		_, err := o.retry.Do(ctx, ds.ID, policy, func(ctx context.Context) error {
			resp, err := o.transport.Send(ctx, req)
			if err != nil {
				return err
			}
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return &retry.StatusError{StatusCode: resp.StatusCode, Body: resp.Body}
			}
			body = resp.Body
			return nil
		})

		var status *retry.StatusError
		if returnDefault && errors.As(err, &status) && status.StatusCode == http.StatusNotFound {
			notFound = true
			return nil
		}
		return err
	})
	return body, notFound, err
}

func (o *Orchestrator) buildRequest(ds *model.DataSourceConfig, r *run, scope placeholder.Scope) (commonhttp.Request, error) {
	ep := ds.Endpoint
	req := commonhttp.Request{
		Method:  ep.Method,
		URL:     r.resolver.String(ds.ID+".url", ep.URL, scope),
		Headers: r.resolver.Map(ds.ID+".headers", ep.Headers, scope),
		Query:   r.resolver.Map(ds.ID+".queryParams", ep.QueryParams, scope),
		Timeout: ep.Timeout(),
	}

	if id := r.ec.CorrelationID(); id != "" {
		if req.Headers == nil {
			req.Headers = make(map[string]string, 1)
		}
		if _, ok := req.Headers["X-Correlation-Id"]; !ok {
			req.Headers["X-Correlation-Id"] = id
		}
	}

	if ep.Body != nil {
		data, err := json.Marshal(r.resolver.Body(ds.ID+".body", ep.Body, scope))
		if err != nil {
			return req, fmt.Errorf("encode request body: %w", err)
		}
		req.Body = data
	}
	return req, nil
}

// classify maps a call error onto a standard error code.
func classify(source string, err error) error {
	if _, ok := apperrors.As(err); ok {
		return err
	}

	var status *retry.StatusError
	var netErr net.Error
	switch {
	case errors.Is(err, breaker.ErrOpen):
		return apperrors.NewCircuitOpenError(source, err)
	case errors.As(err, &status):
		return apperrors.NewUpstreamStatusError(source, status.StatusCode, err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewUpstreamTimeoutError(source, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return apperrors.NewUpstreamTimeoutError(source, err)
	case errors.Is(err, extractor.ErrMalformedBody):
		return apperrors.NewExtractionFailedError(source, err)
	default:
		return apperrors.NewUpstreamUnavailableError(source, err)
	}
}
