// internal/engine/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"document-eligibility/internal/common/logger"
	"document-eligibility/internal/engine/breaker"
	"document-eligibility/internal/engine/cache"
	"document-eligibility/internal/engine/model"
	"document-eligibility/internal/engine/retry"

	apperrors "document-eligibility/internal/common/errors"
	commonhttp "document-eligibility/internal/common/http"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport answers by URL path and records every request.
type fakeTransport struct {
	mu      sync.Mutex
	calls   []string
	respond func(req commonhttp.Request) (*commonhttp.Response, error)
}

func (f *fakeTransport) Send(_ context.Context, req commonhttp.Request) (*commonhttp.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.URL)
	f.mu.Unlock()
	return f.respond(req)
}

func (f *fakeTransport) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.calls...)
}

func routes(table map[string]string) func(commonhttp.Request) (*commonhttp.Response, error) {
	return func(req commonhttp.Request) (*commonhttp.Response, error) {
		for suffix, body := range table {
			if strings.HasSuffix(req.URL, suffix) {
				status := http.StatusOK
				if code, rest, ok := strings.Cut(body, "|"); ok {
					fmt.Sscanf(code, "%d", &status)
					body = rest
				}
				return &commonhttp.Response{StatusCode: status, Body: []byte(body)}, nil
			}
		}
		return &commonhttp.Response{StatusCode: http.StatusNotFound, Body: []byte(`{}`)}, nil
	}
}

func parse(t *testing.T, doc string) *model.ExtractionConfig {
	t.Helper()
	cfg, err := model.Parse([]byte(doc))
	require.NoError(t, err)
	return cfg
}

func newTestOrchestrator(t *testing.T, transport commonhttp.Transport, opts ...Option) *Orchestrator {
	opts = append(opts, WithRetryOptions(retry.WithSleep(func(context.Context, time.Duration) error { return nil })))
	return New(transport, logger.NewTestLogger(t), opts...)
}

func seed() map[string]any {
	return map[string]any{"accountId": "ACC1", "customerId": "C1"}
}

// ==========================
// Ordering
// ==========================

func TestRun_DependencyOrderOverHTTP(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		assert.Equal(t, "corr-1", r.Header.Get("X-Correlation-Id"))

		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(r.URL.Path, "/accounts/"):
			_, _ = w.Write([]byte(`{"status":"ACTIVE","zipRef":"Z9"}`))
		case strings.HasPrefix(r.URL.Path, "/zips/"):
			_, _ = w.Write([]byte(`{"zipcode":"90001"}`))
		default:
			_, _ = w.Write([]byte(`{"tier":"GOLD"}`))
		}
	}))
	defer server.Close()

	cfg := parse(t, fmt.Sprintf(`{
		"extractionStrategy": [
			{"id": "getZip", "endpoint": {"url": "%[1]s/zips/${zipRef}"}, "dependencies": ["getAccount"],
			 "responseMapping": {"extract": {"zipcode": "$.zipcode"}}},
			{"id": "getAccount", "endpoint": {"url": "%[1]s/accounts/${$input.accountId}"},
			 "responseMapping": {"extract": {"status": "$.status", "zipRef": "$.zipRef"}}},
			{"id": "getProfile", "endpoint": {"url": "%[1]s/profiles/${customerId}"},
			 "responseMapping": {"extract": {"tier": "$.tier"}}}
		]
	}`, server.URL))

	o := New(commonhttp.NewClient(5*time.Second, 4), logger.NewTestLogger(t))
	ec := NewContext(seed(), "corr-1")
	out := o.Run(context.Background(), cfg, ec)

	require.False(t, out.Aborted)
	assert.Equal(t, []string{"/accounts/ACC1", "/zips/Z9", "/profiles/C1"}, paths)

	vars := ec.Variables()
	assert.Equal(t, "90001", vars["zipcode"].String())
	assert.Equal(t, "GOLD", vars["tier"].String())

	m := ec.Metrics()
	assert.Equal(t, 3, m.TotalAPICalls)
	assert.Equal(t, []string{"getAccount", "getZip", "getProfile"}, m.DataSourcesExecuted)
}

func TestRun_ParallelLevelsRunConcurrently(t *testing.T) {
	var started int32
	both := make(chan struct{})
	var once sync.Once

	transport := &fakeTransport{respond: func(req commonhttp.Request) (*commonhttp.Response, error) {
		if strings.HasSuffix(req.URL, "/c") {
			return &commonhttp.Response{StatusCode: 200, Body: []byte(`{"c":3}`)}, nil
		}
		if atomic.AddInt32(&started, 1) == 2 {
			once.Do(func() { close(both) })
		}
		select {
		case <-both:
			return &commonhttp.Response{StatusCode: 200, Body: []byte(`{"v":1}`)}, nil
		case <-time.After(2 * time.Second):
			return &commonhttp.Response{StatusCode: 503, Body: []byte(`{}`)}, nil
		}
	}}

	cfg := parse(t, `{
		"executionRules": {"executionMode": "parallel"},
		"extractionStrategy": [
			{"id": "a", "endpoint": {"url": "http://x/a"}, "responseMapping": {"extract": {"a": "$.v"}}},
			{"id": "b", "endpoint": {"url": "http://x/b"}, "responseMapping": {"extract": {"b": "$.v"}}},
			{"id": "c", "endpoint": {"url": "http://x/c"}, "dependencies": ["a", "b"], "responseMapping": {"extract": {"c": "$.c"}}}
		]
	}`)

	ec := NewContext(nil, "")
	out := newTestOrchestrator(t, transport).Run(context.Background(), cfg, ec)

	require.False(t, out.Aborted)
	assert.Equal(t, map[string]Status{"a": StatusSuccess, "b": StatusSuccess, "c": StatusSuccess}, ec.Statuses())
	assert.Equal(t, "http://x/c", transport.Calls()[2])
}

func TestPlan(t *testing.T) {
	cfg := parse(t, `{
		"extractionStrategy": [
			{"id": "getAccount", "endpoint": {"url": "http://x/a"},
			 "nextCalls": [{"condition": {"field": "status", "operator": "notNull"}, "targetDataSource": "getOffers", "dependsOn": "getProfile"}]},
			{"id": "getProfile", "endpoint": {"url": "http://x/p"}},
			{"id": "getZip", "endpoint": {"url": "http://x/z"}, "dependencies": ["getAccount"]},
			{"id": "getOffers", "endpoint": {"url": "http://x/o"}}
		]
	}`)

	levels := Plan(cfg)
	require.Len(t, levels, 2)

	ids := func(steps []Step) []string {
		var out []string
		for _, s := range steps {
			out = append(out, s.ID)
		}
		return out
	}
	assert.Equal(t, []string{"getAccount", "getProfile"}, ids(levels[0]))
	assert.Equal(t, []string{"getZip", "getOffers"}, ids(levels[1]))
	assert.True(t, levels[1][1].Conditional)
	assert.Equal(t, []string{"getAccount", "getProfile"}, levels[1][1].After)
}

// ==========================
// Cache
// ==========================

func TestRun_CacheCounters(t *testing.T) {
	transport := &fakeTransport{respond: routes(map[string]string{
		"/accounts/ACC1": `{"status":"ACTIVE"}`,
		"/profiles/C1":   `{"tier":"GOLD"}`,
	})}
	cfg := parse(t, `{
		"extractionStrategy": [
			{"id": "getAccount", "endpoint": {"url": "http://x/accounts/${$input.accountId}"},
			 "cache": {"enabled": true, "ttl": 60, "keyPattern": "acct:${$input.accountId}"},
			 "responseMapping": {"extract": {"status": "$.status"}}},
			{"id": "getProfile", "endpoint": {"url": "http://x/profiles/${customerId}"},
			 "responseMapping": {"extract": {"tier": "$.tier"}}}
		]
	}`)

	o := newTestOrchestrator(t, transport, WithCache(cache.NewMemoryGateway(time.Hour)))

	first := NewContext(seed(), "")
	o.Run(context.Background(), cfg, first)
	assert.Equal(t, Metrics{TotalAPICalls: 2, CacheMisses: 1, DataSourcesExecuted: []string{"getAccount", "getProfile"}},
		withoutTime(first.Metrics()))

	second := NewContext(seed(), "")
	o.Run(context.Background(), cfg, second)
	assert.Equal(t, Metrics{TotalAPICalls: 1, CacheHits: 1, DataSourcesExecuted: []string{"getAccount", "getProfile"}},
		withoutTime(second.Metrics()))
	assert.Equal(t, "ACTIVE", second.Variables()["status"].String())
	assert.Len(t, transport.Calls(), 3)
}

func withoutTime(m Metrics) Metrics {
	m.ExecutionTimeMs = 0
	return m
}

// ==========================
// Failure policies
// ==========================

func TestRun_FailurePolicies(t *testing.T) {
	doc := func(policy, rules string) string {
		return fmt.Sprintf(`{
			"executionRules": %s,
			"extractionStrategy": [
				{"id": "getAccount", "endpoint": {"url": "http://x/accounts/ACC1"},
				 "cache": {"enabled": true, "keyPattern": "acct:ACC1"},
				 "responseMapping": {"extract": {"status": "$.status"}},
				 "errorHandling": {"onExtractionFailure": "%s"}},
				{"id": "getZip", "endpoint": {"url": "http://x/zips/1"}, "dependencies": ["getAccount"],
				 "responseMapping": {"extract": {"zipcode": "$.zipcode"}}},
				{"id": "getProfile", "endpoint": {"url": "http://x/profiles/C1"},
				 "responseMapping": {"extract": {"tier": "$.tier"}}}
			]
		}`, rules, policy)
	}

	tests := []struct {
		name         string
		policy       string
		rules        string
		staleBody    string
		wantAborted  bool
		wantStatuses map[string]Status
	}{
		{
			name:         "exclude aborts",
			policy:       "exclude",
			rules:        `{}`,
			wantAborted:  true,
			wantStatuses: map[string]Status{"getAccount": StatusFailed},
		},
		{
			name:         "exclude with continue-on-error",
			policy:       "exclude",
			rules:        `{"errorHandling": {"strategy": "continue-on-error"}}`,
			wantStatuses: map[string]Status{"getAccount": StatusFailed, "getZip": StatusSkipped, "getProfile": StatusSuccess},
		},
		{
			name:         "exclude with stopOnError false",
			policy:       "exclude",
			rules:        `{"stopOnError": false}`,
			wantStatuses: map[string]Status{"getAccount": StatusFailed, "getZip": StatusSkipped, "getProfile": StatusSuccess},
		},
		{
			name:         "include continues and runs dependents",
			policy:       "include",
			rules:        `{}`,
			wantStatuses: map[string]Status{"getAccount": StatusFailed, "getZip": StatusSuccess, "getProfile": StatusSuccess},
		},
		{
			name:         "use_cache serves stale copy",
			policy:       "use_cache",
			rules:        `{}`,
			staleBody:    `{"status":"ACTIVE"}`,
			wantStatuses: map[string]Status{"getAccount": StatusSuccess, "getZip": StatusSuccess, "getProfile": StatusSuccess},
		},
		{
			name:         "use_cache without copy behaves like exclude",
			policy:       "use_cache",
			rules:        `{}`,
			wantAborted:  true,
			wantStatuses: map[string]Status{"getAccount": StatusFailed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &fakeTransport{respond: routes(map[string]string{
				"/accounts/ACC1": `500|{"error":"boom"}`,
				"/zips/1":        `{"zipcode":"90001"}`,
				"/profiles/C1":   `{"tier":"GOLD"}`,
			})}

			gw := cache.NewMemoryGateway(time.Hour)
			if tt.staleBody != "" {
				require.NoError(t, gw.Set(context.Background(), "acct:ACC1", []byte(tt.staleBody), time.Nanosecond))
				time.Sleep(time.Millisecond)
			}

			cfg := parse(t, doc(tt.policy, tt.rules))
			ec := NewContext(seed(), "")
			out := newTestOrchestrator(t, transport, WithCache(gw)).Run(context.Background(), cfg, ec)

			assert.Equal(t, tt.wantAborted, out.Aborted)
			assert.Equal(t, tt.wantStatuses, ec.Statuses())
			if tt.wantAborted {
				assert.Equal(t, "getAccount", out.FailedSource)
				assert.Equal(t, apperrors.ErrCodeUpstreamStatus, apperrors.CodeOf(out.Err))
			}
			if tt.staleBody != "" {
				assert.Equal(t, "ACTIVE", ec.Variables()["status"].String())
				assert.Equal(t, 1, ec.Metrics().CacheHits)
			}
		})
	}
}

func TestRun_404ReturnsDefault(t *testing.T) {
	transport := &fakeTransport{respond: routes(nil)}
	cfg := parse(t, `{
		"extractionStrategy": [
			{"id": "getZip", "endpoint": {"url": "http://x/zips/ACC1"},
			 "responseMapping": {"extract": {"zipcode": "$.zipcode"}},
			 "errorHandling": {"onExtractionFailure": "exclude", "on404": {"action": "return-default", "defaultValue": {"zipcode": "00000"}}}}
		]
	}`)

	ec := NewContext(seed(), "")
	out := newTestOrchestrator(t, transport).Run(context.Background(), cfg, ec)

	require.False(t, out.Aborted)
	assert.Equal(t, map[string]Status{"getZip": StatusSuccess}, ec.Statuses())
	assert.Equal(t, "00000", ec.Variables()["zipcode"].String())
}

func TestRun_ValidationFailAction(t *testing.T) {
	transport := &fakeTransport{respond: routes(map[string]string{"/a": `{"id":"bad id"}`})}
	cfg := parse(t, `{
		"executionRules": {"stopOnError": false},
		"extractionStrategy": [
			{"id": "getAccount", "endpoint": {"url": "http://x/a"},
			 "responseMapping": {"extract": {"accountId": "$.id"}, "validate": {"accountId": {"pattern": "[A-Z0-9]+"}}},
			 "errorHandling": {"onValidationError": {"action": "fail"}}}
		]
	}`)

	ec := NewContext(nil, "")
	newTestOrchestrator(t, transport).Run(context.Background(), cfg, ec)

	assert.Equal(t, map[string]Status{"getAccount": StatusFailed}, ec.Statuses())
	assert.Len(t, ec.ValidationErrors(), 1)
	_, extracted := ec.Variables()["accountId"]
	assert.False(t, extracted)
	assert.Equal(t, apperrors.ErrCodeExtractionFailed, apperrors.CodeOf(ec.Err("getAccount")))
}

// ==========================
// Retries and breaker
// ==========================

func TestRun_RetriesCountOneAPICall(t *testing.T) {
	var n int32
	transport := &fakeTransport{respond: func(commonhttp.Request) (*commonhttp.Response, error) {
		if atomic.AddInt32(&n, 1) <= 2 {
			return &commonhttp.Response{StatusCode: 503, Body: []byte(`{}`)}, nil
		}
		return &commonhttp.Response{StatusCode: 200, Body: []byte(`{"status":"ACTIVE"}`)}, nil
	}}
	cfg := parse(t, `{
		"extractionStrategy": [
			{"id": "getAccount", "endpoint": {"url": "http://x/a", "retryPolicy": {"maxAttempts": 3, "retryOn": [503]}},
			 "responseMapping": {"extract": {"status": "$.status"}}}
		]
	}`)

	ec := NewContext(nil, "")
	newTestOrchestrator(t, transport).Run(context.Background(), cfg, ec)

	assert.Equal(t, map[string]Status{"getAccount": StatusSuccess}, ec.Statuses())
	assert.Len(t, transport.Calls(), 3)
	assert.Equal(t, 1, ec.Metrics().TotalAPICalls)
}

func TestRun_CircuitOpenSkipsCall(t *testing.T) {
	transport := &fakeTransport{respond: routes(map[string]string{"/a": `503|{}`})}
	cfg := parse(t, `{
		"executionRules": {"circuitBreaker": {"enabled": true, "failureThreshold": 1, "resetTimeoutMs": 60000}},
		"extractionStrategy": [
			{"id": "getAccount", "endpoint": {"url": "http://x/a"}, "responseMapping": {"extract": {"s": "$.s"}}}
		]
	}`)

	o := newTestOrchestrator(t, transport, WithBreakers(breaker.NewRegistry(logger.NewTestLogger(t), nil)))

	first := NewContext(nil, "")
	o.Run(context.Background(), cfg, first)
	assert.Equal(t, apperrors.ErrCodeUpstreamStatus, apperrors.CodeOf(first.Err("getAccount")))

	assert.Equal(t, 1, first.Metrics().TotalAPICalls)

	second := NewContext(nil, "")
	o.Run(context.Background(), cfg, second)
	assert.Equal(t, apperrors.ErrCodeCircuitOpen, apperrors.CodeOf(second.Err("getAccount")))
	assert.Len(t, transport.Calls(), 1)
	assert.Equal(t, 0, second.Metrics().TotalAPICalls)
}

func TestRun_BreakersAreScopedPerConfiguration(t *testing.T) {
	const doc = `{
		"executionRules": {"circuitBreaker": {"enabled": true, "failureThreshold": 1, "resetTimeoutMs": 60000}},
		"extractionStrategy": [
			{"id": "getAccount", "endpoint": {"url": "%s"}, "responseMapping": {"extract": {"s": "$.s"}}}
		]
	}`

	tests := []struct {
		name      string
		templateA string
		templateB string
	}{
		{name: "named templates", templateA: "DISCLOSURE-A", templateB: "DISCLOSURE-B"},
		{name: "unnamed configurations"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &fakeTransport{respond: routes(map[string]string{
				"/down": `503|{}`,
				"/up":   `{"s": "ok"}`,
			})}
			down := parse(t, fmt.Sprintf(doc, "http://svc-a/down"))
			up := parse(t, fmt.Sprintf(doc, "http://svc-b/up"))
			o := newTestOrchestrator(t, transport, WithBreakers(breaker.NewRegistry(logger.NewTestLogger(t), nil)))

			a := NewContext(nil, "").WithTemplate(tt.templateA)
			o.Run(context.Background(), down, a)
			assert.Equal(t, StatusFailed, a.Statuses()["getAccount"])

			b := NewContext(nil, "").WithTemplate(tt.templateB)
			o.Run(context.Background(), up, b)
			assert.Equal(t, StatusSuccess, b.Statuses()["getAccount"])
			assert.NoError(t, b.Err("getAccount"))
			assert.Equal(t, []string{"http://svc-a/down", "http://svc-b/up"}, transport.Calls())
		})
	}
}

// ==========================
// Next calls
// ==========================

func TestRun_NextCalls(t *testing.T) {
	doc := `{
		"extractionStrategy": [
			{"id": "getAccount", "endpoint": {"url": "http://x/accounts"},
			 "responseMapping": {"extract": {"status": "$.status", "balance": "$.balance"}},
			 "nextCalls": [
				{"condition": {"field": "status", "operator": "equals", "value": "ACTIVE"}, "targetDataSource": "getOffers"},
				{"condition": {"expression": "vars.balance > 1000"}, "targetDataSource": "getPremium", "dependsOn": "getProfile"}
			 ]},
			{"id": "getOffers", "endpoint": {"url": "http://x/offers"}, "responseMapping": {"extract": {"offer": "$.offer"}}},
			{"id": "getPremium", "endpoint": {"url": "http://x/premium"}, "responseMapping": {"extract": {"premium": "$.premium"}}},
			{"id": "getProfile", "endpoint": {"url": "http://x/profile"}, "responseMapping": {"extract": {"tier": "$.tier"}}}
		]
	}`

	tests := []struct {
		name         string
		account      string
		wantStatuses map[string]Status
		wantLast     string
	}{
		{
			name:    "both conditions hold",
			account: `{"status":"ACTIVE","balance":2500}`,
			wantStatuses: map[string]Status{
				"getAccount": StatusSuccess, "getOffers": StatusSuccess,
				"getPremium": StatusSuccess, "getProfile": StatusSuccess,
			},
			wantLast: "http://x/premium",
		},
		{
			name:         "neither holds",
			account:      `{"status":"CLOSED","balance":10}`,
			wantStatuses: map[string]Status{"getAccount": StatusSuccess, "getProfile": StatusSuccess},
			wantLast:     "http://x/profile",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &fakeTransport{respond: routes(map[string]string{
				"/accounts": tt.account,
				"/offers":   `{"offer":"X"}`,
				"/premium":  `{"premium":true}`,
				"/profile":  `{"tier":"GOLD"}`,
			})}

			ec := NewContext(nil, "")
			out := newTestOrchestrator(t, transport).Run(context.Background(), parse(t, doc), ec)

			require.False(t, out.Aborted)
			assert.Equal(t, tt.wantStatuses, ec.Statuses())
			calls := transport.Calls()
			assert.Equal(t, tt.wantLast, calls[len(calls)-1])
		})
	}
}

func TestRun_ConditionalDependencyNeverEnabled(t *testing.T) {
	transport := &fakeTransport{respond: routes(map[string]string{
		"/accounts": `{"status":"CLOSED"}`,
	})}
	cfg := parse(t, `{
		"extractionStrategy": [
			{"id": "getAccount", "endpoint": {"url": "http://x/accounts"},
			 "responseMapping": {"extract": {"status": "$.status"}},
			 "nextCalls": [{"condition": {"field": "status", "operator": "equals", "value": "ACTIVE"}, "targetDataSource": "getOffers"}]},
			{"id": "getOffers", "endpoint": {"url": "http://x/offers"}},
			{"id": "getOfferDetails", "endpoint": {"url": "http://x/details"}, "dependencies": ["getOffers"]}
		]
	}`)

	ec := NewContext(nil, "")
	newTestOrchestrator(t, transport).Run(context.Background(), cfg, ec)

	assert.Equal(t, map[string]Status{"getAccount": StatusSuccess, "getOfferDetails": StatusSkipped}, ec.Statuses())
	assert.Equal(t, []string{"getAccount"}, ec.Metrics().DataSourcesExecuted)
}

func TestRun_CancelledContext(t *testing.T) {
	transport := &fakeTransport{respond: routes(nil)}
	cfg := parse(t, `{"extractionStrategy": [{"id": "a", "endpoint": {"url": "http://x/a"}}]}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := newTestOrchestrator(t, transport).Run(ctx, cfg, NewContext(nil, ""))
	assert.True(t, out.Aborted)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Empty(t, transport.Calls())
}
