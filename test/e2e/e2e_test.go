// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-eligibility/internal/app"
	"document-eligibility/internal/audit"
	"document-eligibility/internal/common/config"
	"document-eligibility/internal/common/logger"
	"document-eligibility/internal/engine/cache"
	"document-eligibility/pkg/registry"

	evaluate "document-eligibility/internal/workers/eligibility/evaluate-eligibility"
)

const registryDoc = `{
	"version": "e2e",
	"configs": [{
		"templateId": "TPL-DISCLOSURE",
		"config": {
			"documentMatchingStrategy": {"matchBy": "reference_key", "referenceKeyType": "DISCLOSURE_CODE"},
			"extractionStrategy": [
				{
					"id": "account",
					"endpoint": {"url": "%[1]s/accounts/${$input.accountId}"},
					"cache": {"enabled": true, "ttl": 60},
					"errorHandling": {"onExtractionFailure": "use_cache"},
					"responseMapping": {"extract": {"balance": "$.balance", "zipcode": "$.zip"}}
				},
				{
					"id": "region",
					"endpoint": {"url": "%[1]s/regions/${zipcode}"},
					"dependencies": ["account"],
					"cache": {"enabled": true, "ttl": 60},
					"responseMapping": {"extract": {"region": "$.region"}}
				}
			],
			"inclusionRules": {
				"logicOperator": "AND",
				"rules": [
					{"eligibilityCriteria": {"balance": {"operator": "LESS_THAN", "value": 5000, "dataType": "number"}}},
					{"eligibilityCriteria": {"region": {"operator": "EQUALS", "value": "WEST"}}}
				]
			},
			"outputMapping": {"documentReferenceKey": "DISC-${region}"}
		}
	}]
}`

// bank serves the account and region APIs; accountDown makes the account
// API answer 503.
type bank struct {
	*httptest.Server
	accountDown atomic.Bool
	calls       atomic.Int32
}

func newBank(t *testing.T) *bank {
	b := &bank{}
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/accounts/ACC-1":
			if b.accountDown.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"balance": 4200.50, "zip": "90001"}`))
		case "/regions/90001":
			_, _ = w.Write([]byte(`{"region": "WEST"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(b.Close)
	return b
}

type decisions struct {
	mu   sync.Mutex
	docs []map[string]any
}

func (d *decisions) all() []map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]map[string]any(nil), d.docs...)
}

func newElasticsearch(t *testing.T) (*elasticsearch.Client, *decisions) {
	d := &decisions{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var doc map[string]any
		if json.Unmarshal(body, &doc) == nil {
			d.mu.Lock()
			d.docs = append(d.docs, doc)
			d.mu.Unlock()
		}
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return client, d
}

// ==========================
// Worker to engine to backends
// ==========================

func TestEligibilityFlow(t *testing.T) {
	ctx := context.Background()
	log := logger.NewTestLogger(t)
	upstream := newBank(t)

	reg, err := registry.Parse([]byte(fmt.Sprintf(registryDoc, upstream.URL)))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	gateway := cache.NewRedisGateway(rdb, "eligibility:", time.Hour, log)

	es, recorded := newElasticsearch(t)
	engineCfg := config.EngineConfig{HTTPTimeout: 5000, MaxIdleConnsPerHost: 4}
	eng := app.NewEngine(engineCfg, gateway, log, audit.NewRecorder(es, "eligibility-decisions", log))

	handler := evaluate.NewHandler(&evaluate.Config{Timeout: 10 * time.Second}, reg, eng, log)
	input := &evaluate.Input{
		TemplateID: "TPL-DISCLOSURE",
		Seed:       map[string]any{"accountId": "ACC-1"},
	}

	t.Run("fresh evaluation calls every source", func(t *testing.T) {
		input.CorrelationID = "e2e-1"
		out, err := handler.Execute(ctx, input)
		require.NoError(t, err)

		assert.True(t, out.Included)
		require.NotNil(t, out.MatchingCriteria)
		assert.Equal(t, "DISC-WEST", out.MatchingCriteria.ReferenceKeyValue)
		assert.Equal(t, 2, out.EligibilityResult.ExecutionMetrics.TotalAPICalls)
		assert.Equal(t, int32(2), upstream.calls.Load())
		assert.Empty(t, out.EligibilityResult.FailureReason)
	})

	t.Run("repeat is served from redis", func(t *testing.T) {
		input.CorrelationID = "e2e-2"
		out, err := handler.Execute(ctx, input)
		require.NoError(t, err)

		assert.True(t, out.Included)
		assert.Equal(t, 2, out.EligibilityResult.ExecutionMetrics.CacheHits)
		assert.Equal(t, 0, out.EligibilityResult.ExecutionMetrics.TotalAPICalls)
		assert.Equal(t, int32(2), upstream.calls.Load())
	})

	t.Run("outage falls back to the stale copy", func(t *testing.T) {
		mr.FastForward(2 * time.Minute)
		upstream.accountDown.Store(true)

		input.CorrelationID = "e2e-3"
		out, err := handler.Execute(ctx, input)
		require.NoError(t, err)

		assert.True(t, out.Included)
		assert.Empty(t, out.EligibilityResult.FailureReason)
		assert.GreaterOrEqual(t, out.EligibilityResult.ExecutionMetrics.CacheHits, 1)
	})

	t.Run("unknown template fails the job", func(t *testing.T) {
		_, err := handler.Execute(ctx, &evaluate.Input{TemplateID: "TPL-MISSING"})
		assert.ErrorContains(t, err, "CONFIG_NOT_FOUND")
	})

	docs := recorded.all()
	require.Len(t, docs, 3)
	for i, doc := range docs {
		assert.Equal(t, fmt.Sprintf("e2e-%d", i+1), doc["correlationId"])
		assert.Equal(t, "TPL-DISCLOSURE", doc["templateId"])
		assert.Equal(t, true, doc["included"])
	}
}
