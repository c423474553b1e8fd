// internal/engine/cache/cache_test.go
package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"document-eligibility/internal/common/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisGateway(t *testing.T) (*RedisGateway, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisGateway(client, "elig:", time.Hour, logger.NewTestLogger(t)), mr
}

// ==========================
// Redis gateway
// ==========================

func TestRedisGateway_SetGet(t *testing.T) {
	g, mr := newMiniredisGateway(t)
	ctx := context.Background()

	_, hit, err := g.Get(ctx, "acct:ACC1")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, g.Set(ctx, "acct:ACC1", []byte(`{"status":"ACTIVE"}`), time.Minute))

	body, hit, err := g.Get(ctx, "acct:ACC1")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.JSONEq(t, `{"status":"ACTIVE"}`, string(body))

	assert.True(t, mr.Exists("elig:acct:ACC1"))
	assert.True(t, mr.Exists("elig:stale:acct:ACC1"))
	assert.Equal(t, time.Minute, mr.TTL("elig:acct:ACC1"))
	assert.Equal(t, time.Hour, mr.TTL("elig:stale:acct:ACC1"))
}

func TestRedisGateway_StaleOutlivesFresh(t *testing.T) {
	g, mr := newMiniredisGateway(t)
	ctx := context.Background()

	require.NoError(t, g.Set(ctx, "zip:ACC1", []byte(`{"zip":"90001"}`), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, hit, err := g.Get(ctx, "zip:ACC1")
	require.NoError(t, err)
	assert.False(t, hit)

	body, hit, err := g.GetStale(ctx, "zip:ACC1")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.JSONEq(t, `{"zip":"90001"}`, string(body))
}

func TestRedisGateway_Invalidate(t *testing.T) {
	g, mr := newMiniredisGateway(t)
	ctx := context.Background()

	require.NoError(t, g.Set(ctx, "k", []byte(`1`), time.Minute))
	require.NoError(t, g.Invalidate(ctx, "k"))

	assert.False(t, mr.Exists("elig:k"))
	assert.False(t, mr.Exists("elig:stale:k"))
}

func TestRedisGateway_Errors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(mock redismock.ClientMock)
		call  func(g *RedisGateway) error
	}{
		{
			name:  "get failure",
			setup: func(mock redismock.ClientMock) { mock.ExpectGet("p:k").SetErr(errors.New("conn reset")) },
			call: func(g *RedisGateway) error {
				_, _, err := g.Get(context.Background(), "k")
				return err
			},
		},
		{
			name: "set failure",
			setup: func(mock redismock.ClientMock) {
				mock.ExpectSet("p:k", []byte("v"), time.Minute).SetErr(errors.New("readonly"))
			},
			call: func(g *RedisGateway) error {
				return g.Set(context.Background(), "k", []byte("v"), time.Minute)
			},
		},
		{
			name:  "del failure",
			setup: func(mock redismock.ClientMock) { mock.ExpectDel("p:k", "p:stale:k").SetErr(errors.New("down")) },
			call: func(g *RedisGateway) error {
				return g.Invalidate(context.Background(), "k")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mock := redismock.NewClientMock()
			tt.setup(mock)

			g := NewRedisGateway(client, "p:", 0, logger.NewTestLogger(t))
			assert.Error(t, tt.call(g))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRedisGateway_StaleWriteFailureIsNotFatal(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectSet("p:k", []byte("v"), time.Minute).SetVal("OK")
	mock.ExpectSet("p:stale:k", []byte("v"), DefaultStaleTTL).SetErr(errors.New("oom"))

	log, logs := logger.NewObservedLogger("debug")
	g := NewRedisGateway(client, "p:", 0, log)

	assert.NoError(t, g.Set(context.Background(), "k", []byte("v"), time.Minute))
	assert.Equal(t, 1, logs.FilterMessage("Failed to write stale copy").Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Memory gateway
// ==========================

func TestMemoryGateway(t *testing.T) {
	clock := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	g := NewMemoryGateway(time.Hour)
	g.now = func() time.Time { return clock }
	ctx := context.Background()

	require.NoError(t, g.Set(ctx, "k", []byte("body"), time.Minute))

	body, hit, _ := g.Get(ctx, "k")
	assert.True(t, hit)
	assert.Equal(t, "body", string(body))

	clock = clock.Add(2 * time.Minute)
	_, hit, _ = g.Get(ctx, "k")
	assert.False(t, hit)

	body, hit, _ = g.GetStale(ctx, "k")
	assert.True(t, hit)
	assert.Equal(t, "body", string(body))

	clock = clock.Add(time.Hour)
	_, hit, _ = g.GetStale(ctx, "k")
	assert.False(t, hit)

	require.NoError(t, g.Set(ctx, "k", []byte("again"), 0))
	require.NoError(t, g.Invalidate(ctx, "k"))
	_, hit, _ = g.Get(ctx, "k")
	assert.False(t, hit)
	_, hit, _ = g.GetStale(ctx, "k")
	assert.False(t, hit)
}

func TestNop(t *testing.T) {
	var g Gateway = Nop{}
	require.NoError(t, g.Set(context.Background(), "k", []byte("v"), time.Minute))
	_, hit, err := g.Get(context.Background(), "k")
	assert.NoError(t, err)
	assert.False(t, hit)
}
