//go:build integration

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-policy-runtime/internal/counter"
	"github.com/xela07ax/spaceai-policy-runtime/internal/denom"
)

const (
	testStateKey = "test:pause-state"
	testChannel  = "test:pause-signal"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	addr, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(addr)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func loadedEngine(t *testing.T, fp string) *Engine {
	t.Helper()
	e := New(counter.NewMemoryStore(), nil, nil, zap.NewNop(), WithRegistryLoader(func(string) denom.Registry { return nil }))
	require.NoError(t, e.LoadPolicy([]byte(`{"allowlist":[]}`), fp))
	return e
}

func TestPauseStateSync(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()
	e := loadedEngine(t, "0xabc")
	state := NewPauseState(e, rdb, testStateKey)

	require.NoError(t, state.Sync(ctx))
	assert.False(t, e.Status().Paused, "empty state leaves the policy alone")

	_, err := PublishPause(ctx, rdb, testStateKey, testChannel, "*", true)
	require.NoError(t, err)
	require.NoError(t, state.Sync(ctx))
	assert.True(t, e.Status().Paused)

	// Запись по отпечатку перекрывает "*".
	_, err = PublishPause(ctx, rdb, testStateKey, testChannel, "0xabc", false)
	require.NoError(t, err)
	require.NoError(t, state.Sync(ctx))
	assert.False(t, e.Status().Paused)
}

func TestListenPauseResilient(t *testing.T) {
	rdb := startRedis(t)
	e := loadedEngine(t, "0xabc")
	state := NewPauseState(e, rdb, testStateKey)

	// Пауза объявлена до старта слушателя: подхватится через onReconnect.
	_, err := PublishPause(context.Background(), rdb, testStateKey, testChannel, "*", true)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.ListenPauseResilient(ctx, rdb, testChannel, func() error { return state.Sync(ctx) })

	require.Eventually(t, func() bool { return e.Status().Paused }, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		n, err := PublishPause(ctx, rdb, testStateKey, testChannel, "0xabc", false)
		return err == nil && n > 0
	}, 5*time.Second, 50*time.Millisecond)
	require.Eventually(t, func() bool { return !e.Status().Paused }, 5*time.Second, 20*time.Millisecond)
}
