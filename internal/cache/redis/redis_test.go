package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("escrow:*"))
	assert.True(t, hasPattern("escrow:deal?"))
	assert.False(t, hasPattern("escrow:deals"))
}

func TestOptions(t *testing.T) {
	o := options(ClientConfig{Addr: "cache.internal:6380", DB: 2, PoolSize: 8})
	assert.Equal(t, "cache.internal:6380", o.Addr)
	assert.Equal(t, clientName, o.ClientName)
	assert.Equal(t, 2, o.DB)
	assert.Equal(t, 8, o.PoolSize)
	assert.Equal(t, opTimeout, o.ReadTimeout)
	assert.Nil(t, o.TLSConfig)

	o = options(ClientConfig{Addr: "cache.internal:6380", TLSEnabled: true})
	require.NotNil(t, o.TLSConfig)
	assert.Equal(t, "cache.internal", o.TLSConfig.ServerName)
}

func TestSlidingWindowScriptEmbedded(t *testing.T) {
	assert.Contains(t, slidingWindowLua, "ZREMRANGEBYSCORE")
}

// Tests below need a live server, e.g. ESCROWBOT_TEST_REDIS=localhost:6379.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("ESCROWBOT_TEST_REDIS")
	if addr == "" {
		t.Skip("ESCROWBOT_TEST_REDIS not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLockManager(t *testing.T) {
	lm := NewLockManager(newTestClient(t))
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	unlock, err := lm.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, key, 5*time.Second)
	assert.True(t, errors.Is(err, domain.ErrLockHeld))

	unlock()
	unlock()

	again, err := lm.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	again()
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(newTestClient(t))
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignalBusRoundTrip(t *testing.T) {
	bus := NewSignalBus(newTestClient(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := bus.Subscribe(ctx, "escrow:test:*")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, "escrow:test:deals", []byte(`{"type":"deal.created"}`)))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"type":"deal.created"}`, string(msg))
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}
