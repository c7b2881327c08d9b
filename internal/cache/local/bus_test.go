package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	a, err := bus.Subscribe(ctx, "escrow:deals")
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx, "escrow:deals")
	require.NoError(t, err)
	other, err := bus.Subscribe(ctx, "escrow:deposits")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "escrow:deals", []byte("x")))
	assert.Equal(t, []byte("x"), <-a)
	assert.Equal(t, []byte("x"), <-b)
	select {
	case <-other:
		t.Fatal("unexpected message on other channel")
	default:
	}

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-a
		return !ok
	}, time.Second, 10*time.Millisecond)
}
