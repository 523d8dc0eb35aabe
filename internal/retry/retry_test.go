package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitStopsAfterMaxAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	b := p.NewBackOff()

	for i := 0; i < 3; i++ {
		require.NoError(t, Wait(context.Background(), b), "attempt %d", i+1)
	}
	assert.ErrorIs(t, Wait(context.Background(), b), ErrExhausted)
}

func TestWaitZeroAttempts(t *testing.T) {
	b := Policy{MaxAttempts: 0, BaseDelay: time.Millisecond}.NewBackOff()
	assert.ErrorIs(t, Wait(context.Background(), b), ErrExhausted)
}

func TestWaitHonoursContext(t *testing.T) {
	b := Policy{MaxAttempts: 1, BaseDelay: time.Hour, MaxDelay: time.Hour}.NewBackOff()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Wait(ctx, b)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestNewBackOffDelaysAreCapped(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond}
	b := p.NewBackOff()

	for i := 0; i < 10; i++ {
		d := b.NextBackOff()
		// 50% jitter around an interval capped at MaxDelay
		assert.LessOrEqual(t, d, 60*time.Millisecond)
		assert.Greater(t, d, time.Duration(0))
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, 32*time.Second, p.MaxDelay)
}
