package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aisu-os/core/pkg/apperr"
)

func TestMemoryLimiterFixedWindow(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Unix(1000, 0)
	limiter.clock = func() time.Time { return now }

	ctx := context.Background()
	window := time.Minute

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Hit(ctx, "route:1.2.3.4", 5, window))
	}

	// The (limit+1)-th call inside the window is rejected.
	err := limiter.Hit(ctx, "route:1.2.3.4", 5, window)
	require.Error(t, err)
	assert.Equal(t, apperr.RateLimited, apperr.KindOf(err))

	// A different key is unaffected.
	assert.NoError(t, limiter.Hit(ctx, "route:5.6.7.8", 5, window))

	// One call issued after the window has passed succeeds.
	now = now.Add(window + time.Second)
	assert.NoError(t, limiter.Hit(ctx, "route:1.2.3.4", 5, window))
}

func TestMemoryLimiterTrimsExpired(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Unix(1000, 0)
	limiter.clock = func() time.Time { return now }

	ctx := context.Background()

	require.NoError(t, limiter.Hit(ctx, "k", 2, time.Minute))
	now = now.Add(30 * time.Second)
	require.NoError(t, limiter.Hit(ctx, "k", 2, time.Minute))

	// First entry expires; a slot frees up.
	now = now.Add(31 * time.Second)
	assert.NoError(t, limiter.Hit(ctx, "k", 2, time.Minute))
}

func TestMemoryLimiterReset(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()

	require.NoError(t, limiter.Hit(ctx, "k", 1, time.Minute))
	require.Error(t, limiter.Hit(ctx, "k", 1, time.Minute))

	limiter.Reset()
	assert.NoError(t, limiter.Hit(ctx, "k", 1, time.Minute))
}

func TestGlobalMemoization(t *testing.T) {
	ResetGlobal()
	t.Cleanup(ResetGlobal)

	builds := 0
	build := func() Limiter {
		builds++
		return NewMemoryLimiter()
	}

	first := Global(build)
	second := Global(build)
	assert.Same(t, first, second)
	assert.Equal(t, 1, builds)

	// Reinitialization clears all windows by rebuilding.
	ResetGlobal()
	third := Global(build)
	assert.NotSame(t, first, third)
	assert.Equal(t, 2, builds)
}
