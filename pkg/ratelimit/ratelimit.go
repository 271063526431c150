package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/aisu-os/core/pkg/apperr"
)

// Limiter is the fixed-window rate limit contract. Hit records one request
// for key and fails with RateLimited when the window is full, or Unavailable
// when the backend cannot be reached (callers fail closed).
type Limiter interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration) error
}

// MemoryLimiter keeps a per-key deque of monotonic timestamps under a single
// mutex. Suitable for single-process deployments.
type MemoryLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	clock    func() time.Time
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		requests: make(map[string][]time.Time),
		clock:    time.Now,
	}
}

func (l *MemoryLimiter) Hit(_ context.Context, key string, limit int, window time.Duration) error {
	now := l.clock()
	cutoff := now.Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	queue := l.requests[key]

	// Trim entries that fell out of the window.
	i := 0
	for i < len(queue) && !queue[i].After(cutoff) {
		i++
	}
	queue = queue[i:]

	if len(queue) >= limit {
		l.requests[key] = queue
		return apperr.New(apperr.RateLimited, "Rate limit exceeded")
	}

	l.requests[key] = append(queue, now)
	return nil
}

// Reset clears every window. The test harness relies on this between cases.
func (l *MemoryLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = make(map[string][]time.Time)
}

var (
	globalMu sync.Mutex
	global   Limiter
)

// Global returns the process-wide limiter, creating it with build on first
// access.
func Global(build func() Limiter) Limiter {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = build()
	}
	return global
}

// ResetGlobal drops the process-wide limiter so the next Global call
// rebuilds it with fresh windows.
func ResetGlobal() {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = nil
}
