package enforce

import (
	"context"
	"sync"
	"time"
)

// CountResult describes the outcome of one quota count.
type CountResult struct {
	Allowed   bool
	Remaining int64
	Reset     time.Time
}

// Limiter counts requests against a fixed window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (CountResult, error)
}

type memoryEntry struct {
	bucket int64
	count  int64
}

// MemoryLimiter is a fixed-window in-process limiter.
type MemoryLimiter struct {
	mu       sync.Mutex
	counters map[string]*memoryEntry
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		counters: make(map[string]*memoryEntry),
	}
}

// Allow counts one request for key in the current window. A limit of zero
// or below always denies; that is what backs the default-deny baseline.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int64, window time.Duration, now time.Time) (CountResult, error) {
	if window <= 0 {
		window = time.Minute
	}
	windowSec := int64(window / time.Second)
	if windowSec <= 0 {
		windowSec = 1
	}
	bucket := now.Unix() / windowSec
	reset := time.Unix((bucket+1)*windowSec, 0).UTC()
	if limit <= 0 {
		return CountResult{Allowed: false, Remaining: 0, Reset: reset}, nil
	}

	l.mu.Lock()
	entry := l.counters[key]
	if entry == nil {
		entry = &memoryEntry{bucket: bucket}
		l.counters[key] = entry
	}
	if entry.bucket != bucket {
		entry.bucket = bucket
		entry.count = 0
	}
	if entry.count >= limit {
		l.mu.Unlock()
		return CountResult{Allowed: false, Remaining: 0, Reset: reset}, nil
	}
	entry.count++
	remaining := limit - entry.count
	l.mu.Unlock()
	return CountResult{Allowed: true, Remaining: remaining, Reset: reset}, nil
}
