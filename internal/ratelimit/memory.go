package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryBucket is a per-process token bucket for deployments without
// redis. Limits are not shared across instances.
type MemoryBucket struct {
	mu      sync.Mutex
	buckets map[string]*memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	tokens float64
	ts     time.Time
}

func NewMemoryBucket() *MemoryBucket {
	return &MemoryBucket{
		buckets: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

func (b *MemoryBucket) Allow(ctx context.Context, key string, rate float64, burst int) (bool, error) {
	_ = ctx
	if key == "" {
		return false, errors.New("rate limiter key is empty")
	}
	if rate <= 0 || burst <= 0 {
		return false, errors.New("rate limiter rate and burst must be positive")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	entry, ok := b.buckets[key]
	if !ok {
		entry = &memoryEntry{tokens: float64(burst), ts: now}
		b.buckets[key] = entry
	} else {
		delta := now.Sub(entry.ts).Seconds()
		if delta < 0 {
			delta = 0
		}
		entry.tokens = minFloat(float64(burst), entry.tokens+delta*rate)
		entry.ts = now
	}

	if entry.tokens >= 1 {
		entry.tokens--
		return true, nil
	}
	return false, nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
