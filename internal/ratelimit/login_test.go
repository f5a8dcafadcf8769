package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBucketExhaustsAndRefills(t *testing.T) {
	bucket := NewMemoryBucket()
	now := time.Now()
	bucket.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, err := bucket.Allow(context.Background(), "k", 1, 3)
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d should pass", i)
	}

	ok, err := bucket.Allow(context.Background(), "k", 1, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	// One token refills after a second.
	now = now.Add(time.Second)
	ok, err = bucket.Allow(context.Background(), "k", 1, 3)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryBucketIsolatesKeys(t *testing.T) {
	bucket := NewMemoryBucket()

	ok, err := bucket.Allow(context.Background(), "a", 1, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = bucket.Allow(context.Background(), "b", 1, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLoginLimiterDeniesPerAccount(t *testing.T) {
	limiter := NewLoginLimiter(NewMemoryBucket(), nil, LoginLimiterConfig{
		IPRate:     100,
		IPBurst:    100,
		EmailRate:  0.01,
		EmailBurst: 2,
	})

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(context.Background(), "10.0.0.1", "alice@example.com")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := limiter.Allow(context.Background(), "10.0.0.2", "alice@example.com")
	require.NoError(t, err)
	assert.False(t, ok, "third attempt against the same account should be denied")

	// A different account from the same IP is fine.
	ok, err = limiter.Allow(context.Background(), "10.0.0.2", "bob@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLoginLimiterDisabled(t *testing.T) {
	var limiter *LoginLimiter
	ok, err := limiter.Allow(context.Background(), "10.0.0.1", "alice@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
}
