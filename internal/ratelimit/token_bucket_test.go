package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/settlement/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketTTLCoversTwoFullRefills(t *testing.T) {
	assert.Equal(t, 4*time.Second, bucketTTL(20, 40))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
	assert.Equal(t, time.Second, bucketTTL(0, 10))
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, retryAfter(0, 2))
	assert.Zero(t, retryAfter(3, 2))
}

func TestDisabledReservationLimiterAllows(t *testing.T) {
	limiter, err := NewReservationLimiter(config.Config{}, nil)
	require.NoError(t, err)
	assert.Nil(t, limiter)

	res, err := limiter.AllowOrg(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	_, err = NewReservationLimiter(config.Config{RateLimit: config.RateLimitConfig{Enabled: true, ReservationRate: 1, ReservationBurst: 1}}, nil)
	require.Error(t, err)
}

func TestLockerWithoutClient(t *testing.T) {
	var locker *Locker
	_, _, err := locker.TryLock(context.Background(), "k", time.Second)
	require.ErrorIs(t, err, ErrLockNotConfigured)
	require.NoError(t, locker.Release(context.Background(), "k", "t"))
}
