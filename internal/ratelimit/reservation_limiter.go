package ratelimit

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/settlement/internal/config"
)

const keyReservationOrg = "credit:reserve:org:%s"

// ReservationLimiter throttles how fast one organization can open credit
// reservations. A nil or disabled limiter allows everything.
type ReservationLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewReservationLimiter(cfg config.Config, client *redis.Client) (*ReservationLimiter, error) {
	if !cfg.RateLimit.Enabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limit requires REDIS_ADDR")
	}
	if cfg.RateLimit.ReservationRate <= 0 || cfg.RateLimit.ReservationBurst <= 0 {
		return nil, errors.New("reservation rate limit must be positive")
	}
	return &ReservationLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.RateLimit.ReservationRate,
		burst:  cfg.RateLimit.ReservationBurst,
	}, nil
}

func (l *ReservationLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *ReservationLimiter) AllowOrg(ctx context.Context, orgID snowflake.ID) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyReservationOrg, orgID.String()), l.rate, l.burst)
}
