package scheduler

import (
	"time"

	"github.com/smallbiznis/settlement/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval    time.Duration
	BatchSize      int
	JobTimeout     time.Duration
	ReservationTTL time.Duration
	GrantLookback  time.Duration
	EnabledJobs    []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:    time.Minute,
		BatchSize:      100,
		JobTimeout:     30 * time.Second,
		ReservationTTL: 15 * time.Minute,
		GrantLookback:  72 * time.Hour,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:    cfg.Scheduler.RunInterval,
		BatchSize:      cfg.Scheduler.BatchSize,
		ReservationTTL: cfg.Credit.ReservationTTL,
		EnabledJobs:    cfg.Scheduler.EnabledJobs,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.ReservationTTL <= 0 {
		c.ReservationTTL = defaults.ReservationTTL
	}
	if c.GrantLookback <= 0 {
		c.GrantLookback = defaults.GrantLookback
	}
	return c
}
