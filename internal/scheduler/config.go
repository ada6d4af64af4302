package scheduler

import (
	"time"

	"github.com/Pasandul2/ZORO9X-sub000/internal/config"
)

// Config controls the scheduler loop.
type Config struct {
	RunInterval time.Duration
	JobTimeout  time.Duration
	// LockTTL bounds how long a crashed replica can hold a job lock.
	LockTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Hour,
		JobTimeout:  5 * time.Minute,
		LockTTL:     10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.LockTTL < c.JobTimeout {
		c.LockTTL = c.JobTimeout
	}
	return c
}

// ProvideConfig takes the run interval from the policy loaded at startup.
func ProvideConfig(policy *config.PolicyHolder) Config {
	cfg := DefaultConfig()
	cfg.RunInterval = policy.Get().ResetInterval
	return cfg
}
