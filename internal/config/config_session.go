package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// SessionConfig configures context and pending-intent persistence.
type SessionConfig struct {
	// Driver is memory, sqlite or postgres.
	Driver string `yaml:"driver" validate:"oneof=memory sqlite postgres"`
	DSN    string `yaml:"dsn" validate:"required_unless=Driver memory"`

	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"gte=0"`

	// Migrate is auto (apply on startup) or manual (run `chatia migrate`).
	Migrate string `yaml:"migrate" validate:"oneof=auto manual"`

	// CacheTTL enables the read cache in front of the store. Zero disables it.
	CacheTTL time.Duration `yaml:"cache_ttl" validate:"gte=0"`

	Locker  LockerConfig  `yaml:"locker"`
	Janitor JanitorConfig `yaml:"janitor"`
}

// LockerConfig selects how turns of one session are serialized.
type LockerConfig struct {
	Backend string        `yaml:"backend" validate:"oneof=local redis"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
	Redis   RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"gte=0"`
	Prefix   string        `yaml:"prefix"`
	LeaseTTL time.Duration `yaml:"lease_ttl" validate:"gte=0"`
}

// JanitorConfig schedules the sweep of expired intents and stale rows.
type JanitorConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Schedule  string        `yaml:"schedule"`
	Retention time.Duration `yaml:"retention" validate:"gte=0"`
}

func (c *SessionConfig) applyDefaults() {
	if c.Driver == "" {
		c.Driver = "memory"
	}
	if c.Migrate == "" {
		c.Migrate = "auto"
	}
	if c.Locker.Backend == "" {
		c.Locker.Backend = "local"
	}
	if c.Locker.Timeout == 0 {
		c.Locker.Timeout = 30 * time.Second
	}
	if c.Locker.Redis.Prefix == "" {
		c.Locker.Redis.Prefix = "chatia:lock:"
	}
	if c.Locker.Redis.LeaseTTL == 0 {
		c.Locker.Redis.LeaseTTL = time.Minute
	}
	if c.Janitor.Schedule == "" {
		c.Janitor.Schedule = "@every 5m"
	}
	if c.Janitor.Retention == 0 {
		c.Janitor.Retention = 7 * 24 * time.Hour
	}
}

func (c *SessionConfig) validate() []error {
	var errs []error
	if c.Locker.Backend == "redis" && c.Locker.Redis.Addr == "" {
		errs = append(errs, fmt.Errorf("session.locker.redis.addr: is required when backend is redis"))
	}
	if c.Janitor.Enabled {
		if _, err := cron.ParseStandard(c.Janitor.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("session.janitor.schedule: %w", err))
		}
	}
	return errs
}
