package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the scrapejobs server.
//
// Only Server.Port, Reaper.Interval and Jobs.TTL shape the core job
// registry. Database, Redis and the rate limit are optional integrations
// that stay disabled while their variables are unset.
type Config struct {
	Server   ServerConfig
	Jobs     JobsConfig
	Reaper   ReaperConfig
	Scraper  ScraperConfig
	Database DatabaseConfig
	Redis    RedisConfig
}

type ServerConfig struct {
	Port int    `env:"SCRAPEJOBS_PORT" envDefault:"3000"`
	Env  string `env:"SCRAPEJOBS_ENV" envDefault:"development"`
}

// JobsConfig controls job lifetime. TTL counts from creation; polling does
// not extend it, so clients whose jobs outlive the TTL must resubmit.
type JobsConfig struct {
	TTL           time.Duration `env:"SCRAPEJOBS_JOB_TTL" envDefault:"30m"`
	MaxConcurrent int64         `env:"SCRAPEJOBS_MAX_CONCURRENT_JOBS" envDefault:"0"`
}

type ReaperConfig struct {
	Interval time.Duration `env:"SCRAPEJOBS_SWEEP_INTERVAL" envDefault:"30m"`
	// Cron expression; takes precedence over Interval when set.
	Schedule string `env:"SCRAPEJOBS_SWEEP_SCHEDULE"`
}

type ScraperConfig struct {
	BaseURL           string        `env:"SCRAPER_BASE_URL" envDefault:"https://twitter.com"`
	Timeout           time.Duration `env:"SCRAPER_TIMEOUT" envDefault:"15s"`
	RequestsPerSecond float64       `env:"SCRAPER_REQUESTS_PER_SECOND" envDefault:"2"`
	Burst             int           `env:"SCRAPER_BURST" envDefault:"1"`
}

type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"2"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"5m"`
}

type RedisConfig struct {
	URL                string `env:"REDIS_URL"`
	RateLimitPerMinute int    `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`
}

// ArchiveEnabled reports whether terminal job outcomes go to Postgres.
func (c *Config) ArchiveEnabled() bool { return c.Database.URL != "" }

// RateLimitEnabled reports whether requests are rate limited through Redis.
func (c *Config) RateLimitEnabled() bool { return c.Redis.URL != "" }

// Load reads an optional .env file and the environment, and returns a
// validated Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("load .env file: %w", err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("SCRAPEJOBS_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Jobs.TTL <= 0 {
		return fmt.Errorf("SCRAPEJOBS_JOB_TTL must be positive, got %s", c.Jobs.TTL)
	}
	if c.Jobs.MaxConcurrent < 0 {
		return fmt.Errorf("SCRAPEJOBS_MAX_CONCURRENT_JOBS must not be negative, got %d", c.Jobs.MaxConcurrent)
	}
	if c.Reaper.Interval <= 0 {
		return fmt.Errorf("SCRAPEJOBS_SWEEP_INTERVAL must be positive, got %s", c.Reaper.Interval)
	}

	if !hasHTTPScheme(c.Scraper.BaseURL) {
		return fmt.Errorf("SCRAPER_BASE_URL must start with http:// or https://, got %q", c.Scraper.BaseURL)
	}
	if c.Scraper.Timeout <= 0 {
		return fmt.Errorf("SCRAPER_TIMEOUT must be positive, got %s", c.Scraper.Timeout)
	}

	if c.Database.URL != "" &&
		!strings.HasPrefix(c.Database.URL, "postgres://") && !strings.HasPrefix(c.Database.URL, "postgresql://") {
		return fmt.Errorf("DATABASE_URL must start with postgres:// or postgresql://")
	}
	if c.Redis.URL != "" &&
		!strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://")
	}
	if c.RateLimitEnabled() && c.Redis.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive, got %d", c.Redis.RateLimitPerMinute)
	}

	return nil
}

func hasHTTPScheme(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}
