// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/planwatch/planwatch/internal/scraper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig            `mapstructure:"server"`
	Scraper  ScraperConfig           `mapstructure:"scraper"`
	Headless HeadlessConfig          `mapstructure:"headless"`
	Database DatabaseConfig          `mapstructure:"database"`
	Logging  LoggingConfig           `mapstructure:"logging"`
	Keywords []string                `mapstructure:"keywords"`
	Boroughs []scraper.BoroughConfig `mapstructure:"boroughs"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ScraperConfig governs portal politeness and search behavior.
type ScraperConfig struct {
	UserAgent           string `mapstructure:"user_agent"`
	RequestDelaySeconds int    `mapstructure:"request_delay_seconds"`
	KeywordDelaySeconds int    `mapstructure:"keyword_delay_seconds"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	MaxRetries          int    `mapstructure:"max_retries"`
	MaxCandidates       int    `mapstructure:"max_candidates"`
	MaxParallel         int    `mapstructure:"max_parallel"`
	RespectRobots       bool   `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the browser fallback for blocked portals.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	DSN                string `mapstructure:"dsn"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMin int    `mapstructure:"max_conn_lifetime_minutes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DefaultKeywords are the monitoring-related search terms used when the
// config file names none.
var DefaultKeywords = []string{
	"remote monitoring",
	"noise monitoring",
	"vibration monitoring",
	"dust monitoring",
	"subsidence monitoring",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PLANWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("scraper.user_agent", "planwatch-bot/1.0")
	v.SetDefault("scraper.request_delay_seconds", 2)
	v.SetDefault("scraper.keyword_delay_seconds", 1)
	v.SetDefault("scraper.timeout_seconds", 30)
	v.SetDefault("scraper.max_retries", 3)
	v.SetDefault("scraper.max_candidates", 10)
	v.SetDefault("scraper.max_parallel", 3)
	v.SetDefault("scraper.respect_robots", true)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime_minutes", 30)
	v.SetDefault("logging.development", true)
	v.SetDefault("keywords", DefaultKeywords)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.TimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.timeout_seconds must be > 0")
	}
	if c.Scraper.MaxParallel <= 0 {
		return fmt.Errorf("scraper.max_parallel must be > 0")
	}
	if c.Scraper.MaxCandidates <= 0 {
		return fmt.Errorf("scraper.max_candidates must be > 0")
	}
	if len(c.Keywords) == 0 {
		return fmt.Errorf("at least one keyword is required")
	}
	if len(c.Boroughs) == 0 {
		return fmt.Errorf("at least one borough is required")
	}
	for i, b := range c.Boroughs {
		if b.Name == "" {
			return fmt.Errorf("boroughs[%d].name is required", i)
		}
		if b.BaseURL == "" {
			return fmt.Errorf("borough %q: base_url is required", b.Name)
		}
		if b.SearchURL == "" {
			return fmt.Errorf("borough %q: search_url is required", b.Name)
		}
		switch b.PortalFamily {
		case "idox", "cards":
		default:
			return fmt.Errorf("borough %q: unknown portal_family %q", b.Name, b.PortalFamily)
		}
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	return nil
}

// RequestDelay is the minimum spacing between portal requests.
func (c Config) RequestDelay() time.Duration {
	return time.Duration(c.Scraper.RequestDelaySeconds) * time.Second
}

// KeywordDelay is the minimum spacing between keyword searches per borough.
func (c Config) KeywordDelay() time.Duration {
	return time.Duration(c.Scraper.KeywordDelaySeconds) * time.Second
}

// Timeout is the per-request HTTP timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.Scraper.TimeoutSeconds) * time.Second
}

// NavTimeout is the headless navigation budget.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// MaxConnLifetime converts the pool lifetime knob to a duration.
func (c DatabaseConfig) MaxConnLifetime() time.Duration {
	return time.Duration(c.MaxConnLifetimeMin) * time.Minute
}
