package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath       = "config.toml"
	DefaultHTTPAddr         = ":8080"
	DefaultPGHost           = "127.0.0.1"
	DefaultPGPort           = 5432
	DefaultPGUser           = "postgres"
	DefaultPGDatabase       = "leadline"
	DefaultPGSSLMode        = "disable"
	DefaultJWTExpiresIn     = "24h"
	DefaultQuietPeriod      = 8 * time.Second
	MaxQuietPeriod          = 10 * time.Second
	DefaultProviderTimeout  = 45 * time.Second
	DefaultEnrichTimeout    = 20 * time.Second
	DefaultDeliveryTimeout  = 15 * time.Second
	DefaultMaxAttempts      = 3
	DefaultBackoffBase      = time.Minute
	DefaultBackoffCap       = 30 * time.Minute
	DefaultSummaryStaleness = 15 * time.Minute
)

type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Admin     AdminConfig     `toml:"admin"`
	Auth      AuthConfig      `toml:"auth"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Gateway   GatewayConfig   `toml:"gateway"`
	Reasoning ReasoningConfig `toml:"reasoning"`
	Debounce  DebounceConfig  `toml:"debounce"`
	Delivery  DeliveryConfig  `toml:"delivery"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AdminConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

type PostgresConfig struct {
	Host     string `toml:"host" validate:"required"`
	Port     int    `toml:"port" validate:"gt=0,lte=65535"`
	User     string `toml:"user" validate:"required"`
	Password string `toml:"password"`
	Database string `toml:"database" validate:"required"`
	SSLMode  string `toml:"sslmode"`
}

// GatewayConfig configures the inbound messaging gateway webhook and the
// outbound reply channel back to the same gateway.
type GatewayConfig struct {
	SharedSecret   string  `toml:"shared_secret"`
	SendURL        string  `toml:"send_url" validate:"omitempty,url"`
	RateLimitRPS   float64 `toml:"rate_limit_rps"`
	RateLimitBurst int     `toml:"rate_limit_burst"`
}

// ReasoningConfig configures the external reasoning provider.
type ReasoningConfig struct {
	BaseURL        string `toml:"base_url" validate:"omitempty,url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

func (c ReasoningConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultProviderTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DebounceConfig configures message consolidation.
type DebounceConfig struct {
	QuietPeriodSeconds      int `toml:"quiet_period_seconds"`
	SummaryStalenessMinutes int `toml:"summary_staleness_minutes"`
}

// QuietPeriod returns the configured quiet period clamped to the
// project-wide cap.
func (c DebounceConfig) QuietPeriod() time.Duration {
	d := time.Duration(c.QuietPeriodSeconds) * time.Second
	if d <= 0 {
		d = DefaultQuietPeriod
	}
	if d > MaxQuietPeriod {
		d = MaxQuietPeriod
	}
	return d
}

func (c DebounceConfig) SummaryStaleness() time.Duration {
	if c.SummaryStalenessMinutes <= 0 {
		return DefaultSummaryStaleness
	}
	return time.Duration(c.SummaryStalenessMinutes) * time.Minute
}

// DeliveryConfig configures the outbound webhook delivery worker.
type DeliveryConfig struct {
	IntervalSeconds    int  `toml:"interval_seconds"`
	MaxAttempts        int  `toml:"max_attempts"`
	BackoffBaseSeconds int  `toml:"backoff_base_seconds"`
	BackoffCapSeconds  int  `toml:"backoff_cap_seconds"`
	TimeoutSeconds     int  `toml:"timeout_seconds"`
	AllowPrivate       bool `toml:"allow_private_targets"`
}

func (c DeliveryConfig) Interval() time.Duration {
	if c.IntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c DeliveryConfig) Attempts() int {
	if c.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return c.MaxAttempts
}

func (c DeliveryConfig) BackoffBase() time.Duration {
	if c.BackoffBaseSeconds <= 0 {
		return DefaultBackoffBase
	}
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}

func (c DeliveryConfig) BackoffCap() time.Duration {
	if c.BackoffCapSeconds <= 0 {
		return DefaultBackoffCap
	}
	return time.Duration(c.BackoffCapSeconds) * time.Second
}

func (c DeliveryConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultDeliveryTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Admin: AdminConfig{
			Username: "admin",
			Password: "change-your-password-here",
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Gateway: GatewayConfig{
			RateLimitRPS:   5,
			RateLimitBurst: 20,
		},
		Reasoning: ReasoningConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
