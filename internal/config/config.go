package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/database"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/utilities"
)

// Config aggregates all runtime settings.
type Config struct {
	App       AppConfig        `envPrefix:"IDENTITY_"`
	Security  SecurityConfig   `envPrefix:"IDENTITY_"`
	HTTP      HTTPConfig       `envPrefix:"IDENTITY_HTTP_"`
	Database  database.Config  `envPrefix:"IDENTITY_DB_"`
	Log       utilities.Config `envPrefix:"IDENTITY_LOG_"`
	Token     TokenConfig      `envPrefix:"IDENTITY_TOKEN_"`
	RateLimit RateLimitConfig  `envPrefix:"IDENTITY_RATELIMIT_"`
	Device    DeviceConfig     `envPrefix:"IDENTITY_DEVICE_"`
}

type AppConfig struct {
	Environment   string `env:"ENV" envDefault:"development"`
	ServiceName   string `env:"SERVICE_NAME" envDefault:"service-restaurant-identity"`
	OperatorKey   string `env:"OPERATOR_KEY"`
	OnboardingKey string `env:"ONBOARDING_KEY"`
	SnowflakeNode int64  `env:"SNOWFLAKE_NODE" envDefault:"1"`
}

type SecurityConfig struct {
	LockoutThreshold  int           `env:"LOCKOUT_THRESHOLD" envDefault:"5"`
	LockoutDuration   time.Duration `env:"LOCKOUT_DURATION" envDefault:"15m"`
	PasswordMinLength int           `env:"PASSWORD_MIN_LENGTH" envDefault:"8"`
	BcryptCost        int           `env:"BCRYPT_COST" envDefault:"12"`
}

type HTTPConfig struct {
	Addr              string        `env:"ADDR" envDefault:"0.0.0.0:8431"`
	ReadTimeout       time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" envDefault:"120s"`
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" envDefault:"5s"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	CORSOrigins       []string      `env:"CORS_ORIGINS" envSeparator:","`
}

type TokenConfig struct {
	Secret string        `env:"SECRET"`
	Issuer string        `env:"ISSUER" envDefault:"service-restaurant-identity"`
	TTL    time.Duration `env:"TTL" envDefault:"12h"`
}

type RateLimitConfig struct {
	LoginPerMinute int    `env:"LOGIN_PER_MINUTE" envDefault:"30"`
	RedisAddr      string `env:"REDIS_ADDR"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB" envDefault:"0"`
	Namespace      string `env:"NAMESPACE" envDefault:"identity"`
}

type DeviceConfig struct {
	StaleAfter    time.Duration `env:"STALE_AFTER" envDefault:"0s"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
}

// Load parses the process environment into Config and performs validation.
func Load() (*Config, error) {
	return load(env.Options{})
}

func load(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("IDENTITY_DB_URL is required")
	}
	if cfg.Database.Driver != database.DriverPQ && cfg.Database.Driver != database.DriverPGX {
		return nil, fmt.Errorf("IDENTITY_DB_DRIVER must be %q or %q", database.DriverPQ, database.DriverPGX)
	}
	if cfg.Security.LockoutThreshold < 1 {
		return nil, fmt.Errorf("IDENTITY_LOCKOUT_THRESHOLD must be at least 1")
	}
	if cfg.Security.LockoutDuration <= 0 {
		return nil, fmt.Errorf("IDENTITY_LOCKOUT_DURATION must be positive")
	}
	if cfg.Security.PasswordMinLength < 1 {
		return nil, fmt.Errorf("IDENTITY_PASSWORD_MIN_LENGTH must be at least 1")
	}
	if cfg.App.SnowflakeNode < 0 || cfg.App.SnowflakeNode > 1023 {
		return nil, fmt.Errorf("IDENTITY_SNOWFLAKE_NODE must be between 0 and 1023")
	}
	if cfg.Token.Secret != "" && len(cfg.Token.Secret) < 32 {
		return nil, fmt.Errorf("IDENTITY_TOKEN_SECRET must be at least 32 bytes")
	}
	if cfg.Token.TTL <= 0 {
		return nil, fmt.Errorf("IDENTITY_TOKEN_TTL must be positive")
	}
	if cfg.Device.StaleAfter > 0 && cfg.Device.SweepInterval <= 0 {
		return nil, fmt.Errorf("IDENTITY_DEVICE_SWEEP_INTERVAL must be positive when IDENTITY_DEVICE_STALE_AFTER is set")
	}

	return cfg, nil
}
