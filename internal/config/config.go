// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/ulule/limiter/v3"

	"github.com/mmynk/splitledger/pkg/logging"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// devJWTSecret is only used when JWT_SECRET is unset.
const devJWTSecret = "splitledger-dev-secret-change-me"

// Config holds application configuration.
type Config struct {
	Port          string
	StorageDriver string
	DBPath        string
	LogLevel      slog.Level

	JWTSecret string
	JWTExpiry time.Duration

	InvitationTTL time.Duration

	// RateLimit is a ulule/limiter formatted rate such as "300-M".
	RateLimit limiter.Rate

	// InsecureJWTSecret is true when the built-in development secret is in use.
	InsecureJWTSecret bool
}

// Load reads configuration from a .env file, if present, and the
// environment. Values in the environment override the .env file.
func Load() (*Config, error) {
	// Attempt to load .env file, ignore error if it doesn't exist
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("STORAGE_DRIVER", DriverSQLite)
	v.SetDefault("DB_PATH", "./data/ledger.db")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_EXPIRY", "24h")
	v.SetDefault("INVITATION_TTL", "168h")
	v.SetDefault("RATE_LIMIT", "300-M")

	cfg := &Config{
		Port:          v.GetString("PORT"),
		StorageDriver: strings.ToLower(v.GetString("STORAGE_DRIVER")),
		DBPath:        v.GetString("DB_PATH"),
		LogLevel:      logging.ParseLevel(v.GetString("LOG_LEVEL")),
		JWTSecret:     v.GetString("JWT_SECRET"),
	}

	switch cfg.StorageDriver {
	case DriverSQLite, DriverMemory:
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q (want %s or %s)", cfg.StorageDriver, DriverSQLite, DriverMemory)
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = devJWTSecret
		cfg.InsecureJWTSecret = true
	}

	var err error
	if cfg.JWTExpiry, err = parsePositiveDuration(v, "JWT_EXPIRY"); err != nil {
		return nil, err
	}
	if cfg.InvitationTTL, err = parsePositiveDuration(v, "INVITATION_TTL"); err != nil {
		return nil, err
	}

	cfg.RateLimit, err = limiter.NewRateFromFormatted(v.GetString("RATE_LIMIT"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT %q: %w", v.GetString("RATE_LIMIT"), err)
	}

	return cfg, nil
}

func parsePositiveDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, raw)
	}
	return d, nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return ":" + c.Port
}
