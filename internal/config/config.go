// Package config provides configuration management using viper.
// It supports loading from YAML files, an optional .env file and
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Rating   RatingConfig   `mapstructure:"rating"`
	Undo     UndoConfig     `mapstructure:"undo"`
	Lock     LockConfig     `mapstructure:"lock"`
	Stats    StatsConfig    `mapstructure:"stats"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
// Driver selects the store implementation: "postgres" or "memory".
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// AuthConfig holds the shared app password, the admin password and the
// token settings.
type AuthConfig struct {
	AppPassword   string        `mapstructure:"app_password"`
	AdminPassword string        `mapstructure:"admin_password"`
	SecretKey     string        `mapstructure:"secret_key"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	RequireToken  bool          `mapstructure:"require_token"`
}

// RatingConfig holds the rating formula constants.
type RatingConfig struct {
	KFactor   int `mapstructure:"k_factor"`
	Default   int `mapstructure:"default"`
	MinRating int `mapstructure:"min_rating"`
}

// UndoConfig holds undo eligibility settings.
type UndoConfig struct {
	Window time.Duration `mapstructure:"window"`
}

// LockConfig holds per-player lock settings.
type LockConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// StatsConfig holds read-side statistics settings.
type StatsConfig struct {
	Timezone         string `mapstructure:"timezone"`
	RankedMinMatches int    `mapstructure:"ranked_min_matches"`
	PricePerMatch    int    `mapstructure:"price_per_match"`
	MinutesPerMatch  int    `mapstructure:"minutes_per_match"`
	AuditLogLimit    int    `mapstructure:"audit_log_limit"`
	KDBoardSize      int    `mapstructure:"kd_board_size"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Location resolves the configured stats timezone, falling back to UTC.
func (s *StatsConfig) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	// A missing .env is fine; the environment may already be populated.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase
	// e.g., DATABASE_HOST, AUTH_ADMIN_PASSWORD, UNDO_WINDOW
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks invariants that defaults cannot guarantee.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Rating.KFactor <= 0 {
		return fmt.Errorf("rating.k_factor must be positive, got %d", c.Rating.KFactor)
	}
	if c.Rating.Default < c.Rating.MinRating {
		return fmt.Errorf("rating.default (%d) is below rating.min_rating (%d)", c.Rating.Default, c.Rating.MinRating)
	}
	if c.Undo.Window <= 0 {
		return fmt.Errorf("undo.window must be positive")
	}
	if c.Lock.Timeout <= 0 {
		return fmt.Errorf("lock.timeout must be positive")
	}
	if c.Auth.RequireToken && c.Auth.SecretKey == "" {
		return fmt.Errorf("auth.secret_key is required when auth.require_token is set")
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.allowed_origins", []string{"http://localhost", "http://localhost:8000"})
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "5s")

	// Database defaults
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "competition_app")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Auth defaults. Empty strings register the keys so that
	// AutomaticEnv overrides reach Unmarshal.
	v.SetDefault("auth.app_password", "")
	v.SetDefault("auth.admin_password", "")
	v.SetDefault("auth.secret_key", "")
	v.SetDefault("auth.token_ttl", "8760h")
	v.SetDefault("auth.require_token", false)

	// Rating defaults
	v.SetDefault("rating.k_factor", 32)
	v.SetDefault("rating.default", 1000)
	v.SetDefault("rating.min_rating", 0)

	v.SetDefault("undo.window", "12h")
	v.SetDefault("lock.timeout", "2s")

	// Stats defaults
	v.SetDefault("stats.timezone", "Europe/London")
	v.SetDefault("stats.ranked_min_matches", 3)
	v.SetDefault("stats.price_per_match", 3)
	v.SetDefault("stats.minutes_per_match", 15)
	v.SetDefault("stats.audit_log_limit", 100)
	v.SetDefault("stats.kd_board_size", 20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
}
