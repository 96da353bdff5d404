// Package config provides centralized configuration management for the
// chat relay. Configuration is loaded from environment variables with
// sensible defaults. Required configuration that is missing will cause
// the application to fail fast with helpful error messages.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	Port int

	// Shared store configuration. An empty RedisURL runs the relay in
	// single-instance mode with in-memory history and rate state.
	RedisURL string

	// Database configuration (user credentials + message archive)
	DBType     string // "sqlite" (default) or "postgres"
	DBPath     string // SQLite file path (when DBType="sqlite")
	DBDSN      string // Full PostgreSQL DSN (takes precedence over DBPath)

	// Token configuration
	JWTSecret       string
	JWTAccessExpiry time.Duration

	// Messaging limits
	RateLimit       int           // admitted messages per identity per window
	RateWindow      time.Duration // fixed window length
	HistoryCap      int           // retained messages per room
	HistoryPageSize int           // entries returned by GET /history/{room}

	// Connection handling
	AuthTimeout   time.Duration // bound on connect-time token verification
	ConnRateLimit float64       // WebSocket connects per second per IP (0 = disabled)
	ConnBurst     int           // burst size for the per-IP limiter

	// Registration
	AllowRegistration bool

	// Archive configuration
	ArchiveBuffer int // queued records before the archive sink starts dropping
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration errors:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Default values
const (
	DefaultPort            = 8080
	DefaultDBType          = "sqlite"
	DefaultDBPath          = "chatrelay.db"
	DefaultJWTAccessExpiry = 60 * time.Minute
	DefaultRateLimit       = 5
	DefaultRateWindow      = 1 * time.Second
	DefaultHistoryCap      = 100
	DefaultHistoryPageSize = 50
	DefaultAuthTimeout     = 5 * time.Second
	DefaultConnRateLimit   = float64(10) // 10 connects/sec per IP
	DefaultConnBurst       = 20
	DefaultArchiveBuffer   = 256

	// MinJWTSecretLength is the minimum accepted signing secret length.
	MinJWTSecretLength = 32
)

// Load reads configuration from environment variables and returns a Config.
// It applies defaults for optional values and validates the configuration.
// Returns an error if validation fails.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            DefaultPort,
		DBType:          DefaultDBType,
		DBPath:          DefaultDBPath,
		JWTAccessExpiry: DefaultJWTAccessExpiry,
		RateLimit:       DefaultRateLimit,
		RateWindow:      DefaultRateWindow,
		HistoryCap:      DefaultHistoryCap,
		HistoryPageSize: DefaultHistoryPageSize,
		AuthTimeout:     DefaultAuthTimeout,
		ConnRateLimit:   DefaultConnRateLimit,
		ConnBurst:       DefaultConnBurst,
		ArchiveBuffer:   DefaultArchiveBuffer,
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}

	return cfg, nil
}

// LoadWithFlags loads configuration with command-line flag overrides.
// Flags take precedence over environment variables. Zero values mean
// "not set" and leave the environment/default value in place.
func LoadWithFlags(port int, dbPath, redisURL string) (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}

	if port != 0 && port != DefaultPort {
		cfg.Port = port
	}
	if dbPath != "" && dbPath != DefaultDBPath {
		cfg.DBPath = dbPath
	}
	if redisURL != "" {
		cfg.RedisURL = redisURL
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}

	return cfg, nil
}

// load reads env vars into a default Config without validating, so that
// flag overrides can be applied before validation runs.
func load() (*Config, error) {
	cfg := &Config{
		Port:            DefaultPort,
		DBType:          DefaultDBType,
		DBPath:          DefaultDBPath,
		JWTAccessExpiry: DefaultJWTAccessExpiry,
		RateLimit:       DefaultRateLimit,
		RateWindow:      DefaultRateWindow,
		HistoryCap:      DefaultHistoryCap,
		HistoryPageSize: DefaultHistoryPageSize,
		AuthTimeout:     DefaultAuthTimeout,
		ConnRateLimit:   DefaultConnRateLimit,
		ConnBurst:       DefaultConnBurst,
		ArchiveBuffer:   DefaultArchiveBuffer,
	}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromEnv populates the config from environment variables.
func (c *Config) loadFromEnv() error {
	var parseErrors ValidationErrors

	intVar := func(name string, dst *int, positive bool) {
		v := os.Getenv(name)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{
				Field:   name,
				Message: fmt.Sprintf("invalid value: %q (must be an integer)", v),
			})
			return
		}
		if positive && n <= 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   name,
				Message: fmt.Sprintf("value must be positive: %d", n),
			})
			return
		}
		*dst = n
	}

	intVar("CHATRELAY_PORT", &c.Port, true)

	if v := os.Getenv("CHATRELAY_REDIS_URL"); v != "" {
		c.RedisURL = v
	}

	if v := os.Getenv("CHATRELAY_DB_TYPE"); v != "" {
		c.DBType = v
	}
	if v := os.Getenv("CHATRELAY_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("CHATRELAY_DB_DSN"); v != "" {
		c.DBDSN = v
	}

	if v := os.Getenv("CHATRELAY_JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}

	if v := os.Getenv("CHATRELAY_JWT_ACCESS_EXPIRY"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil || minutes <= 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "CHATRELAY_JWT_ACCESS_EXPIRY",
				Message: fmt.Sprintf("invalid expiry: %q (must be a positive integer representing minutes)", v),
			})
		} else {
			c.JWTAccessExpiry = time.Duration(minutes) * time.Minute
		}
	}

	intVar("CHATRELAY_RATE_LIMIT", &c.RateLimit, true)

	if v := os.Getenv("CHATRELAY_RATE_WINDOW"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds <= 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "CHATRELAY_RATE_WINDOW",
				Message: fmt.Sprintf("invalid window: %q (must be a positive integer representing seconds)", v),
			})
		} else {
			c.RateWindow = time.Duration(seconds) * time.Second
		}
	}

	intVar("CHATRELAY_HISTORY_CAP", &c.HistoryCap, true)
	intVar("CHATRELAY_HISTORY_PAGE_SIZE", &c.HistoryPageSize, true)

	if v := os.Getenv("CHATRELAY_AUTH_TIMEOUT"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds <= 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "CHATRELAY_AUTH_TIMEOUT",
				Message: fmt.Sprintf("invalid timeout: %q (must be a positive integer representing seconds)", v),
			})
		} else {
			c.AuthTimeout = time.Duration(seconds) * time.Second
		}
	}

	if v := os.Getenv("CHATRELAY_CONN_RATE_LIMIT"); v != "" {
		limit, err := strconv.ParseFloat(v, 64)
		if err != nil || limit < 0 {
			parseErrors = append(parseErrors, ValidationError{
				Field:   "CHATRELAY_CONN_RATE_LIMIT",
				Message: fmt.Sprintf("invalid rate: %q (must be a non-negative number)", v),
			})
		} else {
			c.ConnRateLimit = limit
		}
	}

	intVar("CHATRELAY_CONN_BURST", &c.ConnBurst, true)

	if v := os.Getenv("CHATRELAY_ALLOW_REGISTRATION"); v != "" {
		c.AllowRegistration = v == "true" || v == "1"
	}

	intVar("CHATRELAY_ARCHIVE_BUFFER", &c.ArchiveBuffer, true)

	if len(parseErrors) > 0 {
		return parseErrors
	}
	return nil
}

// Validate checks the configuration for invalid combinations and missing
// required values. It returns all problems found rather than stopping at
// the first one.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "CHATRELAY_PORT",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Port),
		})
	}

	if c.JWTSecret == "" {
		errs = append(errs, ValidationError{
			Field:   "CHATRELAY_JWT_SECRET",
			Message: "signing secret is required",
		})
	} else if len(c.JWTSecret) < MinJWTSecretLength {
		errs = append(errs, ValidationError{
			Field:   "CHATRELAY_JWT_SECRET",
			Message: fmt.Sprintf("signing secret must be at least %d characters", MinJWTSecretLength),
		})
	}

	switch c.DBType {
	case "sqlite", "postgres":
	default:
		errs = append(errs, ValidationError{
			Field:   "CHATRELAY_DB_TYPE",
			Message: fmt.Sprintf("unsupported database type: %q (must be \"sqlite\" or \"postgres\")", c.DBType),
		})
	}

	if c.DBType == "postgres" && c.DBDSN == "" {
		errs = append(errs, ValidationError{
			Field:   "CHATRELAY_DB_DSN",
			Message: "a DSN is required when CHATRELAY_DB_TYPE=postgres",
		})
	}

	if c.HistoryPageSize > c.HistoryCap {
		errs = append(errs, ValidationError{
			Field:   "CHATRELAY_HISTORY_PAGE_SIZE",
			Message: fmt.Sprintf("page size (%d) cannot exceed history cap (%d)", c.HistoryPageSize, c.HistoryCap),
		})
	}

	return errs
}

// DSN returns the database connection string for the configured backend.
func (c *Config) DSN() string {
	if c.DBType == "postgres" {
		return c.DBDSN
	}
	return c.DBPath
}
