// Package config defines the ledger's configuration, its defaults and
// validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by QLEDGER_* environment variables.
type Config struct {
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// StoreConfig selects the ledger substrate.
type StoreConfig struct {
	// Backend is "memory" or "postgres".
	Backend       string `toml:"backend"`
	RunMigrations bool   `toml:"run_migrations"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN               string   `toml:"dsn"`
	Host              string   `toml:"host"`
	Port              int      `toml:"port"`
	Database          string   `toml:"database"`
	User              string   `toml:"user"`
	Password          string   `toml:"password"`
	SSLMode           string   `toml:"ssl_mode"`
	PoolMaxConns      int      `toml:"pool_max_conns"`
	PoolMinConns      int      `toml:"pool_min_conns"`
	HealthCheckPeriod duration `toml:"health_check_period"`
}

// RedisConfig holds Redis connection and usage parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	Namespace    string   `toml:"namespace"`
	CacheTTL     duration `toml:"cache_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// LedgerConfig tunes ledger semantics.
type LedgerConfig struct {
	// ClaimScope is "proposal" or "market".
	ClaimScope      string `toml:"claim_scope"`
	MinDepositFloor uint64 `toml:"min_deposit_floor"`
	// FaucetEnabled exposes POST /api/faucet for development.
	FaucetEnabled bool `toml:"faucet_enabled"`
}

// ArchiveConfig controls the periodic export to object storage.
type ArchiveConfig struct {
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
	LockTTL       duration `toml:"lock_ttl"`
}

// ServerConfig holds HTTP API parameters.
type ServerConfig struct {
	Port         int      `toml:"port"`
	APIKey       string   `toml:"api_key"`
	CORSOrigins  []string `toml:"cors_origins"`
	RateLimit    int      `toml:"rate_limit"`
	RateWindow   duration `toml:"rate_window"`
	ReadTimeout  duration `toml:"read_timeout"`
	WriteTimeout duration `toml:"write_timeout"`

	RequireOwnerSignature bool     `toml:"require_owner_signature"`
	SignatureMaxSkew      duration `toml:"signature_max_skew"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config that runs the in-memory ledger with no external
// services.
func Defaults() Config {
	return Config{
		Store: StoreConfig{
			Backend:       "memory",
			RunMigrations: true,
		},
		Postgres: PostgresConfig{
			Host:              "localhost",
			Port:              5432,
			Database:          "qledger",
			User:              "postgres",
			SSLMode:           "disable",
			PoolMaxConns:      10,
			PoolMinConns:      2,
			HealthCheckPeriod: duration{time.Minute},
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			Namespace:    "qledger",
			CacheTTL:     duration{5 * time.Minute},
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "qledger-archive",
			ForcePathStyle: true,
		},
		Ledger: LedgerConfig{
			ClaimScope: "proposal",
		},
		Archive: ArchiveConfig{
			Interval:      duration{24 * time.Hour},
			RetentionDays: 30,
			LockTTL:       duration{10 * time.Minute},
		},
		Server: ServerConfig{
			Port:         8000,
			CORSOrigins:  []string{"http://localhost:3000"},
			RateLimit:    120,
			RateWindow:   duration{time.Minute},
			ReadTimeout:  duration{10 * time.Second},
			WriteTimeout: duration{15 * time.Second},

			SignatureMaxSkew: duration{5 * time.Minute},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"init":    true,
	"serve":   true,
	"archive": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns one error
// describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: init, serve, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	switch c.Store.Backend {
	case "memory":
		if c.Mode == "archive" {
			errs = append(errs, "store: archive mode needs the postgres backend")
		}
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: memory, postgres)", c.Store.Backend))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	} else if c.Mode == "archive" {
		errs = append(errs, "s3: archive mode needs s3.enabled")
	}

	switch c.Ledger.ClaimScope {
	case "proposal", "market":
	default:
		errs = append(errs, fmt.Sprintf("ledger: unknown claim_scope %q (valid: proposal, market)", c.Ledger.ClaimScope))
	}

	if c.Archive.RetentionDays < 0 {
		errs = append(errs, "archive: retention_days must be >= 0")
	}
	if c.Archive.Interval.Duration < 0 {
		errs = append(errs, "archive: interval must not be negative")
	}

	if c.Mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
		if c.Server.RequireOwnerSignature && c.Server.SignatureMaxSkew.Duration <= 0 {
			errs = append(errs, "server: signature_max_skew must be > 0 when require_owner_signature is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
