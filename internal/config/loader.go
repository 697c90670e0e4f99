package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults() and applies QLEDGER_*
// environment overrides, reading a .env file first when one exists. An
// empty path skips the file. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose QLEDGER_* variable is set and
// non-empty, so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// Store
	setStr(&cfg.Store.Backend, "QLEDGER_STORE_BACKEND")
	setBool(&cfg.Store.RunMigrations, "QLEDGER_STORE_RUN_MIGRATIONS")

	// Postgres
	setStr(&cfg.Postgres.DSN, "QLEDGER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.Host, "QLEDGER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "QLEDGER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "QLEDGER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "QLEDGER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "QLEDGER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "QLEDGER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "QLEDGER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "QLEDGER_POSTGRES_POOL_MIN_CONNS")

	// Redis
	setBool(&cfg.Redis.Enabled, "QLEDGER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "QLEDGER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "QLEDGER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "QLEDGER_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "QLEDGER_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "QLEDGER_REDIS_NAMESPACE")
	setDuration(&cfg.Redis.CacheTTL, "QLEDGER_REDIS_CACHE_TTL")

	// S3
	setBool(&cfg.S3.Enabled, "QLEDGER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "QLEDGER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "QLEDGER_S3_REGION")
	setStr(&cfg.S3.Bucket, "QLEDGER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "QLEDGER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "QLEDGER_S3_SECRET_KEY")
	setStr(&cfg.S3.Prefix, "QLEDGER_S3_PREFIX")

	// Ledger
	setStr(&cfg.Ledger.ClaimScope, "QLEDGER_LEDGER_CLAIM_SCOPE")
	setUint64(&cfg.Ledger.MinDepositFloor, "QLEDGER_LEDGER_MIN_DEPOSIT_FLOOR")
	setBool(&cfg.Ledger.FaucetEnabled, "QLEDGER_LEDGER_FAUCET_ENABLED")

	// Archive
	setDuration(&cfg.Archive.Interval, "QLEDGER_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "QLEDGER_ARCHIVE_RETENTION_DAYS")

	// Server
	setInt(&cfg.Server.Port, "QLEDGER_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "QLEDGER_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "QLEDGER_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "QLEDGER_SERVER_RATE_LIMIT")
	setBool(&cfg.Server.RequireOwnerSignature, "QLEDGER_SERVER_REQUIRE_OWNER_SIGNATURE")
	setDuration(&cfg.Server.SignatureMaxSkew, "QLEDGER_SERVER_SIGNATURE_MAX_SKEW")

	setStr(&cfg.Mode, "QLEDGER_MODE")
	setStr(&cfg.LogLevel, "QLEDGER_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
