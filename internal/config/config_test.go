package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "proposal", cfg.Ledger.ClaimScope)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "qledger.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "serve"
log_level = "debug"

[store]
backend = "postgres"

[postgres]
host = "db"
database = "ledger"

[ledger]
claim_scope = "market"
min_deposit_floor = 3

[redis]
enabled = true
cache_ttl = "30s"
`), 0o600))

	t.Setenv("QLEDGER_SERVER_PORT", "9100")
	t.Setenv("QLEDGER_POSTGRES_PASSWORD", "hunter2")
	t.Setenv("QLEDGER_SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, "db", cfg.Postgres.Host)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, "market", cfg.Ledger.ClaimScope)
	assert.Equal(t, uint64(3), cfg.Ledger.MinDepositFloor)
	assert.Equal(t, 30*time.Second, cfg.Redis.CacheTTL.Duration)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[ledger]\nclaim_scop = \"market\"\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger.claim_scop")
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"
	cfg.LogLevel = "loud"
	cfg.Ledger.ClaimScope = "global"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown log_level "loud"`)
	assert.Contains(t, msg, "archive mode needs the postgres backend")
	assert.Contains(t, msg, "archive mode needs s3.enabled")
	assert.Contains(t, msg, `unknown claim_scope "global"`)
}

func TestValidatePostgresDSNSkipsHostChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Backend = "postgres"
	cfg.Postgres.Host = ""
	cfg.Postgres.DSN = "postgres://u:p@db/ledger"
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "secret"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Server.APIKey = "key"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.Redis.Password)

	out.Server.CORSOrigins[0] = "changed"
	assert.Equal(t, "http://localhost:3000", cfg.Server.CORSOrigins[0])
	assert.Equal(t, "secret", cfg.Postgres.Password)
}
