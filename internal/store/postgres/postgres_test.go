package postgres

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quantumledger/internal/domain"
)

func TestDSN(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "postgres://u:p@db:5432/ledger?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "ledger", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://u:p@db:6543/ledger?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6543, Database: "ledger", User: "u", Password: "p", SSLMode: "require"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	for _, code := range []string{codeSerializationFailure, codeDeadlockDetected} {
		err := classify(fmt.Errorf("postgres: commit: %w", &pgconn.PgError{Code: code}))
		assert.ErrorIs(t, err, domain.ErrConflict, code)

		var pgErr *pgconn.PgError
		assert.True(t, errors.As(err, &pgErr))
	}

	other := &pgconn.PgError{Code: "23503"}
	assert.NotErrorIs(t, classify(other), domain.ErrConflict)
	assert.ErrorIs(t, classify(domain.ErrNothingToClaim), domain.ErrNothingToClaim)
}

func TestNumericText(t *testing.T) {
	t.Parallel()

	for _, v := range []uint64{0, 9, 1 << 63, ^uint64(0)} {
		got, err := parseU64(u64(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
	_, err := parseU64("-1")
	assert.Error(t, err)

	assert.Nil(t, optU64(nil))
	seven := uint64(7)
	assert.Equal(t, "7", *optU64(&seven))
}

func TestMigrationsEmbedded(t *testing.T) {
	t.Parallel()

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "001_init.sql", entries[0].Name())

	data, err := migrationsFS.ReadFile("migrations/001_init.sql")
	require.NoError(t, err)
	for _, table := range []string{"sequences", "markets", "deposits", "proposals", "claims", "token_types", "token_balances", "audit_log"} {
		assert.True(t, strings.Contains(string(data), "CREATE TABLE IF NOT EXISTS "+table+" "), table)
	}
}
