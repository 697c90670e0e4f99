package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/quantumledger/internal/domain"
)

// SQLSTATE codes the substrate maps to domain errors.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Substrate implements domain.Substrate with one SERIALIZABLE transaction
// per call. Entity reads that precede a write take row locks so that
// conflicting operations queue instead of aborting where possible.
type Substrate struct {
	pool *pgxpool.Pool
}

// NewSubstrate creates a Substrate backed by pool.
func NewSubstrate(pool *pgxpool.Pool) *Substrate {
	return &Substrate{pool: pool}
}

// Atomically runs fn in a serializable transaction. Serialization failures
// surface as domain.ErrConflict; the caller decides whether to re-issue.
func (s *Substrate) Atomically(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = pgtx.Rollback(ctx) }()

	if err := fn(ctx, &tx{q: pgtx}); err != nil {
		return classify(err)
	}
	if err := pgtx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("postgres: commit: %w", err))
	}
	return nil
}

// Fund credits amount of token to owner outside any proposal authority.
func (s *Substrate) Fund(ctx context.Context, token domain.TokenID, owner common.Address, amount uint64) error {
	return s.Atomically(ctx, func(ctx context.Context, dtx domain.Tx) error {
		return (&TokenLedger{q: dtx.(*tx).q}).Credit(ctx, token, owner, amount)
	})
}

// classify tags serialization failures with domain.ErrConflict while keeping
// the underlying error in the chain.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %w", domain.ErrConflict, err)
		}
	}
	return err
}

// querier is the subset of pgx.Tx the stores use.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type tx struct {
	q querier
}

func (t *tx) Entities() domain.EntityStore { return &EntityStore{q: t.q} }
func (t *tx) Ledger() domain.TokenLedger   { return &TokenLedger{q: t.q} }

// uint64 values travel as decimal text and are cast to NUMERIC in SQL.
func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func parseU64(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("postgres: parse numeric %q: %w", s, err)
	}
	return v, nil
}

var (
	_ domain.Substrate = (*Substrate)(nil)
	_ domain.Faucet    = (*Substrate)(nil)
)
