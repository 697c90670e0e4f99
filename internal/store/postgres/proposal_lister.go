package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/quantumledger/internal/domain"
)

// ProposalLister reads proposals for export outside any ledger transaction.
type ProposalLister struct {
	pool *pgxpool.Pool
}

// NewProposalLister creates a ProposalLister backed by pool.
func NewProposalLister(pool *pgxpool.Pool) *ProposalLister {
	return &ProposalLister{pool: pool}
}

// ListProposalsBefore returns proposals created strictly before the cutoff,
// oldest first.
func (l *ProposalLister) ListProposalsBefore(ctx context.Context, before time.Time) ([]domain.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE created_at < $1 ORDER BY created_at, id`
	rows, err := l.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list proposals: %w", err)
	}
	defer rows.Close()

	var out []domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan proposal: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list proposals rows: %w", err)
	}
	return out, nil
}

var _ domain.ProposalLister = (*ProposalLister)(nil)
