package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// EntityStore provides per-record create/read/update. Every record is
// addressed by a key derived from its logical identity. Get methods return
// ErrNotFound for missing records and Create methods ErrAlreadyExists for
// existing ones.
type EntityStore interface {
	CreateSequence(ctx context.Context, seq Sequence) error
	GetSequence(ctx context.Context, name string) (Sequence, error)
	UpdateSequence(ctx context.Context, seq Sequence) error

	CreateMarket(ctx context.Context, m Market) error
	GetMarket(ctx context.Context, id uint64) (Market, error)
	UpdateMarket(ctx context.Context, m Market) error

	GetDeposit(ctx context.Context, marketID uint64, owner common.Address) (DepositRecord, error)
	PutDeposit(ctx context.Context, rec DepositRecord) error

	CreateProposal(ctx context.Context, p Proposal) error
	GetProposal(ctx context.Context, id uint64) (Proposal, error)

	GetClaim(ctx context.Context, key ClaimKey) (ClaimRecord, error)
	PutClaim(ctx context.Context, rec ClaimRecord) error
}

// Tx is one atomic unit of work spanning the entity store and the ledger.
type Tx interface {
	Entities() EntityStore
	Ledger() TokenLedger
}

// Substrate runs fn as a serializable transaction. If fn returns an error
// nothing it wrote is visible afterwards. Conflicting transactions are
// totally ordered; a substrate may instead abort one with ErrConflict.
type Substrate interface {
	Atomically(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
}

// ProposalLister lists proposals for export.
type ProposalLister interface {
	ListProposalsBefore(ctx context.Context, before time.Time) ([]Proposal, error)
}
