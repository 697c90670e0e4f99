// Package engine holds the conservation-preserving accounting of the ledger:
// id sequencing, market and proposal registries, deposit tracking, issuance,
// stable/pair exchange and claims. Every method operates on a domain.Tx
// supplied by the caller; the caller owns the transaction boundary.
package engine

import (
	"time"

	"github.com/alanyoungcy/quantumledger/internal/domain"
)

// Options configures an Engine.
type Options struct {
	// ClaimScope selects the claim watermark key. Defaults to
	// domain.ClaimScopeProposal.
	ClaimScope domain.ClaimScope
	// MinDepositFloor rejects markets whose min_deposit is below it. Zero
	// accepts every value, including the degenerate ones below 3.
	MinDepositFloor uint64
	// Now defaults to time.Now().UTC().
	Now func() time.Time
}

// Engine composes the ledger components.
type Engine struct {
	Sequencer Sequencer
	Markets   MarketRegistry
	Deposits  DepositLedger
	Proposals ProposalRegistry
	Issuance  IssuanceEngine
	Claims    ClaimLedger
}

// New builds an Engine from opts.
func New(opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	scope := opts.ClaimScope
	if scope == "" {
		scope = domain.ClaimScopeProposal
	}

	seq := Sequencer{}
	markets := MarketRegistry{seq: seq, now: now, floor: opts.MinDepositFloor}
	deposits := DepositLedger{markets: markets}
	proposals := ProposalRegistry{seq: seq}
	return &Engine{
		Sequencer: seq,
		Markets:   markets,
		Deposits:  deposits,
		Proposals: proposals,
		Issuance: IssuanceEngine{
			markets:   markets,
			deposits:  deposits,
			proposals: proposals,
			now:       now,
		},
		Claims: ClaimLedger{
			deposits:  deposits,
			proposals: proposals,
			scope:     scope,
		},
	}
}
