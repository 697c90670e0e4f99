package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/quantumledger/internal/domain"
)

// ClaimLedger converts deposit balance into stable units of a proposal with
// catch-up semantics: each claim mints the growth of the balance since the
// previous claim under the same watermark.
type ClaimLedger struct {
	deposits  DepositLedger
	proposals ProposalRegistry
	scope     domain.ClaimScope
}

// Scope returns the watermark scope in effect.
func (c ClaimLedger) Scope() domain.ClaimScope { return c.scope }

// Key returns the watermark key for owner's claims on p.
func (c ClaimLedger) Key(p domain.Proposal, owner common.Address) domain.ClaimKey {
	if c.scope == domain.ClaimScopeMarket {
		return domain.ClaimKey{Scope: domain.ClaimScopeMarket, ScopeID: p.MarketID, Owner: owner}
	}
	return domain.ClaimKey{Scope: domain.ClaimScopeProposal, ScopeID: p.ID, Owner: owner}
}

// Claimed returns the watermark for owner on proposalID.
func (c ClaimLedger) Claimed(ctx context.Context, tx domain.Tx, proposalID uint64, owner common.Address) (domain.ClaimRecord, error) {
	p, err := c.proposals.Get(ctx, tx, proposalID)
	if err != nil {
		return domain.ClaimRecord{}, fmt.Errorf("claims: %w", err)
	}
	return c.record(ctx, tx, c.Key(p, owner))
}

// Claim mints to owner the stable units of proposalID corresponding to the
// growth of owner's deposit balance since the last claim, and advances the
// watermark to the current balance.
func (c ClaimLedger) Claim(ctx context.Context, tx domain.Tx, proposalID uint64, owner common.Address) (uint64, error) {
	p, err := c.proposals.Get(ctx, tx, proposalID)
	if err != nil {
		return 0, fmt.Errorf("claims: %w", err)
	}
	total, err := c.deposits.Balance(ctx, tx, p.MarketID, owner)
	if err != nil {
		return 0, fmt.Errorf("claims: %w", err)
	}

	rec, err := c.record(ctx, tx, c.Key(p, owner))
	if err != nil {
		return 0, err
	}
	claimable, err := domain.CheckedSub(total, rec.Claimed)
	if errors.Is(err, domain.ErrUnderflow) {
		// The balance shrank below the watermark after a later proposal
		// consumed deposit.
		return 0, fmt.Errorf("claims: balance %d below claimed %d on proposal %d: %w",
			total, rec.Claimed, proposalID, domain.ErrOverflow)
	}
	if claimable == 0 {
		return 0, fmt.Errorf("claims: proposal %d: %w", proposalID, domain.ErrNothingToClaim)
	}

	if err := tx.Ledger().Mint(ctx, domain.GrantProposalCapability(p), p.StableToken, owner, claimable); err != nil {
		return 0, fmt.Errorf("claims: mint for proposal %d: %w", proposalID, err)
	}
	rec.Claimed = total
	if err := tx.Entities().PutClaim(ctx, rec); err != nil {
		return 0, fmt.Errorf("claims: persist proposal %d: %w", proposalID, err)
	}
	return claimable, nil
}

func (c ClaimLedger) record(ctx context.Context, tx domain.Tx, key domain.ClaimKey) (domain.ClaimRecord, error) {
	rec, err := tx.Entities().GetClaim(ctx, key)
	if isNotFound(err) {
		return domain.ClaimRecord{Key: key}, nil
	}
	if err != nil {
		return domain.ClaimRecord{}, fmt.Errorf("claims: read watermark: %w", err)
	}
	return rec, nil
}
