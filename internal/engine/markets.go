package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/quantumledger/internal/domain"
	"github.com/alanyoungcy/quantumledger/internal/keys"
)

// MarketRegistry creates and reads markets.
type MarketRegistry struct {
	seq   Sequencer
	now   func() time.Time
	floor uint64
}

// Create allocates an Open market owned by creator.
func (r MarketRegistry) Create(ctx context.Context, tx domain.Tx, creator common.Address, params domain.MarketParams) (domain.Market, error) {
	if len(params.Title) > domain.MaxTitleLen {
		return domain.Market{}, fmt.Errorf("markets: title is %d bytes, max %d: %w",
			len(params.Title), domain.MaxTitleLen, domain.ErrInvalidArgument)
	}
	if params.DepositToken == "" {
		return domain.Market{}, fmt.Errorf("markets: deposit token is required: %w", domain.ErrInvalidArgument)
	}
	if keys.IsIssuedToken(params.DepositToken) {
		return domain.Market{}, fmt.Errorf("markets: deposit token %s is an issued token: %w",
			params.DepositToken, domain.ErrInvalidArgument)
	}
	if params.MinDeposit < r.floor {
		return domain.Market{}, fmt.Errorf("markets: min_deposit %d below floor %d: %w",
			params.MinDeposit, r.floor, domain.ErrInvalidArgument)
	}

	id, err := r.seq.IssueID(ctx, tx, domain.SequenceMarkets)
	if err != nil {
		return domain.Market{}, fmt.Errorf("markets: %w", err)
	}

	m := domain.Market{
		ID:           id,
		CreatedAt:    r.now(),
		MinDeposit:   params.MinDeposit,
		StrikePrice:  params.StrikePrice,
		Creator:      creator,
		DepositToken: params.DepositToken,
		Resolver:     params.Resolver,
		Vault:        keys.MarketVault(id),
		Status:       domain.MarketStatusOpen,
		Title:        params.Title,
	}
	if err := tx.Entities().CreateMarket(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("markets: create %d: %w", id, err)
	}
	return m, nil
}

// Get reads a market.
func (r MarketRegistry) Get(ctx context.Context, tx domain.Tx, id uint64) (domain.Market, error) {
	m, err := tx.Entities().GetMarket(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("markets: get %d: %w", id, err)
	}
	return m, nil
}

// AcceptProposal moves an Open market to ProposalAccepted. Only the market's
// resolver may do so, and only for a proposal of that market. Any other
// status transition belongs to the resolution subsystem.
func (r MarketRegistry) AcceptProposal(ctx context.Context, tx domain.Tx, caller common.Address, p domain.Proposal) (domain.Market, error) {
	m, err := r.Get(ctx, tx, p.MarketID)
	if err != nil {
		return domain.Market{}, err
	}
	if caller != m.Resolver {
		return domain.Market{}, fmt.Errorf("markets: accept on %d by %s: %w", m.ID, caller.Hex(), domain.ErrUnauthorized)
	}
	switch m.Status {
	case domain.MarketStatusOpen:
	case domain.MarketStatusProposalAccepted:
		return domain.Market{}, fmt.Errorf("markets: accept on %d: %w", m.ID, domain.ErrProposalAccepted)
	default:
		return domain.Market{}, fmt.Errorf("markets: accept on %d in status %s: %w", m.ID, m.Status, domain.ErrMarketClosed)
	}
	id := p.ID
	m.AcceptedProposal = &id
	return r.SetStatus(ctx, tx, m, domain.MarketStatusProposalAccepted)
}

// SetStatus persists m with status. Only Open and ProposalAccepted are
// reachable from here.
func (r MarketRegistry) SetStatus(ctx context.Context, tx domain.Tx, m domain.Market, status domain.MarketStatus) (domain.Market, error) {
	if status != domain.MarketStatusOpen && status != domain.MarketStatusProposalAccepted {
		return domain.Market{}, fmt.Errorf("markets: set status %s on %d: %w", status, m.ID, domain.ErrInvalidArgument)
	}
	m.Status = status
	if err := tx.Entities().UpdateMarket(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("markets: set status on %d: %w", m.ID, err)
	}
	return m, nil
}
