package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/quantumledger/internal/domain"
	"github.com/alanyoungcy/quantumledger/internal/keys"
)

// Allocation is how a consumed deposit D is divided at proposal creation.
type Allocation struct {
	// BurnTotal is floor(2D/3), the part that becomes outcome tokens.
	BurnTotal uint64
	// PerPool is the yes and the no amount minted to each of vault and creator.
	PerPool uint64
	// Stable is minted into the proposal vault.
	Stable uint64
}

// Split divides D. Remainders of the integer divisions are retained by the
// system and never minted.
func Split(d uint64) Allocation {
	// floor(2D/3) without forming 2D.
	burn := d/3*2 + d%3*2/3
	return Allocation{
		BurnTotal: burn,
		PerPool:   burn / 2,
		Stable:    d - burn,
	}
}

// IssuanceEngine creates proposals and exchanges stable units for outcome
// pairs and back. Every path mints or burns so that the proposal vault holds
// exactly the stable collateral backing the outstanding pairs.
type IssuanceEngine struct {
	markets   MarketRegistry
	deposits  DepositLedger
	proposals ProposalRegistry
	now       func() time.Time
}

// CreateProposal consumes the market's min_deposit from owner's deposit and
// issues the proposal's stable unit and outcome pair.
func (e IssuanceEngine) CreateProposal(ctx context.Context, tx domain.Tx, marketID uint64, owner common.Address, payload []byte) (domain.Proposal, error) {
	if len(payload) > domain.MaxPayloadLen {
		return domain.Proposal{}, fmt.Errorf("issuance: payload is %d bytes, max %d: %w",
			len(payload), domain.MaxPayloadLen, domain.ErrInvalidArgument)
	}
	m, err := e.markets.Get(ctx, tx, marketID)
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("issuance: %w", err)
	}

	d := m.MinDeposit
	if _, err := e.deposits.Lock(ctx, tx, marketID, owner, d); err != nil {
		return domain.Proposal{}, fmt.Errorf("issuance: %w", err)
	}
	alloc := Split(d)

	id, err := e.proposals.NextID(ctx, tx)
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("issuance: %w", err)
	}
	p := domain.Proposal{
		ID:          id,
		MarketID:    marketID,
		CreatedAt:   e.now(),
		Creator:     owner,
		StableToken: keys.StableToken(id),
		YesToken:    keys.YesToken(id),
		NoToken:     keys.NoToken(id),
		Vault:       keys.ProposalVault(id),
		Payload:     append([]byte(nil), payload...),
	}

	ledger := tx.Ledger()
	for _, token := range p.Tokens() {
		if err := ledger.CreateToken(ctx, token, p.Vault); err != nil {
			return domain.Proposal{}, fmt.Errorf("issuance: register token for proposal %d: %w", id, err)
		}
	}

	capability := domain.GrantProposalCapability(p)
	mints := []struct {
		token  domain.TokenID
		to     common.Address
		amount uint64
	}{
		{p.StableToken, p.Vault, alloc.Stable},
		{p.YesToken, p.Vault, alloc.PerPool},
		{p.NoToken, p.Vault, alloc.PerPool},
		{p.YesToken, owner, alloc.PerPool},
		{p.NoToken, owner, alloc.PerPool},
	}
	for _, mint := range mints {
		if err := ledger.Mint(ctx, capability, mint.token, mint.to, mint.amount); err != nil {
			return domain.Proposal{}, fmt.Errorf("issuance: initial mint for proposal %d: %w", id, err)
		}
	}

	if err := e.proposals.Create(ctx, tx, p); err != nil {
		return domain.Proposal{}, fmt.Errorf("issuance: %w", err)
	}
	return p, nil
}

// ExchangeStableForPair moves amount stable units from owner into the vault
// and mints amount yes and amount no to owner.
func (e IssuanceEngine) ExchangeStableForPair(ctx context.Context, tx domain.Tx, proposalID uint64, owner common.Address, amount uint64) (uint64, uint64, error) {
	if amount == 0 {
		return 0, 0, fmt.Errorf("issuance: mint pair of zero: %w", domain.ErrInvalidArgument)
	}
	p, err := e.proposals.Get(ctx, tx, proposalID)
	if err != nil {
		return 0, 0, fmt.Errorf("issuance: %w", err)
	}

	ledger := tx.Ledger()
	if err := ledger.Transfer(ctx, p.StableToken, owner, p.Vault, amount); err != nil {
		return 0, 0, fmt.Errorf("issuance: collateralise proposal %d: %w", proposalID, err)
	}
	capability := domain.GrantProposalCapability(p)
	if err := ledger.Mint(ctx, capability, p.YesToken, owner, amount); err != nil {
		return 0, 0, fmt.Errorf("issuance: mint yes for proposal %d: %w", proposalID, err)
	}
	if err := ledger.Mint(ctx, capability, p.NoToken, owner, amount); err != nil {
		return 0, 0, fmt.Errorf("issuance: mint no for proposal %d: %w", proposalID, err)
	}
	return amount, amount, nil
}

// ExchangePairForStable burns amount yes and amount no from owner and
// releases amount stable units from the vault.
func (e IssuanceEngine) ExchangePairForStable(ctx context.Context, tx domain.Tx, proposalID uint64, owner common.Address, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, fmt.Errorf("issuance: redeem pair of zero: %w", domain.ErrInvalidArgument)
	}
	p, err := e.proposals.Get(ctx, tx, proposalID)
	if err != nil {
		return 0, fmt.Errorf("issuance: %w", err)
	}

	ledger := tx.Ledger()
	if err := ledger.Burn(ctx, p.YesToken, owner, amount); err != nil {
		return 0, fmt.Errorf("issuance: burn yes for proposal %d: %w", proposalID, err)
	}
	if err := ledger.Burn(ctx, p.NoToken, owner, amount); err != nil {
		return 0, fmt.Errorf("issuance: burn no for proposal %d: %w", proposalID, err)
	}
	capability := domain.GrantProposalCapability(p)
	if err := ledger.TransferFromVault(ctx, capability, p.StableToken, owner, amount); err != nil {
		return 0, fmt.Errorf("issuance: release stable for proposal %d: %w", proposalID, err)
	}
	return amount, nil
}
