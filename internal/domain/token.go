package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// TokenID names a token type in the ledger.
type TokenID string

// Capability authorises minting and vault withdrawals for exactly the three
// tokens and the vault of one proposal. The zero value authorises nothing.
// It carries no key material.
type Capability struct {
	proposalID uint64
	vault      common.Address
	tokens     [3]TokenID
}

// GrantProposalCapability returns the capability scoped to p.
func GrantProposalCapability(p Proposal) Capability {
	return Capability{
		proposalID: p.ID,
		vault:      p.Vault,
		tokens:     p.Tokens(),
	}
}

// Covers reports whether the capability may act on token.
func (c Capability) Covers(token TokenID) bool {
	if c.IsZero() || token == "" {
		return false
	}
	for _, t := range c.tokens {
		if t == token {
			return true
		}
	}
	return false
}

// Vault returns the vault address the capability controls.
func (c Capability) Vault() common.Address { return c.vault }

// ProposalID returns the proposal the capability was granted for.
func (c Capability) ProposalID() uint64 { return c.proposalID }

// IsZero reports whether c is the empty capability.
func (c Capability) IsZero() bool { return c.vault == (common.Address{}) }

// TokenLedger performs mint, burn and transfer of named token balances.
// Mint and vault withdrawals require a capability covering the token;
// Burn and Transfer are authorised by the owner making the call.
type TokenLedger interface {
	CreateToken(ctx context.Context, token TokenID, authority common.Address) error
	Mint(ctx context.Context, capability Capability, token TokenID, to common.Address, amount uint64) error
	Burn(ctx context.Context, token TokenID, from common.Address, amount uint64) error
	Transfer(ctx context.Context, token TokenID, from, to common.Address, amount uint64) error
	TransferFromVault(ctx context.Context, capability Capability, token TokenID, to common.Address, amount uint64) error
	BalanceOf(ctx context.Context, token TokenID, owner common.Address) (uint64, error)
}

// Faucet credits deposit currencies from outside the ledger. Only
// development deployments expose it.
type Faucet interface {
	Fund(ctx context.Context, token TokenID, owner common.Address, amount uint64) error
}
