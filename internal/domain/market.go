package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

// Only Open and ProposalAccepted are reachable from this core. The remaining
// variants are written by the resolution subsystem.
const (
	MarketStatusOpen             MarketStatus = "open"
	MarketStatusProposalAccepted MarketStatus = "proposal_accepted"
	MarketStatusTimeout          MarketStatus = "timeout"
	MarketStatusResolvedYes      MarketStatus = "resolved_yes"
	MarketStatusResolvedNo       MarketStatus = "resolved_no"
)

// AcceptsDeposits reports whether deposits may be made while in this status.
func (s MarketStatus) AcceptsDeposits() bool {
	return s == MarketStatusOpen || s == MarketStatusProposalAccepted
}

// Valid reports whether s is one of the declared statuses.
func (s MarketStatus) Valid() bool {
	switch s {
	case MarketStatusOpen, MarketStatusProposalAccepted, MarketStatusTimeout,
		MarketStatusResolvedYes, MarketStatusResolvedNo:
		return true
	}
	return false
}

// MaxTitleLen is the maximum market title length in bytes.
const MaxTitleLen = 64

// Market is a deposit pool with one accepted currency and a minimum stake,
// under which proposals are created.
type Market struct {
	ID           uint64
	CreatedAt    time.Time
	MinDeposit   uint64
	StrikePrice  uint64
	Creator      common.Address
	DepositToken TokenID
	Resolver     common.Address
	Vault        common.Address // holds deposited DepositToken
	Status       MarketStatus
	Title        string

	// AcceptedProposal is set when the resolver accepts a proposal.
	AcceptedProposal *uint64
}

// MarketParams are the caller-supplied fields of a new market.
type MarketParams struct {
	MinDeposit   uint64
	StrikePrice  uint64
	Title        string
	DepositToken TokenID
	Resolver     common.Address
}
