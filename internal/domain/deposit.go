package domain

import "github.com/ethereum/go-ethereum/common"

// DepositRecord is a participant's currently locked-in balance in a market.
// It grows on deposit and shrinks only when consumed by proposal creation.
type DepositRecord struct {
	MarketID uint64
	Owner    common.Address
	Amount   uint64
}

// ClaimScope selects what a claim watermark is keyed on.
type ClaimScope string

const (
	// ClaimScopeProposal keys the watermark per (proposal, owner). The same
	// deposit balance can be caught up once per proposal in a market.
	ClaimScopeProposal ClaimScope = "proposal"
	// ClaimScopeMarket keys the watermark per (market, owner), so a deposit
	// balance is converted into stable units at most once per market.
	ClaimScopeMarket ClaimScope = "market"
)

// Valid reports whether s is a known scope.
func (s ClaimScope) Valid() bool {
	return s == ClaimScopeProposal || s == ClaimScopeMarket
}

// ClaimKey identifies a claim watermark. ScopeID is a proposal id or a market
// id depending on Scope.
type ClaimKey struct {
	Scope   ClaimScope
	ScopeID uint64
	Owner   common.Address
}

// ClaimRecord tracks how much of an owner's deposit balance has already been
// issued as stable units under one scope.
type ClaimRecord struct {
	Key     ClaimKey
	Claimed uint64
}

// Sequence is a single-row id counter.
type Sequence struct {
	Name   string
	NextID uint64
}

// Sequence names.
const (
	SequenceMarkets   = "market"
	SequenceProposals = "proposal"
)
