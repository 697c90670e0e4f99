package domain

import "time"

// EventKind names a committed ledger operation.
type EventKind string

const (
	EventGlobalInitialized EventKind = "global_initialized"
	EventMarketCreated     EventKind = "market_created"
	EventDeposited         EventKind = "deposited"
	EventProposalCreated   EventKind = "proposal_created"
	EventPairMinted        EventKind = "pair_minted"
	EventPairRedeemed      EventKind = "pair_redeemed"
	EventClaimed           EventKind = "claimed"
	EventProposalAccepted  EventKind = "proposal_accepted"
)

// Bus channel and stream names for ledger events.
const (
	LedgerChannel = "ledger"
	LedgerStream  = "ledger:events"
)

// LedgerEvent is published after an operation commits.
type LedgerEvent struct {
	ID         string    `json:"id"`
	Kind       EventKind `json:"kind"`
	MarketID   *uint64   `json:"market_id,omitempty"`
	ProposalID *uint64   `json:"proposal_id,omitempty"`
	Owner      string    `json:"owner,omitempty"`
	Amount     uint64    `json:"amount"`
	At         time.Time `json:"at"`
}
