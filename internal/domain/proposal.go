package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MaxPayloadLen bounds the opaque proposal payload. The core never
// interprets it.
const MaxPayloadLen = 256

// Proposal is a market-scoped event that locked a fixed deposit amount and
// governs one stable token and one yes/no outcome pair.
type Proposal struct {
	ID          uint64
	MarketID    uint64
	CreatedAt   time.Time
	Creator     common.Address
	StableToken TokenID
	YesToken    TokenID
	NoToken     TokenID
	Vault       common.Address // issuance authority holding the reserves

	// Pool references stay zero until a liquidity bootstrap exists.
	YesPool common.Address
	NoPool  common.Address

	Payload []byte
}

// Tokens returns the three token identities the proposal governs.
func (p Proposal) Tokens() [3]TokenID {
	return [3]TokenID{p.StableToken, p.YesToken, p.NoToken}
}
