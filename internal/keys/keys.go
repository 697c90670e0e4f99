// Package keys derives the deterministic addresses of ledger records, token
// types and vaults from their logical identity. A key is the keccak256 digest
// of a tag followed by little-endian ids and raw addresses, so the same
// identity always maps to the same record regardless of backend.
package keys

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/quantumledger/internal/domain"
)

const (
	tagGlobal       = "global"
	tagMarket       = "market"
	tagMarketVault  = "market_vault"
	tagDeposit      = "deposit"
	tagProposal     = "proposal"
	tagProposalAuth = "proposal_auth"
	tagClaim        = "claim"
	tagMarketClaim  = "market_claim"
	tagStable       = "vusd"
	tagYes          = "yes_mint"
	tagNo           = "no_mint"
)

func le(id uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], id)
	return b[:]
}

func derive(tag string, parts ...[]byte) common.Hash {
	data := make([][]byte, 0, len(parts)+1)
	data = append(data, []byte(tag))
	data = append(data, parts...)
	return crypto.Keccak256Hash(data...)
}

// Sequence is the key of the named id counter.
func Sequence(name string) common.Hash { return derive(tagGlobal, []byte(name)) }

// Market is the key of a market record.
func Market(id uint64) common.Hash { return derive(tagMarket, le(id)) }

// Deposit is the key of the (market, owner) deposit record.
func Deposit(marketID uint64, owner common.Address) common.Hash {
	return derive(tagDeposit, Market(marketID).Bytes(), owner.Bytes())
}

// Proposal is the key of a proposal record.
func Proposal(id uint64) common.Hash { return derive(tagProposal, le(id)) }

// Claim is the key of a claim watermark.
func Claim(key domain.ClaimKey) common.Hash {
	if key.Scope == domain.ClaimScopeMarket {
		return derive(tagMarketClaim, Market(key.ScopeID).Bytes(), key.Owner.Bytes())
	}
	return derive(tagClaim, Proposal(key.ScopeID).Bytes(), key.Owner.Bytes())
}

// MarketVault is the address holding a market's deposited collateral.
func MarketVault(marketID uint64) common.Address {
	return common.BytesToAddress(derive(tagMarketVault, Market(marketID).Bytes()).Bytes())
}

// ProposalVault is the issuance authority of a proposal. It owns the
// proposal's reserves and is the mint authority of its three tokens.
func ProposalVault(proposalID uint64) common.Address {
	return common.BytesToAddress(derive(tagProposalAuth, le(proposalID)).Bytes())
}

// StableToken is the stable unit of a proposal.
func StableToken(proposalID uint64) domain.TokenID { return token(tagStable, proposalID) }

// YesToken is the yes outcome unit of a proposal.
func YesToken(proposalID uint64) domain.TokenID { return token(tagYes, proposalID) }

// NoToken is the no outcome unit of a proposal.
func NoToken(proposalID uint64) domain.TokenID { return token(tagNo, proposalID) }

func token(tag string, proposalID uint64) domain.TokenID {
	return domain.TokenID(derive(tag, le(proposalID)).Hex())
}

// IsIssuedToken reports whether token lies in the namespace of ledger-issued
// token ids (a 0x-prefixed 32-byte digest). Deposit currencies must not.
func IsIssuedToken(token domain.TokenID) bool {
	b, err := hexutil.Decode(string(token))
	return err == nil && len(b) == common.HashLength
}
