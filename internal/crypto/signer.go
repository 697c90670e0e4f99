// Package crypto signs and verifies ledger API requests with EIP-712 typed
// data, binding a request to the owner address that signed it.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Domain name and version of the request signing scheme.
const (
	DomainName    = "qledger"
	DomainVersion = "1"
)

var (
	// EIP712Domain(string name,string version)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version)"),
	)

	// LedgerRequest(string method,string path,bytes body,uint256 timestamp)
	requestTypeHash = ethcrypto.Keccak256(
		[]byte("LedgerRequest(string method,string path,bytes body,uint256 timestamp)"),
	)

	domainSeparator = ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(DomainName)),
			ethcrypto.Keccak256([]byte(DomainVersion)),
		),
	)
)

// ErrBadSignature is returned for signatures that cannot be decoded or
// recovered.
var ErrBadSignature = errors.New("crypto: bad signature")

// Request is the signed part of an API call.
type Request struct {
	Method    string
	Path      string
	Body      []byte
	Timestamp int64 // unix seconds
}

// Digest returns the EIP-712 digest of r.
func (r Request) Digest() []byte {
	structHash := ethcrypto.Keccak256(
		concatBytes(
			requestTypeHash,
			ethcrypto.Keccak256([]byte(strings.ToUpper(r.Method))),
			ethcrypto.Keccak256([]byte(r.Path)),
			ethcrypto.Keccak256(r.Body),
			bigIntTo32Bytes(big.NewInt(r.Timestamp)),
		),
	)
	return eip712Hash(domainSeparator, structHash)
}

// Signer signs requests with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignRequest returns the hex-encoded 65-byte signature of r.
func (s *Signer) SignRequest(r Request) (string, error) {
	sig, err := ethcrypto.Sign(r.Digest(), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; EIP-712 wallets produce {27,28}.
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverAddress returns the address that produced sigHex over r. Both v
// conventions are accepted.
func RecoverAddress(r Request, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return common.Address{}, ErrBadSignature
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(r.Digest(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

func bigIntTo32Bytes(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

func concatBytes(parts ...[]byte) []byte {
	var size int
	for _, p := range parts {
		size += len(p)
	}
	out := make([]byte, 0, size)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
