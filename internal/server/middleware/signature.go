package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/quantumledger/internal/crypto"
)

// Headers carrying an owner's request signature.
const (
	OwnerHeader          = "X-Owner"
	OwnerSignatureHeader = "X-Owner-Signature"
	OwnerTimestampHeader = "X-Owner-Timestamp"
)

// maxSignedBody bounds the body read for signature verification.
const maxSignedBody = 64 * 1024

// OwnerSignature returns middleware that requires every request carrying an
// X-Owner header to be signed by that address. The signature covers the
// method, path, body and X-Owner-Timestamp, which must lie within maxSkew of
// now.
func OwnerSignature(maxSkew time.Duration, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner := r.Header.Get(OwnerHeader)
			if owner == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !common.IsHexAddress(owner) {
				writeUnauthorized(w, "malformed owner")
				return
			}

			ts, err := strconv.ParseInt(r.Header.Get(OwnerTimestampHeader), 10, 64)
			if err != nil {
				writeUnauthorized(w, "missing owner timestamp")
				return
			}
			if skew := now().Sub(time.Unix(ts, 0)); skew > maxSkew || skew < -maxSkew {
				writeUnauthorized(w, "owner timestamp outside allowed skew")
				return
			}

			var body []byte
			if r.Body != nil {
				body, err = io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
				if err != nil {
					writeUnauthorized(w, "unreadable body")
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}

			signer, err := crypto.RecoverAddress(crypto.Request{
				Method:    r.Method,
				Path:      r.URL.Path,
				Body:      body,
				Timestamp: ts,
			}, strings.TrimSpace(r.Header.Get(OwnerSignatureHeader)))
			if err != nil || signer != common.HexToAddress(owner) {
				writeUnauthorized(w, "owner signature does not match")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
