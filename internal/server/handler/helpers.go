package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/quantumledger/internal/domain"
)

// OwnerHeader carries the caller's address on every mutating request.
const OwnerHeader = "X-Owner"

// maxBodyBytes bounds request bodies. A proposal payload is at most 256
// bytes, hex encoded.
const maxBodyBytes = 4096

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// errorClass pairs a ledger error with its HTTP status and stable code.
type errorClass struct {
	err    error
	status int
	code   string
}

var errorClasses = []errorClass{
	{domain.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"},
	{domain.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrNothingToClaim, http.StatusConflict, "nothing_to_claim"},
	{domain.ErrInsufficientDeposit, http.StatusConflict, "insufficient_deposit"},
	{domain.ErrMarketClosed, http.StatusConflict, "market_closed"},
	{domain.ErrProposalAccepted, http.StatusConflict, "proposal_accepted"},
	{domain.ErrAlreadyExists, http.StatusConflict, "already_exists"},
	{domain.ErrConflict, http.StatusConflict, "conflict"},
	{domain.ErrLockHeld, http.StatusConflict, "lock_held"},
	{domain.ErrOverflow, http.StatusUnprocessableEntity, "overflow"},
	{domain.ErrUnderflow, http.StatusUnprocessableEntity, "underflow"},
	{domain.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
}

// classify returns the HTTP status and code for a ledger error. Unknown
// errors are internal.
func classify(err error) (int, string) {
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			return c.status, c.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// writeLedgerError maps err onto the response. Internal failures are logged
// at Error and their text is not returned to the caller.
func writeLedgerError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeJSON(w, status, errorResponse{Error: op + " failed", Code: code})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0. since and until are RFC 3339.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
	if t, err := time.Parse(time.RFC3339, q.Get("since")); err == nil {
		opts.Since = &t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("until")); err == nil {
		opts.Until = &t
	}
	return opts
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// pathUint parses a decimal uint64 path parameter.
func pathUint(r *http.Request, name string) (uint64, error) {
	v := pathParam(r, name)
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not an unsigned integer", domain.ErrInvalidArgument, name, v)
	}
	return n, nil
}

// parseAddress parses a 0x-prefixed hex address.
func parseAddress(field, v string) (common.Address, error) {
	v = strings.TrimSpace(v)
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%w: %s %q is not a hex address", domain.ErrInvalidArgument, field, v)
	}
	return common.HexToAddress(v), nil
}

// callerAddress reads the caller identity from the X-Owner header.
func callerAddress(r *http.Request) (common.Address, error) {
	v := r.Header.Get(OwnerHeader)
	if v == "" {
		return common.Address{}, fmt.Errorf("%w: missing %s header", domain.ErrInvalidArgument, OwnerHeader)
	}
	return parseAddress(OwnerHeader, v)
}

// decodeBody decodes a JSON request body into dst, rejecting unknown fields.
// An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: decode body: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}
