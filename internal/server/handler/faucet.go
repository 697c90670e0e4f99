package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/quantumledger/internal/domain"
)

// FaucetHandler credits deposit currency to an address. It is registered
// only when the faucet is enabled.
type FaucetHandler struct {
	faucet domain.Faucet
	logger *slog.Logger
}

// NewFaucetHandler creates a FaucetHandler.
func NewFaucetHandler(faucet domain.Faucet, logger *slog.Logger) *FaucetHandler {
	return &FaucetHandler{
		faucet: faucet,
		logger: logger.With(slog.String("handler", "faucet")),
	}
}

type fundRequest struct {
	Token  domain.TokenID `json:"token"`
	Owner  string         `json:"owner"`
	Amount uint64         `json:"amount"`
}

// Fund credits amount of token to owner.
// POST /api/faucet
func (h *FaucetHandler) Fund(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := decodeBody(r, &req); err != nil {
		writeLedgerError(w, r, h.logger, "fund", err)
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeLedgerError(w, r, h.logger, "fund", err)
		return
	}
	if req.Token == "" || req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "token and a non-zero amount are required")
		return
	}
	if err := h.faucet.Fund(r.Context(), req.Token, owner, req.Amount); err != nil {
		writeLedgerError(w, r, h.logger, "fund", err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: faucet funded",
		slog.String("token", string(req.Token)),
		slog.String("owner", owner.Hex()),
		slog.Uint64("amount", req.Amount),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":  req.Token,
		"owner":  owner,
		"amount": req.Amount,
	})
}
