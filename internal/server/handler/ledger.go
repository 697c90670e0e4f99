package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/quantumledger/internal/domain"
)

// LedgerService defines the methods that the ledger handler requires from
// the service layer. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type LedgerService interface {
	InitGlobal(ctx context.Context) error
	CreateMarket(ctx context.Context, creator common.Address, params domain.MarketParams) (domain.Market, error)
	DepositToMarket(ctx context.Context, marketID uint64, owner common.Address, amount uint64) (uint64, error)
	CreateProposal(ctx context.Context, marketID uint64, owner common.Address, payload []byte) (domain.Proposal, error)
	MintYesNo(ctx context.Context, proposalID uint64, owner common.Address, amount uint64) (uint64, uint64, error)
	RedeemYesNo(ctx context.Context, proposalID uint64, owner common.Address, amount uint64) (uint64, error)
	ClaimForProposal(ctx context.Context, proposalID uint64, owner common.Address) (uint64, error)
	AcceptProposal(ctx context.Context, proposalID uint64, caller common.Address) (domain.Market, error)

	GetMarket(ctx context.Context, id uint64) (domain.Market, error)
	GetProposal(ctx context.Context, id uint64) (domain.Proposal, error)
	GetDeposit(ctx context.Context, marketID uint64, owner common.Address) (uint64, error)
	GetClaim(ctx context.Context, proposalID uint64, owner common.Address) (domain.ClaimRecord, error)
	Balance(ctx context.Context, token domain.TokenID, owner common.Address) (uint64, error)
}

// LedgerHandler serves the ledger operations.
type LedgerHandler struct {
	ledger LedgerService
	logger *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(ledger LedgerService, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger: ledger,
		logger: logger.With(slog.String("handler", "ledger")),
	}
}

type marketResponse struct {
	ID               uint64         `json:"id"`
	CreatedAt        time.Time      `json:"created_at"`
	MinDeposit       uint64         `json:"min_deposit"`
	StrikePrice      uint64         `json:"strike_price"`
	Creator          common.Address `json:"creator"`
	DepositToken     domain.TokenID `json:"deposit_token"`
	Resolver         common.Address `json:"resolver"`
	Vault            common.Address `json:"vault"`
	Status           string         `json:"status"`
	Title            string         `json:"title"`
	AcceptedProposal *uint64        `json:"accepted_proposal,omitempty"`
}

func toMarketResponse(m domain.Market) marketResponse {
	return marketResponse{
		ID:               m.ID,
		CreatedAt:        m.CreatedAt,
		MinDeposit:       m.MinDeposit,
		StrikePrice:      m.StrikePrice,
		Creator:          m.Creator,
		DepositToken:     m.DepositToken,
		Resolver:         m.Resolver,
		Vault:            m.Vault,
		Status:           string(m.Status),
		Title:            m.Title,
		AcceptedProposal: m.AcceptedProposal,
	}
}

type proposalResponse struct {
	ID          uint64         `json:"id"`
	MarketID    uint64         `json:"market_id"`
	CreatedAt   time.Time      `json:"created_at"`
	Creator     common.Address `json:"creator"`
	StableToken domain.TokenID `json:"stable_token"`
	YesToken    domain.TokenID `json:"yes_token"`
	NoToken     domain.TokenID `json:"no_token"`
	Vault       common.Address `json:"vault"`
	YesPool     common.Address `json:"yes_pool"`
	NoPool      common.Address `json:"no_pool"`
	Payload     hexutil.Bytes  `json:"payload"`
}

func toProposalResponse(p domain.Proposal) proposalResponse {
	return proposalResponse{
		ID:          p.ID,
		MarketID:    p.MarketID,
		CreatedAt:   p.CreatedAt,
		Creator:     p.Creator,
		StableToken: p.StableToken,
		YesToken:    p.YesToken,
		NoToken:     p.NoToken,
		Vault:       p.Vault,
		YesPool:     p.YesPool,
		NoPool:      p.NoPool,
		Payload:     hexutil.Bytes(p.Payload),
	}
}

type createMarketRequest struct {
	MinDeposit   uint64         `json:"min_deposit"`
	StrikePrice  uint64         `json:"strike_price"`
	Title        string         `json:"title"`
	DepositToken domain.TokenID `json:"deposit_token"`
	Resolver     string         `json:"resolver"`
}

type amountRequest struct {
	Amount uint64 `json:"amount"`
}

type createProposalRequest struct {
	Payload hexutil.Bytes `json:"payload"`
}

// InitGlobal creates the id sequences.
// POST /api/global/init
func (h *LedgerHandler) InitGlobal(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.InitGlobal(r.Context()); err != nil {
		writeLedgerError(w, r, h.logger, "init global", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "initialized"})
}

// CreateMarket opens a market owned by the caller.
// POST /api/markets
func (h *LedgerHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	creator, err := callerAddress(r)
	if err != nil {
		writeLedgerError(w, r, h.logger, "create market", err)
		return
	}
	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeLedgerError(w, r, h.logger, "create market", err)
		return
	}
	resolver, err := parseAddress("resolver", req.Resolver)
	if err != nil {
		writeLedgerError(w, r, h.logger, "create market", err)
		return
	}

	m, err := h.ledger.CreateMarket(r.Context(), creator, domain.MarketParams{
		MinDeposit:   req.MinDeposit,
		StrikePrice:  req.StrikePrice,
		Title:        req.Title,
		DepositToken: req.DepositToken,
		Resolver:     resolver,
	})
	if err != nil {
		writeLedgerError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMarketResponse(m))
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *LedgerHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		writeLedgerError(w, r, h.logger, "get market", err)
		return
	}
	m, err := h.ledger.GetMarket(r.Context(), id)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketResponse(m))
}

// Deposit moves the caller's deposit currency into the market vault.
// POST /api/markets/{id}/deposits
func (h *LedgerHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	id, owner, req, ok := h.amountCall(w, r, "deposit")
	if !ok {
		return
	}
	total, err := h.ledger.DepositToMarket(r.Context(), id, owner, req.Amount)
	if err != nil {
		writeLedgerError(w, r, h.logger, "deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"owner":     owner,
		"amount":    total,
	})
}

// GetDeposit returns an owner's live deposit balance.
// GET /api/markets/{id}/deposits/{owner}
func (h *LedgerHandler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		writeLedgerError(w, r, h.logger, "get deposit", err)
		return
	}
	owner, err := parseAddress("owner", pathParam(r, "owner"))
	if err != nil {
		writeLedgerError(w, r, h.logger, "get deposit", err)
		return
	}
	amount, err := h.ledger.GetDeposit(r.Context(), id, owner)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"owner":     owner,
		"amount":    amount,
	})
}

// CreateProposal locks the market's minimum deposit from the caller and
// issues the proposal's tokens.
// POST /api/markets/{id}/proposals
func (h *LedgerHandler) CreateProposal(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		writeLedgerError(w, r, h.logger, "create proposal", err)
		return
	}
	owner, err := callerAddress(r)
	if err != nil {
		writeLedgerError(w, r, h.logger, "create proposal", err)
		return
	}
	var req createProposalRequest
	if err := decodeBody(r, &req); err != nil {
		writeLedgerError(w, r, h.logger, "create proposal", err)
		return
	}
	p, err := h.ledger.CreateProposal(r.Context(), id, owner, req.Payload)
	if err != nil {
		writeLedgerError(w, r, h.logger, "create proposal", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProposalResponse(p))
}

// GetProposal returns a single proposal by its ID.
// GET /api/proposals/{id}
func (h *LedgerHandler) GetProposal(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		writeLedgerError(w, r, h.logger, "get proposal", err)
		return
	}
	p, err := h.ledger.GetProposal(r.Context(), id)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get proposal", err)
		return
	}
	writeJSON(w, http.StatusOK, toProposalResponse(p))
}

// Mint exchanges the caller's stable units for a yes/no pair.
// POST /api/proposals/{id}/mint
func (h *LedgerHandler) Mint(w http.ResponseWriter, r *http.Request) {
	id, owner, req, ok := h.amountCall(w, r, "mint")
	if !ok {
		return
	}
	yes, no, err := h.ledger.MintYesNo(r.Context(), id, owner, req.Amount)
	if err != nil {
		writeLedgerError(w, r, h.logger, "mint", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"proposal_id": id,
		"yes":         yes,
		"no":          no,
	})
}

// Redeem exchanges a yes/no pair back into stable units.
// POST /api/proposals/{id}/redeem
func (h *LedgerHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	id, owner, req, ok := h.amountCall(w, r, "redeem")
	if !ok {
		return
	}
	stable, err := h.ledger.RedeemYesNo(r.Context(), id, owner, req.Amount)
	if err != nil {
		writeLedgerError(w, r, h.logger, "redeem", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"proposal_id": id,
		"stable":      stable,
	})
}

// Claim mints the stable units the caller's deposit has accrued since the
// last claim.
// POST /api/proposals/{id}/claim
func (h *LedgerHandler) Claim(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		writeLedgerError(w, r, h.logger, "claim", err)
		return
	}
	owner, err := callerAddress(r)
	if err != nil {
		writeLedgerError(w, r, h.logger, "claim", err)
		return
	}
	minted, err := h.ledger.ClaimForProposal(r.Context(), id, owner)
	if err != nil {
		writeLedgerError(w, r, h.logger, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"proposal_id": id,
		"minted":      minted,
	})
}

// GetClaim returns the claim watermark for an owner under a proposal.
// GET /api/proposals/{id}/claims/{owner}
func (h *LedgerHandler) GetClaim(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		writeLedgerError(w, r, h.logger, "get claim", err)
		return
	}
	owner, err := parseAddress("owner", pathParam(r, "owner"))
	if err != nil {
		writeLedgerError(w, r, h.logger, "get claim", err)
		return
	}
	rec, err := h.ledger.GetClaim(r.Context(), id, owner)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get claim", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scope":    rec.Key.Scope,
		"scope_id": rec.Key.ScopeID,
		"owner":    rec.Key.Owner,
		"claimed":  rec.Claimed,
	})
}

// Accept records the caller, who must be the market resolver, accepting the
// proposal.
// POST /api/proposals/{id}/accept
func (h *LedgerHandler) Accept(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		writeLedgerError(w, r, h.logger, "accept proposal", err)
		return
	}
	caller, err := callerAddress(r)
	if err != nil {
		writeLedgerError(w, r, h.logger, "accept proposal", err)
		return
	}
	m, err := h.ledger.AcceptProposal(r.Context(), id, caller)
	if err != nil {
		writeLedgerError(w, r, h.logger, "accept proposal", err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketResponse(m))
}

// Balance returns an owner's balance of a token.
// GET /api/balances/{token}/{owner}
func (h *LedgerHandler) Balance(w http.ResponseWriter, r *http.Request) {
	token := domain.TokenID(pathParam(r, "token"))
	owner, err := parseAddress("owner", pathParam(r, "owner"))
	if err != nil {
		writeLedgerError(w, r, h.logger, "balance", err)
		return
	}
	bal, err := h.ledger.Balance(r.Context(), token, owner)
	if err != nil {
		writeLedgerError(w, r, h.logger, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":   token,
		"owner":   owner,
		"balance": bal,
	})
}

// amountCall parses the {id} path value, the caller and an amount body. On
// failure it has already written the response.
func (h *LedgerHandler) amountCall(w http.ResponseWriter, r *http.Request, op string) (uint64, common.Address, amountRequest, bool) {
	var req amountRequest
	id, err := pathUint(r, "id")
	if err != nil {
		writeLedgerError(w, r, h.logger, op, err)
		return 0, common.Address{}, req, false
	}
	owner, err := callerAddress(r)
	if err != nil {
		writeLedgerError(w, r, h.logger, op, err)
		return 0, common.Address{}, req, false
	}
	if err := decodeBody(r, &req); err != nil {
		writeLedgerError(w, r, h.logger, op, err)
		return 0, common.Address{}, req, false
	}
	return id, owner, req, true
}
