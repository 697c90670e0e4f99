package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quantumledger/internal/domain"
	"github.com/alanyoungcy/quantumledger/internal/engine"
	"github.com/alanyoungcy/quantumledger/internal/keys"
	"github.com/alanyoungcy/quantumledger/internal/server"
	"github.com/alanyoungcy/quantumledger/internal/server/handler"
	"github.com/alanyoungcy/quantumledger/internal/service"
	"github.com/alanyoungcy/quantumledger/internal/store/memory"
)

var (
	alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	resolver = common.HexToAddress("0x00000000000000000000000000000000000000ee")
)

type testServer struct {
	t       *testing.T
	handler http.Handler
}

func newTestServer(t *testing.T, cfg server.Config) *testServer {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	store := memory.New()
	svc := service.NewLedgerService(store, engine.New(engine.Options{}), nil, nil, nil, logger)

	srv := server.NewServer(cfg, server.Handlers{
		Health: handler.NewHealthHandler(map[string]handler.HealthCheck{
			"store": func(context.Context) error { return nil },
		}, logger),
		Ledger: handler.NewLedgerHandler(svc, logger),
		Faucet: handler.NewFaucetHandler(store, logger),
	}, nil, nil, logger)
	return &testServer{t: t, handler: srv.Handler()}
}

func (s *testServer) do(method, path string, caller *common.Address, body any) (int, map[string]any) {
	s.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if caller != nil {
		req.Header.Set(handler.OwnerHeader, caller.Hex())
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func TestLedgerScenarioOverHTTP(t *testing.T) {
	s := newTestServer(t, server.Config{})

	code, _ := s.do(http.MethodPost, "/api/global/init", nil, nil)
	require.Equal(t, http.StatusCreated, code)
	code, body := s.do(http.MethodPost, "/api/global/init", nil, nil)
	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "already_exists", body["code"])

	code, _ = s.do(http.MethodPost, "/api/faucet", nil, map[string]any{
		"token": "usdc", "owner": alice.Hex(), "amount": 100,
	})
	require.Equal(t, http.StatusOK, code)

	code, body = s.do(http.MethodPost, "/api/markets", &alice, map[string]any{
		"min_deposit":   3,
		"strike_price":  50,
		"title":         "will it rain",
		"deposit_token": "usdc",
		"resolver":      resolver.Hex(),
	})
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, float64(0), body["id"])
	assert.Equal(t, "open", body["status"])

	code, body = s.do(http.MethodPost, "/api/markets/0/deposits", &alice, map[string]any{"amount": 5})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, float64(5), body["amount"])

	code, body = s.do(http.MethodPost, "/api/markets/0/proposals", &alice, map[string]any{"payload": "0x6869"})
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "0x6869", body["payload"])
	stable := body["stable_token"].(string)

	code, body = s.do(http.MethodGet, "/api/markets/0/deposits/"+alice.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["amount"])

	code, body = s.do(http.MethodPost, "/api/proposals/0/claim", &alice, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, float64(2), body["minted"])

	code, body = s.do(http.MethodGet, "/api/proposals/0/claims/"+alice.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["claimed"])

	code, body = s.do(http.MethodPost, "/api/proposals/0/claim", &alice, nil)
	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "nothing_to_claim", body["code"])

	code, body = s.do(http.MethodPost, "/api/proposals/0/mint", &alice, map[string]any{"amount": 2})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, float64(2), body["yes"])
	assert.Equal(t, float64(2), body["no"])

	code, body = s.do(http.MethodPost, "/api/proposals/0/redeem", &alice, map[string]any{"amount": 3})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, float64(3), body["stable"])

	code, body = s.do(http.MethodGet, "/api/balances/"+stable+"/"+alice.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), body["balance"])

	code, body = s.do(http.MethodPost, "/api/proposals/0/redeem", &alice, map[string]any{"amount": 1})
	require.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "insufficient_balance", body["code"])

	code, body = s.do(http.MethodPost, "/api/proposals/0/accept", &alice, nil)
	require.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "unauthorized", body["code"])

	code, body = s.do(http.MethodPost, "/api/proposals/0/accept", &resolver, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "proposal_accepted", body["status"])
	assert.Equal(t, float64(0), body["accepted_proposal"])

	code, body = s.do(http.MethodPost, "/api/proposals/0/accept", &resolver, nil)
	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "proposal_accepted", body["code"])
}

func TestFaucetRefusesProposalTokens(t *testing.T) {
	s := newTestServer(t, server.Config{})
	code, _ := s.do(http.MethodPost, "/api/global/init", nil, nil)
	require.Equal(t, http.StatusCreated, code)

	// Ids of proposals that do not exist yet are refused too.
	code, body := s.do(http.MethodPost, "/api/faucet", nil, map[string]any{
		"token": string(keys.StableToken(0)), "owner": bob.Hex(), "amount": 1,
	})
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_argument", body["code"])

	code, _ = s.do(http.MethodPost, "/api/faucet", nil, map[string]any{
		"token": "usdc", "owner": alice.Hex(), "amount": 9,
	})
	require.Equal(t, http.StatusOK, code)
	code, _ = s.do(http.MethodPost, "/api/markets", &alice, map[string]any{
		"min_deposit": 9, "title": "t", "deposit_token": "usdc", "resolver": resolver.Hex(),
	})
	require.Equal(t, http.StatusCreated, code)
	code, _ = s.do(http.MethodPost, "/api/markets/0/deposits", &alice, map[string]any{"amount": 9})
	require.Equal(t, http.StatusOK, code)
	code, proposal := s.do(http.MethodPost, "/api/markets/0/proposals", &alice, map[string]any{"payload": "0x"})
	require.Equal(t, http.StatusCreated, code, proposal)
	assert.Equal(t, float64(0), proposal["id"])

	for _, token := range []string{"stable_token", "yes_token", "no_token"} {
		code, body = s.do(http.MethodPost, "/api/faucet", nil, map[string]any{
			"token": proposal[token], "owner": bob.Hex(), "amount": 3,
		})
		require.Equal(t, http.StatusBadRequest, code, token)
		assert.Equal(t, "invalid_argument", body["code"])
	}
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t, server.Config{})
	code, _ := s.do(http.MethodPost, "/api/global/init", nil, nil)
	require.Equal(t, http.StatusCreated, code)

	tests := []struct {
		name   string
		method string
		path   string
		caller *common.Address
		body   any
		status int
		code   string
	}{
		{"missing owner header", http.MethodPost, "/api/markets/0/deposits", nil, map[string]any{"amount": 1}, http.StatusBadRequest, "invalid_argument"},
		{"non numeric id", http.MethodGet, "/api/markets/abc", nil, nil, http.StatusBadRequest, "invalid_argument"},
		{"unknown market", http.MethodGet, "/api/markets/99", nil, nil, http.StatusNotFound, "not_found"},
		{"unknown proposal", http.MethodPost, "/api/proposals/7/claim", &alice, nil, http.StatusNotFound, "not_found"},
		{"bad owner in path", http.MethodGet, "/api/balances/usdc/nobody", nil, nil, http.StatusBadRequest, "invalid_argument"},
		{"unknown body field", http.MethodPost, "/api/markets/0/deposits", &alice, map[string]any{"amt": 1}, http.StatusBadRequest, "invalid_argument"},
		{"bad resolver", http.MethodPost, "/api/markets", &alice, map[string]any{"title": "x", "deposit_token": "usdc", "resolver": "0x12"}, http.StatusBadRequest, "invalid_argument"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := s.do(tt.method, tt.path, tt.caller, tt.body)
			assert.Equal(t, tt.status, code, body)
			assert.Equal(t, tt.code, body["code"])
		})
	}
}

func TestDepositShortfallIsUnprocessable(t *testing.T) {
	s := newTestServer(t, server.Config{})
	s.do(http.MethodPost, "/api/global/init", nil, nil)
	code, _ := s.do(http.MethodPost, "/api/markets", &alice, map[string]any{
		"min_deposit": 3, "title": "t", "deposit_token": "usdc", "resolver": resolver.Hex(),
	})
	require.Equal(t, http.StatusCreated, code)

	code, body := s.do(http.MethodPost, "/api/markets/0/deposits", &alice, map[string]any{"amount": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "insufficient_balance", body["code"])

	code, body = s.do(http.MethodPost, "/api/markets/0/proposals", &alice, map[string]any{})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "insufficient_deposit", body["code"])
}

func TestAPIKeyGuardsEverythingButHealth(t *testing.T) {
	s := newTestServer(t, server.Config{APIKey: "k"})

	code, body := s.do(http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, _ = s.do(http.MethodPost, "/api/global/init", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	req := httptest.NewRequest(http.MethodPost, "/api/global/init", nil)
	req.Header.Set("Authorization", "Bearer k")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

type denyAll struct{ err error }

func (d denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, d.err
}

func TestRateLimit(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	build := func(limiter denyAll) http.Handler {
		return server.NewServer(server.Config{RateLimit: 1, RateWindow: time.Second}, server.Handlers{
			Health: handler.NewHealthHandler(nil, logger),
			Ledger: handler.NewLedgerHandler(nil, logger),
		}, nil, limiter, logger).Handler()
	}

	rec := httptest.NewRecorder()
	build(denyAll{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = httptest.NewRecorder()
	build(denyAll{err: errors.New("redis down")}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthDegraded(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	h := handler.NewHealthHandler(map[string]handler.HealthCheck{
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	}, logger)

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestFaucetNotRegisteredWhenDisabled(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	h := server.NewServer(server.Config{}, server.Handlers{
		Health: handler.NewHealthHandler(nil, logger),
		Ledger: handler.NewLedgerHandler(nil, logger),
	}, nil, nil, logger).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/faucet", bytes.NewReader([]byte(`{}`))))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type listAudit struct{ opts domain.ListOpts }

func (a *listAudit) Log(context.Context, string, map[string]any) error { return nil }

func (a *listAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.opts = opts
	return []domain.AuditEntry{{ID: 7, Event: "claimed", Detail: map[string]any{"amount": 9}}}, nil
}

func (a *listAudit) ListBefore(context.Context, time.Time) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestAuditListing(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	audit := &listAudit{}
	h := server.NewServer(server.Config{}, server.Handlers{
		Health: handler.NewHealthHandler(nil, logger),
		Ledger: handler.NewLedgerHandler(nil, logger),
		Audit:  handler.NewAuditHandler(audit, logger),
	}, nil, nil, logger).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit?limit=900&offset=3&since=2026-01-01T00:00:00Z", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, audit.opts.Limit)
	assert.Equal(t, 3, audit.opts.Offset)
	require.NotNil(t, audit.opts.Since)
	assert.Nil(t, audit.opts.Until)
	assert.Contains(t, rec.Body.String(), `"event":"claimed"`)
}
