// Package server exposes the ledger over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/quantumledger/internal/domain"
	"github.com/alanyoungcy/quantumledger/internal/server/handler"
	"github.com/alanyoungcy/quantumledger/internal/server/middleware"
	"github.com/alanyoungcy/quantumledger/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port         int
	CORSOrigins  []string
	APIKey       string // if empty, authentication is disabled
	RateLimit    int    // requests per RateWindow per client; 0 disables
	RateWindow   time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// RequireOwnerSignature makes every X-Owner request carry a signature
	// by that address, timestamped within SignatureMaxSkew.
	RequireOwnerSignature bool
	SignatureMaxSkew      time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Audit and Faucet are optional.
type Handlers struct {
	Health *handler.HealthHandler
	Ledger *handler.LedgerHandler
	Audit  *handler.AuditHandler
	Faucet *handler.FaucetHandler
}

// Server is the HTTP + WebSocket API server for the ledger.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// The WebSocket hub and rate limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	l := handlers.Ledger
	mux.HandleFunc("POST /api/global/init", l.InitGlobal)

	mux.HandleFunc("POST /api/markets", l.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", l.GetMarket)
	mux.HandleFunc("POST /api/markets/{id}/deposits", l.Deposit)
	mux.HandleFunc("GET /api/markets/{id}/deposits/{owner}", l.GetDeposit)
	mux.HandleFunc("POST /api/markets/{id}/proposals", l.CreateProposal)

	mux.HandleFunc("GET /api/proposals/{id}", l.GetProposal)
	mux.HandleFunc("POST /api/proposals/{id}/mint", l.Mint)
	mux.HandleFunc("POST /api/proposals/{id}/redeem", l.Redeem)
	mux.HandleFunc("POST /api/proposals/{id}/claim", l.Claim)
	mux.HandleFunc("GET /api/proposals/{id}/claims/{owner}", l.GetClaim)
	mux.HandleFunc("POST /api/proposals/{id}/accept", l.Accept)

	mux.HandleFunc("GET /api/balances/{token}/{owner}", l.Balance)

	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.List)
	}
	if handlers.Faucet != nil {
		mux.HandleFunc("POST /api/faucet", handlers.Faucet.Fund)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if cfg.RequireOwnerSignature {
		h = middleware.OwnerSignature(cfg.SignatureMaxSkew, nil)(h)
	}
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
