package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/quantumledger/internal/domain"
	"github.com/alanyoungcy/quantumledger/internal/engine"
	"github.com/alanyoungcy/quantumledger/internal/server"
	"github.com/alanyoungcy/quantumledger/internal/server/handler"
	"github.com/alanyoungcy/quantumledger/internal/server/ws"
	"github.com/alanyoungcy/quantumledger/internal/service"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

func (a *App) ledgerService(deps *Dependencies) *service.LedgerService {
	eng := engine.New(engine.Options{
		ClaimScope:      domain.ClaimScope(a.cfg.Ledger.ClaimScope),
		MinDepositFloor: a.cfg.Ledger.MinDepositFloor,
	})
	return service.NewLedgerService(deps.Substrate, eng, deps.MarketCache, deps.SignalBus, deps.AuditStore, a.logger)
}

// InitMode creates the global id sequences and exits. Running it against an
// initialised store is not an error.
func (a *App) InitMode(ctx context.Context, deps *Dependencies) error {
	if err := ensureInitialized(ctx, a.ledgerService(deps)); err != nil {
		return fmt.Errorf("app: init: %w", err)
	}
	a.logger.InfoContext(ctx, "init mode: ledger initialized")
	return nil
}

// ArchiveMode runs one archive pass and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("app: archive mode requires s3")
	}
	res, err := a.archiveService(deps).RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("app: archive: %w", err)
	}
	if res.Skipped {
		a.logger.InfoContext(ctx, "archive mode: another replica is archiving")
	}
	return nil
}

// ServeMode runs the HTTP API, the WebSocket hub and the periodic archiver
// until ctx is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	ledger := a.ledgerService(deps)
	if deps.Ephemeral {
		if err := ensureInitialized(ctx, ledger); err != nil {
			return fmt.Errorf("app: serve: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:       a.cfg.Mode,
			ClaimScope: ledger.ClaimScope(),
			StartedAt:  time.Now().UTC(),
		})
		g.Go(func() error {
			if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("ws hub: %w", err)
			}
			return nil
		})
	} else {
		a.logger.InfoContext(ctx, "serve mode: redis disabled, /ws not available")
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks, a.logger),
		Ledger: handler.NewLedgerHandler(ledger, a.logger),
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}
	if a.cfg.Ledger.FaucetEnabled {
		handlers.Faucet = handler.NewFaucetHandler(deps.Faucet, a.logger)
		a.logger.WarnContext(ctx, "serve mode: faucet enabled, do not expose this deployment publicly")
	}

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		RateLimit:    a.cfg.Server.RateLimit,
		RateWindow:   a.cfg.Server.RateWindow.Duration,
		ReadTimeout:  a.cfg.Server.ReadTimeout.Duration,
		WriteTimeout: a.cfg.Server.WriteTimeout.Duration,

		RequireOwnerSignature: a.cfg.Server.RequireOwnerSignature,
		SignatureMaxSkew:      a.cfg.Server.SignatureMaxSkew.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if deps.Archiver != nil && a.cfg.Archive.Interval.Duration > 0 {
		archiver := a.archiveService(deps)
		g.Go(func() error {
			err := archiver.Run(ctx, a.cfg.Archive.Interval.Duration)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archive loop: %w", err)
		})
	}

	return g.Wait()
}

func (a *App) archiveService(deps *Dependencies) *service.ArchiveService {
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	return service.NewArchiveService(deps.Archiver, deps.LockManager, retention, a.cfg.Archive.LockTTL.Duration, a.logger)
}

// ensureInitialized runs InitGlobal, treating existing sequences as success.
func ensureInitialized(ctx context.Context, ledger *service.LedgerService) error {
	err := ledger.InitGlobal(ctx)
	if errors.Is(err, domain.ErrAlreadyExists) {
		return nil
	}
	return err
}
