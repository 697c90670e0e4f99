package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/quantumledger/internal/blob/s3"
	"github.com/alanyoungcy/quantumledger/internal/cache/redis"
	"github.com/alanyoungcy/quantumledger/internal/config"
	"github.com/alanyoungcy/quantumledger/internal/domain"
	"github.com/alanyoungcy/quantumledger/internal/server/handler"
	"github.com/alanyoungcy/quantumledger/internal/store/memory"
	"github.com/alanyoungcy/quantumledger/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need. It is constructed by Wire and torn down by the returned cleanup
// function. Optional dependencies stay nil when their backend is disabled.
type Dependencies struct {
	Substrate  domain.Substrate
	Faucet     domain.Faucet
	AuditStore domain.AuditStore
	// Ephemeral is set for the in-memory substrate, whose sequences must be
	// created by every process.
	Ephemeral bool

	// Caches
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Checks probes every wired backend for /api/health.
	Checks map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.HealthCheck)}
	var (
		auditSource s3blob.AuditSource
		proposals   domain.ProposalLister
	)

	// --- Ledger substrate ---
	switch cfg.Store.Backend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:               cfg.Postgres.DSN,
			Host:              cfg.Postgres.Host,
			Port:              cfg.Postgres.Port,
			Database:          cfg.Postgres.Database,
			User:              cfg.Postgres.User,
			Password:          cfg.Postgres.Password,
			SSLMode:           cfg.Postgres.SSLMode,
			MaxConns:          cfg.Postgres.PoolMaxConns,
			MinConns:          cfg.Postgres.PoolMinConns,
			HealthCheckPeriod: cfg.Postgres.HealthCheckPeriod.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Store.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		substrate := postgres.NewSubstrate(pool)
		audit := postgres.NewAuditStore(pool)
		deps.Substrate = substrate
		deps.Faucet = substrate
		deps.AuditStore = audit
		auditSource = audit
		proposals = postgres.NewProposalLister(pool)
		deps.Checks["postgres"] = pgClient.Ping

	default:
		store := memory.New()
		deps.Substrate = store
		deps.Faucet = store
		deps.Ephemeral = true
		proposals = store
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  cfg.Redis.Namespace,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Checks["s3"] = s3Client.Health
		// The audit log lives in postgres; without it only proposals are
		// archived.
		if auditSource == nil {
			auditSource = emptyAudit{}
		}
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, auditSource, proposals, deps.AuditStore)
	}

	logger.InfoContext(ctx, "wire: dependencies ready",
		slog.String("store", cfg.Store.Backend),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.Bool("s3", cfg.S3.Enabled),
	)
	return deps, cleanup, nil
}

// emptyAudit is the audit source when no audit log is persisted.
type emptyAudit struct{}

func (emptyAudit) ListBefore(context.Context, time.Time) ([]domain.AuditEntry, error) {
	return nil, nil
}
