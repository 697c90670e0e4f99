package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/quantumledger/internal/domain"
)

// archiveLockKey names the lock that keeps archive passes to one replica.
const archiveLockKey = "archive"

// ArchiveResult counts the records one pass exported.
type ArchiveResult struct {
	Cutoff    time.Time
	Audit     int64
	Proposals int64
	Skipped   bool // another replica held the lock
}

// ArchiveService periodically exports ledger history older than the
// retention window to cold storage.
type ArchiveService struct {
	archiver  domain.Archiver
	locks     domain.LockManager
	retention time.Duration
	lockTTL   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewArchiveService creates an ArchiveService. locks may be nil for a
// single-replica deployment.
func NewArchiveService(
	archiver domain.Archiver,
	locks domain.LockManager,
	retention time.Duration,
	lockTTL time.Duration,
	logger *slog.Logger,
) *ArchiveService {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &ArchiveService{
		archiver:  archiver,
		locks:     locks,
		retention: retention,
		lockTTL:   lockTTL,
		logger:    logger.With(slog.String("component", "archive_service")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce exports audit entries and proposals created before now minus the
// retention window. A pass that finds the lock held is skipped, not failed.
func (s *ArchiveService) RunOnce(ctx context.Context) (ArchiveResult, error) {
	res := ArchiveResult{Cutoff: s.now().Add(-s.retention)}

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, archiveLockKey, s.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.InfoContext(ctx, "archive_service: pass skipped, lock held elsewhere")
			res.Skipped = true
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("archive_service: acquire lock: %w", err)
		}
		defer unlock()
	}

	var err error
	if res.Audit, err = s.archiver.ArchiveAudit(ctx, res.Cutoff); err != nil {
		return res, fmt.Errorf("archive_service: audit: %w", err)
	}
	if res.Proposals, err = s.archiver.ArchiveProposals(ctx, res.Cutoff); err != nil {
		return res, fmt.Errorf("archive_service: proposals: %w", err)
	}

	s.logger.InfoContext(ctx, "archive_service: pass complete",
		slog.Time("cutoff", res.Cutoff),
		slog.Int64("audit", res.Audit),
		slog.Int64("proposals", res.Proposals),
	)
	return res, nil
}

// Run performs a pass every interval until ctx is cancelled. Failed passes
// are logged and retried on the next tick.
func (s *ArchiveService) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "archive_service: pass failed", slog.String("error", err.Error()))
			}
		}
	}
}
