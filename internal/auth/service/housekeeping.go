package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/metrics"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
)

// Sweeper drops stale rate-limit records. *ratelimit.Limiter satisfies it.
type Sweeper interface {
	Sweep() int
}

// HousekeepingService periodically cleans up expired database records
// and stale rate-limit windows to prevent unbounded growth.
type HousekeepingService struct {
	Store    store.Store
	Limiters []Sweeper
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Interval time.Duration

	// Retention keeps expired rows around this long so a late submission
	// of a dead token is still reported as expired or used.
	Retention time.Duration

	Now func() time.Time

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given interval.
// If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(store store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Store:     store,
		Logger:    logger,
		Interval:  interval,
		Retention: 24 * time.Hour,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the background worker that periodically runs cleanup.
// This is non-blocking and should be called after the database is ready.
// Call Stop() to gracefully shutdown the worker.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop gracefully shuts down the background worker.
// Blocks until the worker has finished any in-progress cleanup.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Run cleanup immediately on startup
	s.Cleanup(ctx)

	for {
		select {
		case <-ticker.C:
			s.Cleanup(ctx)
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup deletes expired records once. Each deletion is independent;
// a failure in one does not stop the others.
func (s *HousekeepingService) Cleanup(ctx context.Context) {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	cutoff := now.Add(-s.Retention)

	s.Logger.Debug("starting housekeeping cleanup")

	jobs := []struct {
		kind string
		run  func() (int64, error)
	}{
		{"recovery_tokens", func() (int64, error) {
			return s.Store.RecoveryTokens().DeleteExpiredRecoveryTokens(ctx, cutoff)
		}},
		{"sessions", func() (int64, error) {
			return s.Store.Sessions().DeleteExpiredSessions(ctx, cutoff)
		}},
		{"invitations", func() (int64, error) {
			return s.Store.Invitations().DeleteExpiredInvitations(ctx, cutoff)
		}},
	}

	var total int64
	for _, job := range jobs {
		n, err := job.run()
		if err != nil {
			s.Logger.Error("housekeeping job failed", "kind", job.kind, "error", err)
			continue
		}
		s.Metrics.AddHousekeepingDeleted(job.kind, n)
		total += n
	}

	swept := 0
	for _, l := range s.Limiters {
		swept += l.Sweep()
	}

	s.Logger.Info("housekeeping cleanup completed",
		"rows_deleted", total,
		"ratelimit_records_swept", swept,
	)
}
