package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/keygate/keygate/internal/metrics"
)

// Purger deletes revoked keys older than a cutoff.
type Purger interface {
	PurgeRevokedAPIKeys(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionScheduler periodically purges keys that were revoked more than
// RevokedAfter ago. Revoked keys are already excluded from every read path,
// so purging only reclaims storage.
type RetentionScheduler struct {
	purger       Purger
	schedule     string
	revokedAfter time.Duration
	now          func() time.Time
	metrics      *metrics.Metrics
	logger       *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewRetentionScheduler creates a scheduler. schedule is a standard
// five-field cron expression; an empty schedule disables purging.
func NewRetentionScheduler(purger Purger, schedule string, revokedAfter time.Duration, m *metrics.Metrics, logger *slog.Logger) *RetentionScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionScheduler{
		purger:       purger,
		schedule:     schedule,
		revokedAfter: revokedAfter,
		now:          time.Now,
		metrics:      m,
		logger:       logger.With("component", "retention"),
		cron:         cron.New(),
	}
}

// Start schedules purging until ctx is cancelled.
func (s *RetentionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("retention schedule not configured, revoked keys are kept")
		return nil
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule retention: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("retention scheduler started", "schedule", s.schedule, "revoked_after", s.revokedAfter.String())

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// RunOnce performs a single purge and returns the number of keys removed.
func (s *RetentionScheduler) RunOnce(ctx context.Context) int64 {
	cutoff := s.now().Add(-s.revokedAfter)
	n, err := s.purger.PurgeRevokedAPIKeys(ctx, cutoff)
	if err != nil {
		s.logger.Error("purge revoked keys failed", "error", err)
		return 0
	}
	s.metrics.KeysPurged(n)
	if n > 0 {
		s.logger.Info("purged revoked keys", "count", n, "cutoff", cutoff)
	}
	return n
}

// Stop halts the scheduler and waits for a running purge to finish.
func (s *RetentionScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("retention scheduler stopped")
	}
}

// Running reports whether the scheduler is active.
func (s *RetentionScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
