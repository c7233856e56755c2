package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner deletes ledger entries older than the retention period.
type Pruner struct {
	store         Store
	retentionDays int
	now           func() time.Time
	logger        *slog.Logger
}

// NewPruner creates a pruner. retentionDays <= 0 keeps entries forever.
func NewPruner(store Store, retentionDays int, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		store:         store,
		retentionDays: retentionDays,
		now:           time.Now,
		logger:        logger.With("component", "ledger.retention"),
	}
}

// Prune deletes entries completed more than retentionDays ago.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	if p.retentionDays <= 0 {
		return 0, nil
	}

	cutoff := p.now().Add(-time.Duration(p.retentionDays) * 24 * time.Hour)
	deleted, err := p.store.Prune(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune ledger before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	if deleted > 0 {
		p.logger.Info("pruned ledger entries",
			"deleted_count", deleted,
			"retention_days", p.retentionDays,
		)
	}
	return deleted, nil
}

// Scheduler runs a Pruner on a cron schedule.
type Scheduler struct {
	pruner   *Pruner
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler for a standard 5-field cron expression,
// e.g. "0 3 * * *" for daily at 3 AM.
func NewScheduler(pruner *Pruner, schedule string) *Scheduler {
	return &Scheduler{
		pruner:   pruner,
		schedule: schedule,
		cron:     cron.New(),
		logger:   pruner.logger,
	}
}

// Start registers the pruning job and starts the cron runner. An empty
// schedule or a pruner without retention does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" || s.pruner.retentionDays <= 0 {
		s.logger.Info("ledger retention disabled, skipping scheduler")
		return nil
	}
	if s.running {
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.pruner.Prune(ctx); err != nil {
			s.logger.Error("scheduled ledger pruning failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("ledger retention scheduler started",
		"schedule", s.schedule,
		"retention_days", s.pruner.retentionDays,
	)
	return nil
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop stops the scheduler and waits for a running prune to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("ledger retention scheduler stopped")
}

// IsRunning reports whether the scheduler is started.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled prune, or nil when not scheduled.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
