package session

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often a Sweeper runs when no interval is given.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper runs Manager.SweepExpired on a fixed interval until its context ends.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger
	onSweep  func(deleted int, err error)
}

// NewSweeper builds a sweeper. onSweep, if non-nil, observes every pass.
func NewSweeper(m *Manager, interval time.Duration, logger *slog.Logger, onSweep func(int, error)) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{manager: m, interval: interval, logger: logger, onSweep: onSweep}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep pass.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	deleted, err := s.manager.SweepExpired(ctx)
	if s.onSweep != nil {
		s.onSweep(deleted, err)
	}
	if err != nil {
		s.logger.Warn("session sweep failed", "error", err, "deleted", deleted)
		return deleted
	}
	if deleted > 0 {
		s.logger.Debug("session sweep", "deleted", deleted)
	}
	return deleted
}
