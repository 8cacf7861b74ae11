// Package scheduler runs the periodic housekeeping of a serving transformd:
// expiring old history entries.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Config controls the housekeeping loop.
type Config struct {
	// Interval between passes.
	Interval time.Duration
	// Retention is the age after which history entries are pruned. Zero
	// disables pruning.
	Retention time.Duration
	// Jitter delays the first pass by a random amount up to this value.
	Jitter time.Duration
}

// Scheduler runs housekeeping on a ticker until stopped.
type Scheduler struct {
	cfg    Config
	pruner Pruner
	logger *slog.Logger
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// New creates a Scheduler. logger may be nil.
func New(cfg Config, p Pruner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:    cfg,
		pruner: p,
		logger: logger.With("component", "scheduler"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the tick loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cfg.Interval <= 0 || s.cfg.Retention <= 0 || s.pruner == nil {
		s.logger.Info("history pruning disabled")
		return
	}
	s.logger.Info("starting scheduler", "interval", s.cfg.Interval.String(), "retention", s.cfg.Retention.String())
	s.wg.Add(1)
	go s.tickLoop(ctx)
}

// Stop stops the loop and waits for an in-flight pass. It is safe to call
// more than once.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	if delay := calculateJitter(s.cfg.Jitter); delay > 0 {
		select {
		case <-time.After(delay):
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			s.logger.Debug("scheduler context cancelled, stopping tick loop")
			return
		}
	}
}

// tick performs a single housekeeping pass.
func (s *Scheduler) tick(ctx context.Context) {
	n, err := s.pruner.Prune(ctx, s.cfg.Retention)
	if err != nil {
		s.logger.Error("failed to prune history", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("pruned history", "deleted", n, "retention", s.cfg.Retention.String())
	}
}

func calculateJitter(jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(jitter) + 1))
}
