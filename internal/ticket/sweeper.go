package ticket

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// SweepMetrics receives the outcome of scheduled cleanup runs.
type SweepMetrics interface {
	ObserveCleanup(deleted int64)
}

// Sweeper runs Cleanup on a cron schedule with default-key privileges, so
// expired rows from every tenant are removed even when no tenant calls the
// cleanup endpoint. Advisory: a failed sweep is logged and retried on the
// next tick.
type Sweeper struct {
	svc      *Service
	schedule string
	metrics  SweepMetrics
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewSweeper creates a sweeper with a standard cron schedule expression.
func NewSweeper(svc *Service, schedule string, metrics SweepMetrics) *Sweeper {
	return &Sweeper{
		svc:      svc,
		schedule: schedule,
		metrics:  metrics,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "ticket.sweeper"),
	}
}

// Start begins scheduled sweeping. An empty schedule disables the sweeper.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("cleanup schedule not configured, skipping sweeper")
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.sweep(ctx)
	}); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("cleanup sweeper started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

func (s *Sweeper) sweep(ctx context.Context) {
	deleted, err := s.svc.Cleanup(ctx, 0, true)
	if err != nil {
		s.logger.Error("scheduled cleanup failed", "error", err)
		return
	}

	if s.metrics != nil {
		s.metrics.ObserveCleanup(deleted)
	}
	if deleted > 0 {
		s.logger.Info("scheduled cleanup completed", "deleted", deleted)
	}
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("cleanup sweeper stopped")
	}
}
