// Package scheduler runs periodic jobs on cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"cardcrm/internal/common/logging"
)

// Job is one unit of periodic work. The context is cancelled when the
// scheduler stops.
type Job func(ctx context.Context) error

// Scheduler wraps a cron runner. Panicking jobs are recovered and logged;
// runs of the same job never overlap.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler whose jobs log through logger.
func New(logger *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger))

	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job under name on the given cron spec ("@every 10s", "*/5 * * * *").
func (s *Scheduler) Add(name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		if err := job(s.ctx); err != nil {
			logging.ErrorContext(s.ctx, "scheduled job failed", "job", name, "error", err)
			return
		}
		logging.DebugContext(s.ctx, "scheduled job finished", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("scheduling %s with %q: %w", name, spec, err)
	}
	return nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
