// Package reaper fails executions that were left pending or running, for
// example by a process that died mid-dispatch.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dukex/inbox/pkg/metrics"
	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/persistence"
	"github.com/dukex/inbox/pkg/tracker"
)

const (
	DefaultInterval   = time.Minute
	DefaultStaleAfter = 10 * time.Minute

	// RunningMargin is added to the longest action timeout before a running
	// execution counts as abandoned.
	RunningMargin = 5 * time.Minute
)

// ErrAbandoned is recorded on reaped executions. It reads as a deadline
// error so the execution gets the timeout prefix.
var ErrAbandoned error = abandonedError{}

type abandonedError struct{}

func (abandonedError) Error() string { return "abandoned execution" }

func (abandonedError) Is(target error) bool { return target == context.DeadlineExceeded }

type Reaper struct {
	executions persistence.ExecutionRepository
	tracker    *tracker.Tracker
	metrics    *metrics.Metrics
	logger     *slog.Logger
	staleAfter time.Duration
	// runningGrace is the minimum age of a running execution before it is
	// reaped. It must outlast the longest action timeout.
	runningGrace time.Duration
	now          func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

type Option func(*Reaper)

func WithStaleAfter(d time.Duration) Option {
	return func(r *Reaper) {
		if d > 0 {
			r.staleAfter = d
		}
	}
}

// WithRunningGrace sets how long a running execution may run before it is
// reaped. Pending executions still use the stale threshold.
func WithRunningGrace(d time.Duration) Option {
	return func(r *Reaper) {
		if d > 0 {
			r.runningGrace = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reaper) {
		r.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reaper) {
		r.now = now
	}
}

func New(executions persistence.ExecutionRepository, tracker *tracker.Tracker, logger *slog.Logger, opts ...Option) *Reaper {
	r := &Reaper{
		executions:   executions,
		tracker:      tracker,
		logger:       logger.With("module", "reaper"),
		staleAfter:   DefaultStaleAfter,
		runningGrace: models.MaxAgentTimeout + RunningMargin,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Reap fails every pending execution older than the stale threshold and
// every running one older than the running grace, and returns how many were
// failed. Executions that finish concurrently are skipped.
func (r *Reaper) Reap(ctx context.Context) (int, error) {
	now := r.now()

	stale, err := r.executions.Stale(ctx, now.Add(-r.staleAfter))
	if err != nil {
		return 0, fmt.Errorf("failed to list stale executions: %w", err)
	}

	runningCutoff := now.Add(-max(r.staleAfter, r.runningGrace))
	reaped := 0

	for _, exec := range stale {
		if err := ctx.Err(); err != nil {
			return reaped, err
		}

		if exec.Status == models.ExecutionStatusRunning && exec.StartedAt != nil && !exec.StartedAt.Before(runningCutoff) {
			continue
		}

		err := r.tracker.Fail(ctx, exec, ErrAbandoned)

		switch {
		case errors.Is(err, models.ErrInvalidTransition):
			r.logger.DebugContext(ctx, "Execution finished before it was reaped", "execution_id", exec.ID)
		case err != nil:
			r.logger.ErrorContext(ctx, "Failed to reap execution", "execution_id", exec.ID, "error", err)
		default:
			reaped++

			r.logger.WarnContext(ctx, "Reaped abandoned execution",
				"execution_id", exec.ID,
				"trigger_id", exec.TriggerID,
				"activity_id", exec.ActivityID)
		}
	}

	r.metrics.RecordReaped(reaped)

	return reaped, nil
}

// Start runs Reap every interval until ctx is done or Stop is called.
func (r *Reaper) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if _, err := r.Reap(ctx); err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "Reaper run failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule reaper: %w", err)
	}

	r.cron = c
	c.Start()

	r.logger.Info("Reaper started", "interval", interval, "stale_after", r.staleAfter, "running_grace", r.runningGrace)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()

	return nil
}

// Stop halts the schedule and waits for a running Reap to return.
func (r *Reaper) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c == nil {
		return
	}

	<-c.Stop().Done()

	r.logger.Info("Reaper stopped")
}
