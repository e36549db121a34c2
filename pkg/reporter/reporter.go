// Package reporter periodically logs tracker statistics.
package reporter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

const DefaultSchedule = "@every 5m"

// Stats is the read side of the tracker.
type Stats interface {
	AbortCount() int64
	TrackedCount() int
	Active() bool
}

type Reporter struct {
	stats    Stats
	schedule string
	logger   *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewReporter validates schedule, a standard cron expression or descriptor.
func NewReporter(stats Stats, schedule string, logger *slog.Logger) (*Reporter, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid stats schedule '%s': %w", schedule, err)
	}

	return &Reporter{
		stats:    stats,
		schedule: schedule,
		logger:   logger.With("module", "stats_reporter"),
	}, nil
}

func (r *Reporter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return nil
	}

	r.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := r.cron.AddFunc(r.schedule, func() {
		r.Report(ctx)
	})
	if err != nil {
		r.cron = nil

		return fmt.Errorf("failed to schedule stats report: %w", err)
	}

	r.cron.Start()
	r.logger.InfoContext(ctx, "Stats reporter started", "schedule", r.schedule)

	return nil
}

// Report logs the current statistics once.
func (r *Reporter) Report(ctx context.Context) {
	r.logger.InfoContext(ctx, "Hierarchy killer stats",
		"aborted", r.stats.AbortCount(),
		"tracked", r.stats.TrackedCount(),
		"active", r.stats.Active(),
	)
}

// Stop halts the schedule and waits for a running report, bounded by ctx.
func (r *Reporter) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}

	r.logger.InfoContext(ctx, "Stats reporter stopped")
}
