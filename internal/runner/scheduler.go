package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/osbits/expira/internal/config"
)

// SchedulerOptions configures periodic sweeps.
type SchedulerOptions struct {
	Schedule      string
	Workers       int
	RatePerSecond float64
	Maintenance   []config.MaintenanceSpec
	WindowLength  time.Duration
	Location      *time.Location
	Logger        *slog.Logger
	Now           func() time.Time
}

// SchedulerOptionsFromConfig maps service defaults onto scheduler options.
func SchedulerOptionsFromConfig(cfg *config.Config, logger *slog.Logger) SchedulerOptions {
	d := cfg.Service.Defaults
	return SchedulerOptions{
		Schedule:      d.Schedule,
		Workers:       d.Workers,
		RatePerSecond: d.RatePerSecond,
		Maintenance:   d.MaintenanceWindows,
		WindowLength:  d.MaintenanceLength.Duration,
		Location:      cfg.Location(),
		Logger:        logger,
	}
}

// Scheduler sweeps every product on a cron schedule.
type Scheduler struct {
	runner      *Runner
	schedule    cron.Schedule
	workers     int
	limiter     *rate.Limiter
	maintenance []maintenanceWindow
	location    *time.Location
	logger      *slog.Logger
	now         func() time.Time

	sweeps             atomic.Int64
	skippedInFlight    atomic.Int64
	skippedMaintenance atomic.Int64
	lastSweep          atomic.Int64
}

// SweepSummary reports one sweep.
type SweepSummary struct {
	Checked  int
	Skipped  int
	Failed   int
	Deferred bool
}

// NewScheduler validates the schedule and maintenance windows.
func NewScheduler(r *Runner, opts SchedulerOptions) (*Scheduler, error) {
	if r == nil {
		return nil, errors.New("runner is required")
	}
	expr := opts.Schedule
	if expr == "" {
		expr = config.DefaultSchedule
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	windows, err := parseMaintenance(opts.Maintenance, loc, opts.WindowLength)
	if err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = config.DefaultWorkers
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		runner:      r,
		schedule:    schedule,
		workers:     workers,
		limiter:     rate.NewLimiter(limit, 1),
		maintenance: windows,
		location:    loc,
		logger:      logger,
		now:         now,
	}, nil
}

// Start sweeps immediately and then on every schedule activation until ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "workers", s.workers)
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("sweep failed", "error", err)
		}
		next := s.schedule.Next(s.now().In(s.location))
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Sweep checks every product once with bounded concurrency.
func (s *Scheduler) Sweep(ctx context.Context) (SweepSummary, error) {
	var summary SweepSummary
	if s.inMaintenance(s.now().In(s.location)) {
		s.skippedMaintenance.Add(1)
		s.logger.Info("skipping sweep due to maintenance window")
		summary.Deferred = true
		return summary, nil
	}

	products, err := s.runner.store.ListProducts(ctx)
	if err != nil {
		return summary, fmt.Errorf("list products: %w", err)
	}
	s.sweeps.Add(1)
	s.lastSweep.Store(s.now().Unix())

	var checked, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, p := range products {
		if err := s.limiter.Wait(gctx); err != nil {
			break
		}
		id := p.ID
		g.Go(func() error {
			_, err := s.runner.TryCheck(gctx, id)
			switch {
			case errors.Is(err, ErrInFlight):
				skipped.Add(1)
				s.skippedInFlight.Add(1)
				s.logger.Info("skipping product with check in flight", "product_id", id)
			case err != nil:
				failed.Add(1)
				s.logger.Error("scheduled check failed", "product_id", id, "error", err)
			default:
				checked.Add(1)
			}
			return nil
		})
	}
	waitErr := g.Wait()
	summary.Checked = int(checked.Load())
	summary.Skipped = int(skipped.Load())
	summary.Failed = int(failed.Load())
	if waitErr != nil {
		return summary, waitErr
	}
	return summary, ctx.Err()
}

func (s *Scheduler) inMaintenance(now time.Time) bool {
	for _, mw := range s.maintenance {
		if mw.contains(now) {
			return true
		}
	}
	return false
}

// SchedulerStats is a snapshot of scheduler counters.
type SchedulerStats struct {
	Sweeps             int64
	SkippedInFlight    int64
	SkippedMaintenance int64
	LastSweepUnix      int64
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		Sweeps:             s.sweeps.Load(),
		SkippedInFlight:    s.skippedInFlight.Load(),
		SkippedMaintenance: s.skippedMaintenance.Load(),
		LastSweepUnix:      s.lastSweep.Load(),
	}
}
