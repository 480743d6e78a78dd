// Package sweep drives periodic auto-close passes and records each run.
package sweep

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"alertdesk/internal/clock"
	"alertdesk/internal/domain"
	"alertdesk/internal/engine"
	"alertdesk/internal/metrics"
	"alertdesk/internal/store"
)

// DefaultInterval is the sweep cadence when config omits one.
const DefaultInterval = 5 * time.Minute

// ErrAlreadyRunning indicates an overlapping sweep tick was skipped.
var ErrAlreadyRunning = errors.New("sweep already running")

// Runner serializes sweep passes and persists run records.
// Params: engine, sweep record store, clock, and logger.
// Returns: single-flight tick executor for the service loop.
type Runner struct {
	engine *engine.Engine
	sweeps store.SweepStore
	clock  clock.Clock
	log    *slog.Logger

	running atomic.Bool
}

// NewRunner creates the sweep runner.
// Params: engine, sweep record store, clock, and logger.
// Returns: initialized runner.
func NewRunner(eng *engine.Engine, sweeps store.SweepStore, clk clock.Clock, log *slog.Logger) *Runner {
	return &Runner{
		engine: eng,
		sweeps: sweeps,
		clock:  clk,
		log:    log.With("component", "sweep"),
	}
}

// RunOnce executes one sweep pass unless one is already in flight.
// Params: context bounding the pass.
// Returns: finished run record, or ErrAlreadyRunning for overlap.
func (r *Runner) RunOnce(ctx context.Context) (domain.SweepRecord, error) {
	if !r.running.CompareAndSwap(false, true) {
		metrics.SweepRunsTotal.WithLabelValues("skipped").Inc()
		r.log.Warn("sweep tick skipped, previous run still in flight")
		return domain.SweepRecord{}, ErrAlreadyRunning
	}
	defer r.running.Store(false)

	record := domain.SweepRecord{
		RunID:     uuid.NewString(),
		StartedAt: r.clock.Now(),
		Status:    "completed",
	}

	stats, err := r.engine.SweepAutoClose(ctx)
	record.FinishedAt = r.clock.Now()
	record.Stats = stats
	if err != nil {
		record.Status = "failed"
	}

	metrics.SweepRunsTotal.WithLabelValues(record.Status).Inc()
	metrics.SweepDuration.Observe(record.FinishedAt.Sub(record.StartedAt).Seconds())
	metrics.SweepAlertsClosed.Add(float64(stats.Closed))
	metrics.SweepAlertErrors.Add(float64(stats.Errors))

	if recordErr := r.sweeps.RecordSweep(ctx, record); recordErr != nil {
		// Run record is bookkeeping; the pass itself already happened.
		r.log.Warn("sweep record persist failed", "run_id", record.RunID, "error", recordErr)
	}

	if err != nil {
		r.log.Error("sweep run failed", "run_id", record.RunID, "error", err)
		return record, err
	}
	r.log.Info("sweep run finished",
		"run_id", record.RunID,
		"checked", stats.Checked, "closed", stats.Closed, "errors", stats.Errors)
	return record, nil
}
