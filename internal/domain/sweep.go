package domain

import "time"

// SweepStats aggregates one auto-close pass outcome.
// Params: checked/closed/error counters.
// Returns: per-run statistics regardless of partial failure.
type SweepStats struct {
	Checked int `json:"checked"`
	Closed  int `json:"closed"`
	Errors  int `json:"errors"`
}

// SweepRecord is one persisted sweep run entry.
// Params: run identity, timing, and stats.
// Returns: job bookkeeping document.
type SweepRecord struct {
	RunID      string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Stats      SweepStats `json:"stats"`
	Status     string     `json:"status"`
}
