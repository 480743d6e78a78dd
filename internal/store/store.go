package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"alertdesk/internal/domain"
)

var (
	// ErrNotFound indicates absent alert/rule document.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates duplicate key or revision mismatch for CAS update.
	ErrConflict = errors.New("revision conflict")
	// ErrUnavailable indicates transient backend failure.
	ErrUnavailable = errors.New("store unavailable")
)

// AlertFilter narrows alert listing queries.
// Params: optional equality filters and a timestamp range.
// Returns: zero value matches everything.
type AlertFilter struct {
	Status     domain.Status
	SourceType domain.SourceType
	Severity   domain.Severity
	EntityKey  string
	From       time.Time
	To         time.Time
}

// Page bounds one listing result window.
// Params: skip offset and page size.
// Returns: pagination slice over timestamp-descending order.
type Page struct {
	Skip  int
	Limit int
}

// AlertStore provides alert document persistence.
// Params: CRUD, window counting, transition application, and ID sequences.
// Returns: backend persistence behavior.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert domain.Alert) error
	GetAlert(ctx context.Context, alertID string) (domain.Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter, page Page) ([]domain.Alert, int, error)
	// CountByEntitySince counts alerts sharing entity key and source type
	// with timestamp >= since, regardless of current status: closed and
	// resolved alerts inside the window still count once. Only the lower
	// bound is applied; an alert reported with a future timestamp counts
	// immediately rather than when its timestamp is reached.
	CountByEntitySince(ctx context.Context, entityKey string, source domain.SourceType, since time.Time) (int, error)
	ListByStatus(ctx context.Context, statuses ...domain.Status) ([]domain.Alert, error)
	// ApplyTransition atomically validates and applies one state change:
	// either the new status, history entry, and derived fields persist
	// together, or nothing does.
	ApplyTransition(ctx context.Context, alertID string, transition domain.StateTransition) (domain.Alert, error)
	NextSequence(ctx context.Context, counter string) (uint64, error)
}

// RuleStore provides rule document persistence.
// Params: CRUD and active-rule lookup ordered by ascending priority.
// Returns: backend persistence behavior.
type RuleStore interface {
	CreateRule(ctx context.Context, rule domain.Rule) error
	GetRule(ctx context.Context, ruleID string) (domain.Rule, error)
	ListRules(ctx context.Context) ([]domain.Rule, error)
	UpdateRule(ctx context.Context, rule domain.Rule) (domain.Rule, error)
	DeleteRule(ctx context.Context, ruleID string) error
	ActiveForSource(ctx context.Context, source domain.SourceType) ([]domain.Rule, error)
}

// SweepStore records sweep run bookkeeping.
// Params: append and bounded listing of run records.
// Returns: backend persistence behavior.
type SweepStore interface {
	RecordSweep(ctx context.Context, record domain.SweepRecord) error
	ListSweeps(ctx context.Context, limit int) ([]domain.SweepRecord, error)
}

// Store composes all persistence surfaces behind one backend handle.
// Params: alert/rule/sweep stores plus lifecycle close.
// Returns: backend selected by service mode.
type Store interface {
	AlertStore
	RuleStore
	SweepStore
	Close() error
}

// MatchAlert reports whether one alert passes the filter.
// Params: alert document and filter.
// Returns: true when every set field matches.
func (f AlertFilter) MatchAlert(alert domain.Alert) bool {
	if f.Status != "" && alert.Status != f.Status {
		return false
	}
	if f.SourceType != "" && alert.SourceType != f.SourceType {
		return false
	}
	if f.Severity != "" && alert.Severity != f.Severity {
		return false
	}
	if f.EntityKey != "" && alert.EntityKey != f.EntityKey {
		return false
	}
	if !f.From.IsZero() && alert.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && alert.Timestamp.After(f.To) {
		return false
	}
	return true
}

// sortAlertsDescending orders alerts newest first with ID tie-break.
// Params: mutable alert slice.
// Returns: slice sorted in place.
func sortAlertsDescending(alerts []domain.Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].Timestamp.Equal(alerts[j].Timestamp) {
			return alerts[i].AlertID > alerts[j].AlertID
		}
		return alerts[i].Timestamp.After(alerts[j].Timestamp)
	})
}

// sortAlertsAscending orders alerts oldest first with ID tie-break.
// Params: mutable alert slice.
// Returns: slice sorted in place.
func sortAlertsAscending(alerts []domain.Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].Timestamp.Equal(alerts[j].Timestamp) {
			return alerts[i].AlertID < alerts[j].AlertID
		}
		return alerts[i].Timestamp.Before(alerts[j].Timestamp)
	})
}

// sortSweepsDescending orders sweep records newest first.
// Params: mutable record slice.
// Returns: slice sorted in place.
func sortSweepsDescending(records []domain.SweepRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
}
