package app

import (
	"context"
	"sort"
	"time"

	"alertdesk/internal/clock"
	"alertdesk/internal/domain"
	"alertdesk/internal/store"
)

// DashboardSummary aggregates current alert counts.
// Params: total plus per-status/severity/source breakdowns.
// Returns: snapshot for the dashboard header.
type DashboardSummary struct {
	Total      int                       `json:"total"`
	ByStatus   map[domain.Status]int     `json:"by_status"`
	BySeverity map[domain.Severity]int   `json:"by_severity"`
	BySource   map[domain.SourceType]int `json:"by_source"`
}

// EntityCount is one aggregated entity row.
// Params: entity key and its alert count.
// Returns: top-offender list element.
type EntityCount struct {
	EntityKey string `json:"entity_key"`
	Count     int    `json:"count"`
}

// TrendPoint is one per-day alert count.
// Params: day (UTC midnight) and alert count.
// Returns: trend chart element.
type TrendPoint struct {
	Day   time.Time `json:"day"`
	Count int       `json:"count"`
}

// DashboardManager computes read-side aggregations.
// Params: alert store and clock.
// Returns: dashboard queries for the HTTP surface.
type DashboardManager struct {
	alerts store.AlertStore
	clock  clock.Clock
}

// NewDashboardManager creates the dashboard manager.
// Params: alert store and clock.
// Returns: initialized manager.
func NewDashboardManager(alerts store.AlertStore, clk clock.Clock) *DashboardManager {
	return &DashboardManager{alerts: alerts, clock: clk}
}

// Summary counts all alerts by status, severity, and source type.
// Params: context bounding the scan.
// Returns: aggregated snapshot.
func (m *DashboardManager) Summary(ctx context.Context) (DashboardSummary, error) {
	alerts, _, err := m.alerts.ListAlerts(ctx, store.AlertFilter{}, store.Page{})
	if err != nil {
		return DashboardSummary{}, err
	}

	summary := DashboardSummary{
		Total:      len(alerts),
		ByStatus:   make(map[domain.Status]int),
		BySeverity: make(map[domain.Severity]int),
		BySource:   make(map[domain.SourceType]int),
	}
	for _, alert := range alerts {
		summary.ByStatus[alert.Status]++
		summary.BySeverity[alert.Severity]++
		summary.BySource[alert.SourceType]++
	}
	return summary, nil
}

// TopEntities lists entities with the most non-terminal alerts.
// Params: result limit (defaults to 10 when <=0).
// Returns: entity counts in descending order with key tie-break.
func (m *DashboardManager) TopEntities(ctx context.Context, limit int) ([]EntityCount, error) {
	if limit <= 0 {
		limit = 10
	}
	alerts, err := m.alerts.ListByStatus(ctx, domain.StatusOpen, domain.StatusEscalated)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, alert := range alerts {
		counts[alert.EntityKey]++
	}

	out := make([]EntityCount, 0, len(counts))
	for key, count := range counts {
		out = append(out, EntityCount{EntityKey: key, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].EntityKey < out[j].EntityKey
		}
		return out[i].Count > out[j].Count
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Recent lists the newest alerts.
// Params: result limit (defaults to 20 when <=0).
// Returns: alerts in timestamp-descending order.
func (m *DashboardManager) Recent(ctx context.Context, limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = 20
	}
	alerts, _, err := m.alerts.ListAlerts(ctx, store.AlertFilter{}, store.Page{Limit: limit})
	return alerts, err
}

// Trend counts alerts per UTC day over a trailing window.
// Params: day count (defaults to 7 when <=0).
// Returns: one point per day, oldest first, zero-filled.
func (m *DashboardManager) Trend(ctx context.Context, days int) ([]TrendPoint, error) {
	if days <= 0 {
		days = 7
	}
	now := m.clock.Now().UTC()
	start := now.Truncate(24 * time.Hour).AddDate(0, 0, -(days - 1))

	alerts, _, err := m.alerts.ListAlerts(ctx, store.AlertFilter{From: start}, store.Page{})
	if err != nil {
		return nil, err
	}

	points := make([]TrendPoint, days)
	for i := range points {
		points[i].Day = start.AddDate(0, 0, i)
	}
	for _, alert := range alerts {
		idx := int(alert.Timestamp.UTC().Truncate(24*time.Hour).Sub(start) / (24 * time.Hour))
		if idx >= 0 && idx < days {
			points[idx].Count++
		}
	}
	return points, nil
}
