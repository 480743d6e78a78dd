// Package app composes the stores, engine, and schedulers into the
// running service and exposes the operations the transports call.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"alertdesk/internal/clock"
	"alertdesk/internal/domain"
	"alertdesk/internal/engine"
	"alertdesk/internal/metrics"
	"alertdesk/internal/store"
)

// ErrInvalidInput indicates a malformed request rejected before persistence.
var ErrInvalidInput = errors.New("invalid input")

// CreateAlertInput carries one inbound alert report.
// Params: raw source/severity strings plus entity, metadata, and time.
// Returns: validated and normalized inside CreateAlert.
type CreateAlertInput struct {
	SourceType string          `json:"source_type"`
	Severity   string          `json:"severity,omitempty"`
	EntityKey  string          `json:"entity_key"`
	Metadata   domain.Metadata `json:"metadata,omitempty"`
	Timestamp  *time.Time      `json:"timestamp,omitempty"`
}

// AlertManager implements alert lifecycle operations.
// Params: alert store, engine, clock, and logger.
// Returns: operations shared by HTTP and NATS ingest paths.
type AlertManager struct {
	alerts store.AlertStore
	engine *engine.Engine
	clock  clock.Clock
	log    *slog.Logger
}

// NewAlertManager creates the alert manager.
// Params: alert store, engine, clock, and logger.
// Returns: initialized manager.
func NewAlertManager(alerts store.AlertStore, eng *engine.Engine, clk clock.Clock, log *slog.Logger) *AlertManager {
	return &AlertManager{
		alerts: alerts,
		engine: eng,
		clock:  clk,
		log:    log.With("component", "alerts"),
	}
}

// CreateAlert persists one reported alert and runs escalation rules.
// Params: inbound report fields.
// Returns: stored alert (already escalated when a rule fired).
func (m *AlertManager) CreateAlert(ctx context.Context, input CreateAlertInput) (domain.Alert, error) {
	source, err := domain.ParseSourceType(input.SourceType)
	if err != nil {
		return domain.Alert{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	severity := source.DefaultSeverity()
	if input.Severity != "" {
		severity, err = domain.ParseSeverity(input.Severity)
		if err != nil {
			return domain.Alert{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	if input.Metadata != nil {
		if err := input.Metadata.Validate(); err != nil {
			return domain.Alert{}, fmt.Errorf("%w: metadata: %v", ErrInvalidInput, err)
		}
	}

	now := m.clock.Now()
	timestamp := now
	if input.Timestamp != nil && !input.Timestamp.IsZero() {
		timestamp = input.Timestamp.UTC()
	}

	alertID, err := m.nextAlertID(ctx, source, now)
	if err != nil {
		return domain.Alert{}, err
	}

	alert := domain.Alert{
		AlertID:    alertID,
		SourceType: source,
		Severity:   severity,
		Status:     domain.StatusOpen,
		EntityKey:  input.EntityKey,
		Metadata:   input.Metadata,
		Timestamp:  timestamp,
		StateHistory: []domain.StateTransition{{
			To:          domain.StatusOpen,
			At:          now,
			Reason:      "alert created",
			TriggeredBy: "system",
		}},
		CreatedAt: now,
	}
	if err := alert.Validate(); err != nil {
		return domain.Alert{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := m.alerts.CreateAlert(ctx, alert); err != nil {
		return domain.Alert{}, fmt.Errorf("create alert %s: %w", alertID, err)
	}

	metrics.AlertsCreatedTotal.WithLabelValues(string(source), string(severity)).Inc()
	m.log.Info("alert created",
		"alert_id", alertID, "source_type", source,
		"entity_key", input.EntityKey, "severity", severity)

	// Escalation failures must not fail the creation that already happened.
	transition, err := m.engine.EvaluateEscalation(ctx, alert)
	if err != nil {
		m.log.Warn("escalation evaluation failed", "alert_id", alertID, "error", err)
		return alert, nil
	}
	if transition == nil {
		return alert, nil
	}
	metrics.AlertsEscalatedTotal.WithLabelValues(string(source), transition.RuleTriggered).Inc()

	updated, err := m.alerts.GetAlert(ctx, alertID)
	if err != nil {
		m.log.Warn("reload after escalation failed", "alert_id", alertID, "error", err)
		return alert, nil
	}
	return updated, nil
}

// nextAlertID builds the next sequential alert ID for a source type.
// Params: source type and current time (year scope).
// Returns: ID formatted as PREFIX-YEAR-NNNNN.
func (m *AlertManager) nextAlertID(ctx context.Context, source domain.SourceType, now time.Time) (string, error) {
	year := now.UTC().Year()
	counter := fmt.Sprintf("alert_%s_%d", source.IDPrefix(), year)
	seq, err := m.alerts.NextSequence(ctx, counter)
	if err != nil {
		return "", fmt.Errorf("next sequence %s: %w", counter, err)
	}
	return fmt.Sprintf("%s-%d-%05d", source.IDPrefix(), year, seq), nil
}

// GetAlert reads one alert.
// Params: alert ID.
// Returns: alert or store.ErrNotFound.
func (m *AlertManager) GetAlert(ctx context.Context, alertID string) (domain.Alert, error) {
	return m.alerts.GetAlert(ctx, alertID)
}

// ListAlerts lists alerts by filter with pagination.
// Params: filter and page window.
// Returns: page slice and total match count.
func (m *AlertManager) ListAlerts(ctx context.Context, filter store.AlertFilter, page store.Page) ([]domain.Alert, int, error) {
	return m.alerts.ListAlerts(ctx, filter, page)
}

// Resolve applies manual resolution through the engine.
// Params: alert ID, operator notes, and acting user.
// Returns: updated alert or engine/store error.
func (m *AlertManager) Resolve(ctx context.Context, alertID, notes, actor string) (domain.Alert, error) {
	alert, err := m.engine.Resolve(ctx, alertID, notes, actor)
	if err != nil {
		return domain.Alert{}, err
	}
	metrics.AlertsResolvedTotal.Inc()
	return alert, nil
}

// TransitionStatus applies one manual status change.
// Params: alert ID, target status, reason text, and acting user.
// Returns: updated alert; forbidden edges map to ErrInvalidTransition.
func (m *AlertManager) TransitionStatus(ctx context.Context, alertID string, to domain.Status, reason, actor string) (domain.Alert, error) {
	alert, err := m.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return domain.Alert{}, err
	}
	updated, err := m.alerts.ApplyTransition(ctx, alertID, domain.StateTransition{
		From:        alert.Status,
		To:          to,
		At:          m.clock.Now(),
		Reason:      reason,
		TriggeredBy: actor,
	})
	if err != nil {
		return domain.Alert{}, err
	}
	m.log.Info("alert status changed",
		"alert_id", alertID, "from", alert.Status, "to", to, "by", actor)
	return updated, nil
}
