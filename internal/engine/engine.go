// Package engine holds the rule evaluation core: escalation checks on
// ingestion, the auto-close sweep pass, and manual resolution. All
// decisions are pure functions of the alert, the active rules, and the
// injected clock; persistence happens through the store's atomic
// transition primitive.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"alertdesk/internal/clock"
	"alertdesk/internal/domain"
	"alertdesk/internal/store"
)

var (
	// ErrInvalidState indicates a resolve attempt on a terminal alert.
	ErrInvalidState = errors.New("invalid alert state")
	// ErrConditionInvalid indicates a rule clause that could not be evaluated.
	ErrConditionInvalid = errors.New("condition evaluation failed")
)

// RuleSource provides active rules for one source type.
// Params: ActiveForSource ordered by ascending priority.
// Returns: rule store or TTL cache in front of it.
type RuleSource interface {
	ActiveForSource(ctx context.Context, source domain.SourceType) ([]domain.Rule, error)
}

// Engine evaluates rules against alert documents.
// Params: alert store, rule source, clock, and logger.
// Returns: evaluation core shared by ingest, sweep, and API paths.
type Engine struct {
	alerts store.AlertStore
	rules  RuleSource
	clock  clock.Clock
	log    *slog.Logger
}

// New creates the rule engine.
// Params: alert store, rule source, clock, and logger.
// Returns: initialized engine.
func New(alerts store.AlertStore, rules RuleSource, clk clock.Clock, log *slog.Logger) *Engine {
	return &Engine{
		alerts: alerts,
		rules:  rules,
		clock:  clk,
		log:    log.With("component", "engine"),
	}
}

// EvaluateEscalation checks escalation rules for one stored alert.
// Params: alert document already persisted (its own occurrence counts).
// Returns: applied transition when escalated, nil when no rule fired.
func (e *Engine) EvaluateEscalation(ctx context.Context, alert domain.Alert) (*domain.StateTransition, error) {
	// Only OPEN alerts escalate, so re-running evaluation is a no-op.
	if alert.Status != domain.StatusOpen {
		return nil, nil
	}

	rules, err := e.rules.ActiveForSource(ctx, alert.SourceType)
	if err != nil {
		return nil, fmt.Errorf("load rules for %s: %w", alert.SourceType, err)
	}

	now := e.clock.Now()
	for _, rule := range rules {
		if !rule.Conditions.HasEscalation() {
			continue
		}
		count, err := e.alerts.CountByEntitySince(ctx, alert.EntityKey, alert.SourceType, now.Add(-rule.Conditions.Window()))
		if err != nil {
			// One broken clause must not block lower-priority rules.
			e.log.Warn("skipping escalation rule",
				"rule_id", rule.RuleID, "alert_id", alert.AlertID,
				"error", fmt.Errorf("%w: %v", ErrConditionInvalid, err))
			continue
		}
		if count < rule.Conditions.EscalateIfCount {
			continue
		}

		windowMins := int(rule.Conditions.Window().Minutes())
		transition := domain.StateTransition{
			From:          domain.StatusOpen,
			To:            domain.StatusEscalated,
			At:            now,
			Reason:        fmt.Sprintf("%d %s incidents within %d minutes", count, alert.SourceType, windowMins),
			TriggeredBy:   "system",
			RuleTriggered: rule.RuleID,
		}
		if _, err := e.alerts.ApplyTransition(ctx, alert.AlertID, transition); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				// Lost a race with another transition; nothing to do.
				return nil, nil
			}
			return nil, fmt.Errorf("escalate %s: %w", alert.AlertID, err)
		}
		e.log.Info("alert escalated",
			"alert_id", alert.AlertID, "rule_id", rule.RuleID,
			"entity_key", alert.EntityKey, "count", count)
		return &transition, nil
	}
	return nil, nil
}

// SweepAutoClose runs one auto-close pass over non-terminal alerts.
// Params: context bounding the pass.
// Returns: pass statistics; per-alert failures are counted, not fatal.
func (e *Engine) SweepAutoClose(ctx context.Context) (domain.SweepStats, error) {
	var stats domain.SweepStats

	alerts, err := e.alerts.ListByStatus(ctx, domain.StatusOpen, domain.StatusEscalated)
	if err != nil {
		return stats, fmt.Errorf("list sweep candidates: %w", err)
	}
	stats.Checked = len(alerts)

	rulesBySource := make(map[domain.SourceType][]domain.Rule)
	for _, alert := range alerts {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		rules, ok := rulesBySource[alert.SourceType]
		if !ok {
			rules, err = e.rules.ActiveForSource(ctx, alert.SourceType)
			if err != nil {
				stats.Errors++
				e.log.Warn("sweep rule load failed",
					"alert_id", alert.AlertID, "source_type", alert.SourceType, "error", err)
				continue
			}
			rulesBySource[alert.SourceType] = rules
		}

		transition, ok := e.autoCloseDecision(alert, rules)
		if !ok {
			continue
		}
		if _, err := e.alerts.ApplyTransition(ctx, alert.AlertID, transition); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				// Alert moved under us between list and apply.
				continue
			}
			stats.Errors++
			e.log.Warn("auto-close failed", "alert_id", alert.AlertID, "error", err)
			continue
		}
		stats.Closed++
		e.log.Info("alert auto-closed",
			"alert_id", alert.AlertID, "rule_id", transition.RuleTriggered, "reason", transition.Reason)
	}
	return stats, nil
}

// autoCloseDecision finds the first satisfied auto-close clause.
// Params: candidate alert and its active rules in priority order.
// Returns: close transition and true, or false when nothing matched.
// Every metadata-predicate rule is checked before any expiry rule, so a
// satisfied condition supplies the reason even when a higher-priority
// rule only carries an elapsed expiry clause.
func (e *Engine) autoCloseDecision(alert domain.Alert, rules []domain.Rule) (domain.StateTransition, bool) {
	now := e.clock.Now()
	for _, rule := range rules {
		if rule.Conditions.HasAutoClose() && alert.Metadata.Truthy(rule.Conditions.AutoCloseIf) {
			reason := fmt.Sprintf("condition '%s' satisfied", rule.Conditions.AutoCloseIf)
			return closeTransition(alert, rule.RuleID, reason, now), true
		}
	}
	for _, rule := range rules {
		if rule.Conditions.HasExpiry() && !now.Before(alert.Timestamp.Add(rule.Conditions.Expiry())) {
			reason := fmt.Sprintf("expired after %d minutes", rule.Conditions.ExpireAfterMins)
			return closeTransition(alert, rule.RuleID, reason, now), true
		}
	}
	return domain.StateTransition{}, false
}

// closeTransition builds the auto-close state change for one alert.
// Params: candidate alert, firing rule ID, reason text, and close time.
// Returns: transition record for the store's atomic apply.
func closeTransition(alert domain.Alert, ruleID, reason string, now time.Time) domain.StateTransition {
	return domain.StateTransition{
		From:          alert.Status,
		To:            domain.StatusAutoClosed,
		At:            now,
		Reason:        reason,
		TriggeredBy:   "system",
		RuleTriggered: ruleID,
	}
}

// Resolve applies manual terminal resolution to one alert.
// Params: alert ID, operator notes, and acting user name.
// Returns: updated alert, store.ErrNotFound, or ErrInvalidState.
func (e *Engine) Resolve(ctx context.Context, alertID, notes, actor string) (domain.Alert, error) {
	alert, err := e.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return domain.Alert{}, err
	}
	if alert.Status.Terminal() {
		return domain.Alert{}, fmt.Errorf("%w: alert %s is %s", ErrInvalidState, alertID, alert.Status)
	}

	updated, err := e.alerts.ApplyTransition(ctx, alertID, domain.StateTransition{
		From:        alert.Status,
		To:          domain.StatusResolved,
		At:          e.clock.Now(),
		Reason:      fmt.Sprintf("resolved by %s", actor),
		TriggeredBy: actor,
		Notes:       notes,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Sweep closed it between read and apply.
			return domain.Alert{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		return domain.Alert{}, fmt.Errorf("resolve %s: %w", alertID, err)
	}
	e.log.Info("alert resolved", "alert_id", alertID, "resolved_by", actor)
	return updated, nil
}
