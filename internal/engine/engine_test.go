package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"alertdesk/internal/clock"
	"alertdesk/internal/domain"
	"alertdesk/internal/store"
)

var testStart = time.Date(2025, 11, 9, 10, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) (*Engine, *store.MemoryStore, *clock.FakeClock) {
	t.Helper()
	s := store.NewMemoryStore()
	clk := clock.NewFake(testStart)
	return New(s, s, clk, testLogger()), s, clk
}

func seedAlert(t *testing.T, s *store.MemoryStore, id, entity string, source domain.SourceType, at time.Time, meta domain.Metadata) domain.Alert {
	t.Helper()
	alert := domain.Alert{
		AlertID:    id,
		SourceType: source,
		Severity:   source.DefaultSeverity(),
		Status:     domain.StatusOpen,
		EntityKey:  entity,
		Metadata:   meta,
		Timestamp:  at,
		CreatedAt:  at,
	}
	if err := s.CreateAlert(context.Background(), alert); err != nil {
		t.Fatalf("seed alert %s: %v", id, err)
	}
	return alert
}

func seedRule(t *testing.T, s *store.MemoryStore, id string, source domain.SourceType, priority int, conditions domain.RuleConditions) {
	t.Helper()
	err := s.CreateRule(context.Background(), domain.Rule{
		RuleID:     id,
		SourceType: source,
		Name:       id,
		Conditions: conditions,
		IsActive:   true,
		Priority:   priority,
		CreatedAt:  testStart,
	})
	if err != nil {
		t.Fatalf("seed rule %s: %v", id, err)
	}
}

func TestEvaluateEscalationThirdAlertCrossesThreshold(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	eng, s, clk := newTestEngine(t)
	seedRule(t, s, "overspeed-burst", domain.SourceOverspeeding, 1,
		domain.RuleConditions{EscalateIfCount: 3, WindowMins: 60})

	seedAlert(t, s, "OSP-2025-00001", "DRV001", domain.SourceOverspeeding, testStart, nil)
	seedAlert(t, s, "OSP-2025-00002", "DRV001", domain.SourceOverspeeding, testStart.Add(10*time.Minute), nil)

	clk.Set(testStart.Add(20 * time.Minute))
	second, err := s.GetAlert(ctx, "OSP-2025-00002")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	transition, err := eng.EvaluateEscalation(ctx, second)
	if err != nil {
		t.Fatalf("evaluate second: %v", err)
	}
	if transition != nil {
		t.Fatalf("two alerts must not escalate, got %+v", transition)
	}

	third := seedAlert(t, s, "OSP-2025-00003", "DRV001", domain.SourceOverspeeding, testStart.Add(20*time.Minute), nil)
	transition, err = eng.EvaluateEscalation(ctx, third)
	if err != nil {
		t.Fatalf("evaluate third: %v", err)
	}
	if transition == nil {
		t.Fatalf("third alert within window must escalate")
	}
	if transition.Reason != "3 OVERSPEEDING incidents within 60 minutes" {
		t.Fatalf("unexpected reason %q", transition.Reason)
	}
	if transition.TriggeredBy != "system" || transition.RuleTriggered != "overspeed-burst" {
		t.Fatalf("unexpected trigger metadata %+v", transition)
	}

	stored, err := s.GetAlert(ctx, "OSP-2025-00003")
	if err != nil {
		t.Fatalf("get escalated: %v", err)
	}
	if stored.Status != domain.StatusEscalated || stored.Severity != domain.SeverityCritical {
		t.Fatalf("escalation must set status and CRITICAL severity, got %+v", stored)
	}
	if stored.EscalatedAt == nil || len(stored.StateHistory) != 1 {
		t.Fatalf("escalation must record timestamp and history, got %+v", stored)
	}
}

func TestEvaluateEscalationIgnoresAlertsOutsideWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	eng, s, clk := newTestEngine(t)
	seedRule(t, s, "overspeed-burst", domain.SourceOverspeeding, 1,
		domain.RuleConditions{EscalateIfCount: 3, WindowMins: 60})

	// Two stale alerts outside the 60-minute window.
	seedAlert(t, s, "OSP-2025-00001", "DRV001", domain.SourceOverspeeding, testStart.Add(-3*time.Hour), nil)
	seedAlert(t, s, "OSP-2025-00002", "DRV001", domain.SourceOverspeeding, testStart.Add(-2*time.Hour), nil)
	fresh := seedAlert(t, s, "OSP-2025-00003", "DRV001", domain.SourceOverspeeding, testStart, nil)

	clk.Set(testStart)
	transition, err := eng.EvaluateEscalation(ctx, fresh)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if transition != nil {
		t.Fatalf("stale alerts must not count toward the threshold")
	}
}

func TestEvaluateEscalationCountsOtherEntitiesSeparately(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	eng, s, _ := newTestEngine(t)
	seedRule(t, s, "overspeed-burst", domain.SourceOverspeeding, 1,
		domain.RuleConditions{EscalateIfCount: 2, WindowMins: 60})

	seedAlert(t, s, "OSP-2025-00001", "DRV001", domain.SourceOverspeeding, testStart, nil)
	other := seedAlert(t, s, "OSP-2025-00002", "DRV002", domain.SourceOverspeeding, testStart, nil)

	transition, err := eng.EvaluateEscalation(ctx, other)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if transition != nil {
		t.Fatalf("alerts for another entity must not count")
	}
}

func TestEvaluateEscalationIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	eng, s, _ := newTestEngine(t)
	seedRule(t, s, "overspeed-burst", domain.SourceOverspeeding, 1,
		domain.RuleConditions{EscalateIfCount: 1, WindowMins: 60})

	alert := seedAlert(t, s, "OSP-2025-00001", "DRV001", domain.SourceOverspeeding, testStart, nil)
	if transition, err := eng.EvaluateEscalation(ctx, alert); err != nil || transition == nil {
		t.Fatalf("first evaluation must escalate: %+v err=%v", transition, err)
	}

	escalated, err := s.GetAlert(ctx, "OSP-2025-00001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	transition, err := eng.EvaluateEscalation(ctx, escalated)
	if err != nil {
		t.Fatalf("second evaluation: %v", err)
	}
	if transition != nil {
		t.Fatalf("non-OPEN alert must be skipped")
	}
	stored, _ := s.GetAlert(ctx, "OSP-2025-00001")
	if len(stored.StateHistory) != 1 {
		t.Fatalf("second evaluation must not append history, got %d entries", len(stored.StateHistory))
	}
}

func TestEvaluateEscalationFirstMatchingPriorityWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	eng, s, _ := newTestEngine(t)
	seedRule(t, s, "strict", domain.SourceOverspeeding, 5,
		domain.RuleConditions{EscalateIfCount: 1, WindowMins: 60})
	seedRule(t, s, "lenient", domain.SourceOverspeeding, 1,
		domain.RuleConditions{EscalateIfCount: 1, WindowMins: 60})

	alert := seedAlert(t, s, "OSP-2025-00001", "DRV001", domain.SourceOverspeeding, testStart, nil)
	transition, err := eng.EvaluateEscalation(ctx, alert)
	if err != nil || transition == nil {
		t.Fatalf("evaluate: %+v err=%v", transition, err)
	}
	if transition.RuleTriggered != "lenient" {
		t.Fatalf("lowest priority number must win, got %s", transition.RuleTriggered)
	}
}

func TestSweepAutoCloseMetadataPredicate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	eng, s, _ := newTestEngine(t)
	seedRule(t, s, "doc-renewed", domain.SourceDocumentExpiry, 1,
		domain.RuleConditions{AutoCloseIf: "document_valid"})

	seedAlert(t, s, "DOC-2025-00001", "DRV001", domain.SourceDocumentExpiry, testStart,
		domain.Metadata{"document_valid": domain.Bool(false)})
	seedAlert(t, s, "DOC-2025-00002", "DRV002", domain.SourceDocumentExpiry, testStart,
		domain.Metadata{"document_valid": domain.Bool(true)})

	stats, err := eng.SweepAutoClose(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.Checked != 2 || stats.Closed != 1 || stats.Errors != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	kept, _ := s.GetAlert(ctx, "DOC-2025-00001")
	if kept.Status != domain.StatusOpen {
		t.Fatalf("false predicate must keep alert open, got %s", kept.Status)
	}
	closed, _ := s.GetAlert(ctx, "DOC-2025-00002")
	if closed.Status != domain.StatusAutoClosed {
		t.Fatalf("true predicate must close alert, got %s", closed.Status)
	}
	if closed.AutoCloseReason != "condition 'document_valid' satisfied" {
		t.Fatalf("unexpected close reason %q", closed.AutoCloseReason)
	}
	if closed.ClosedAt == nil {
		t.Fatalf("close must stamp closed_at")
	}
}

func TestSweepAutoCloseExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	eng, s, clk := newTestEngine(t)
	seedRule(t, s, "stale-overspeed", domain.SourceOverspeeding, 1,
		domain.RuleConditions{ExpireAfterMins: 60})

	seedAlert(t, s, "OSP-2025-00001", "DRV001", domain.SourceOverspeeding, testStart, nil)

	clk.Set(testStart.Add(30 * time.Minute))
	stats, err := eng.SweepAutoClose(ctx)
	if err != nil || stats.Closed != 0 {
		t.Fatalf("30-minute-old alert must stay open: %+v err=%v", stats, err)
	}

	clk.Set(testStart.Add(61 * time.Minute))
	stats, err = eng.SweepAutoClose(ctx)
	if err != nil || stats.Closed != 1 {
		t.Fatalf("61-minute-old alert must close: %+v err=%v", stats, err)
	}
	closed, _ := s.GetAlert(ctx, "OSP-2025-00001")
	if closed.AutoCloseReason != "expired after 60 minutes" {
		t.Fatalf("unexpected close reason %q", closed.AutoCloseReason)
	}

	// Second pass finds nothing left to close.
	stats, err = eng.SweepAutoClose(ctx)
	if err != nil || stats.Checked != 0 || stats.Closed != 0 {
		t.Fatalf("sweep must be idempotent: %+v err=%v", stats, err)
	}
}

func TestSweepAutoClosePredicateBeforeExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	eng, s, clk := newTestEngine(t)
	seedRule(t, s, "both-clauses", domain.SourceDocumentExpiry, 1,
		domain.RuleConditions{AutoCloseIf: "document_valid", ExpireAfterMins: 60})

	seedAlert(t, s, "DOC-2025-00001", "DRV001", domain.SourceDocumentExpiry, testStart,
		domain.Metadata{"document_valid": domain.Bool(true)})

	// Both clauses hold; the metadata predicate supplies the reason.
	clk.Set(testStart.Add(2 * time.Hour))
	stats, err := eng.SweepAutoClose(ctx)
	if err != nil || stats.Closed != 1 {
		t.Fatalf("sweep: %+v err=%v", stats, err)
	}
	closed, _ := s.GetAlert(ctx, "DOC-2025-00001")
	if closed.AutoCloseReason != "condition 'document_valid' satisfied" {
		t.Fatalf("predicate must take precedence, got %q", closed.AutoCloseReason)
	}
}

func TestSweepAutoCloseConditionRuleBeatsEarlierExpiryRule(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	eng, s, clk := newTestEngine(t)
	seedRule(t, s, "stale-docs", domain.SourceDocumentExpiry, 1,
		domain.RuleConditions{ExpireAfterMins: 60})
	seedRule(t, s, "doc-renewed", domain.SourceDocumentExpiry, 2,
		domain.RuleConditions{AutoCloseIf: "document_valid"})

	seedAlert(t, s, "DOC-2025-00001", "DRV001", domain.SourceDocumentExpiry, testStart,
		domain.Metadata{"document_valid": domain.Bool(true)})

	// Expiry also holds by now, but condition rules are exhausted first
	// even when the expiry rule has the better priority.
	clk.Set(testStart.Add(2 * time.Hour))
	stats, err := eng.SweepAutoClose(ctx)
	if err != nil || stats.Closed != 1 {
		t.Fatalf("sweep: %+v err=%v", stats, err)
	}
	closed, _ := s.GetAlert(ctx, "DOC-2025-00001")
	if closed.AutoCloseReason != "condition 'document_valid' satisfied" {
		t.Fatalf("condition rule must supply the reason, got %q", closed.AutoCloseReason)
	}
	last := closed.StateHistory[len(closed.StateHistory)-1]
	if last.RuleTriggered != "doc-renewed" {
		t.Fatalf("condition rule must be recorded as trigger, got %q", last.RuleTriggered)
	}
}

func TestEvaluateEscalationFallsThroughUnmetThresholds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	eng, s, _ := newTestEngine(t)
	seedRule(t, s, "strict", domain.SourceOverspeeding, 1,
		domain.RuleConditions{EscalateIfCount: 5, WindowMins: 60})
	seedRule(t, s, "lenient", domain.SourceOverspeeding, 2,
		domain.RuleConditions{EscalateIfCount: 2, WindowMins: 60})

	seedAlert(t, s, "OSP-2025-00001", "DRV001", domain.SourceOverspeeding, testStart, nil)
	second := seedAlert(t, s, "OSP-2025-00002", "DRV001", domain.SourceOverspeeding, testStart, nil)

	// The priority-1 rule's threshold is not met; evaluation continues
	// to the next rule instead of stopping.
	transition, err := eng.EvaluateEscalation(ctx, second)
	if err != nil || transition == nil {
		t.Fatalf("evaluate: %+v err=%v", transition, err)
	}
	if transition.RuleTriggered != "lenient" {
		t.Fatalf("unmet threshold must fall through to next rule, got %s", transition.RuleTriggered)
	}
}

func TestSweepAutoCloseCoversEscalatedAlerts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	eng, s, clk := newTestEngine(t)
	seedRule(t, s, "escalate-once", domain.SourceOverspeeding, 1,
		domain.RuleConditions{EscalateIfCount: 1, WindowMins: 60})
	seedRule(t, s, "stale-overspeed", domain.SourceOverspeeding, 2,
		domain.RuleConditions{ExpireAfterMins: 60})

	alert := seedAlert(t, s, "OSP-2025-00001", "DRV001", domain.SourceOverspeeding, testStart, nil)
	if _, err := eng.EvaluateEscalation(ctx, alert); err != nil {
		t.Fatalf("escalate: %v", err)
	}

	clk.Set(testStart.Add(2 * time.Hour))
	stats, err := eng.SweepAutoClose(ctx)
	if err != nil || stats.Closed != 1 {
		t.Fatalf("sweep: %+v err=%v", stats, err)
	}
	closed, _ := s.GetAlert(ctx, "OSP-2025-00001")
	if closed.Status != domain.StatusAutoClosed || len(closed.StateHistory) != 2 {
		t.Fatalf("escalated alert must auto-close with full history, got %+v", closed)
	}
}

type transitionFailingStore struct {
	*store.MemoryStore
	failID string
}

func (s *transitionFailingStore) ApplyTransition(ctx context.Context, alertID string, transition domain.StateTransition) (domain.Alert, error) {
	if alertID == s.failID {
		return domain.Alert{}, store.ErrUnavailable
	}
	return s.MemoryStore.ApplyTransition(ctx, alertID, transition)
}

func TestSweepAutoCloseIsolatesPerAlertFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMemoryStore()
	failing := &transitionFailingStore{MemoryStore: mem, failID: "DOC-2025-00001"}
	clk := clock.NewFake(testStart)
	eng := New(failing, mem, clk, testLogger())

	seedRule(t, mem, "doc-renewed", domain.SourceDocumentExpiry, 1,
		domain.RuleConditions{AutoCloseIf: "document_valid"})
	seedAlert(t, mem, "DOC-2025-00001", "DRV001", domain.SourceDocumentExpiry, testStart,
		domain.Metadata{"document_valid": domain.Bool(true)})
	seedAlert(t, mem, "DOC-2025-00002", "DRV002", domain.SourceDocumentExpiry, testStart,
		domain.Metadata{"document_valid": domain.Bool(true)})

	stats, err := eng.SweepAutoClose(ctx)
	if err != nil {
		t.Fatalf("sweep must not abort on one failure: %v", err)
	}
	if stats.Checked != 2 || stats.Closed != 1 || stats.Errors != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	eng, s, clk := newTestEngine(t)
	seedAlert(t, s, "SAF-2025-00001", "DRV001", domain.SourceSafety, testStart, nil)

	clk.Set(testStart.Add(5 * time.Minute))
	resolved, err := eng.Resolve(ctx, "SAF-2025-00001", "driver counselled", "operator1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != domain.StatusResolved || resolved.ResolvedAt == nil {
		t.Fatalf("unexpected resolved alert %+v", resolved)
	}
	if resolved.ResolvedBy != "operator1" || resolved.ResolutionNotes != "driver counselled" {
		t.Fatalf("resolution fields not recorded: %+v", resolved)
	}

	if _, err := eng.Resolve(ctx, "SAF-2025-00001", "", "operator2"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("resolving a terminal alert must fail with ErrInvalidState, got %v", err)
	}
	if _, err := eng.Resolve(ctx, "SAF-2025-99999", "", "operator1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown alert must fail with ErrNotFound, got %v", err)
	}
}
