package sweep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"alertdesk/internal/clock"
	"alertdesk/internal/domain"
	"alertdesk/internal/engine"
	"alertdesk/internal/store"
)

var testStart = time.Date(2025, 11, 9, 10, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnceRecordsRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.NewMemoryStore()
	clk := clock.NewFake(testStart)
	eng := engine.New(s, s, clk, testLogger())
	runner := NewRunner(eng, s, clk, testLogger())

	err := s.CreateRule(ctx, domain.Rule{
		RuleID:     "doc-renewed",
		SourceType: domain.SourceDocumentExpiry,
		Name:       "doc renewed",
		Conditions: domain.RuleConditions{AutoCloseIf: "document_valid"},
		IsActive:   true,
		Priority:   1,
	})
	if err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	err = s.CreateAlert(ctx, domain.Alert{
		AlertID:    "DOC-2025-00001",
		SourceType: domain.SourceDocumentExpiry,
		Severity:   domain.SeverityWarning,
		Status:     domain.StatusOpen,
		EntityKey:  "DRV001",
		Metadata:   domain.Metadata{"document_valid": domain.Bool(true)},
		Timestamp:  testStart,
		CreatedAt:  testStart,
	})
	if err != nil {
		t.Fatalf("seed alert: %v", err)
	}

	record, err := runner.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if record.RunID == "" || record.Status != "completed" {
		t.Fatalf("unexpected record %+v", record)
	}
	if record.Stats.Checked != 1 || record.Stats.Closed != 1 {
		t.Fatalf("unexpected stats %+v", record.Stats)
	}

	persisted, err := s.ListSweeps(ctx, 10)
	if err != nil || len(persisted) != 1 || persisted[0].RunID != record.RunID {
		t.Fatalf("run record must be persisted: %+v err=%v", persisted, err)
	}
}

type blockingStore struct {
	*store.MemoryStore
	enterOnce sync.Once
	entered   chan struct{}
	release   chan struct{}
}

func (s *blockingStore) ListByStatus(ctx context.Context, statuses ...domain.Status) ([]domain.Alert, error) {
	s.enterOnce.Do(func() { close(s.entered) })
	<-s.release
	return s.MemoryStore.ListByStatus(ctx, statuses...)
}

func TestRunOnceSkipsOverlappingRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blocking := &blockingStore{
		MemoryStore: store.NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	clk := clock.NewFake(testStart)
	eng := engine.New(blocking, blocking.MemoryStore, clk, testLogger())
	runner := NewRunner(eng, blocking.MemoryStore, clk, testLogger())

	done := make(chan error, 1)
	go func() {
		_, err := runner.RunOnce(ctx)
		done <- err
	}()

	<-blocking.entered
	if _, err := runner.RunOnce(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("overlapping tick must be skipped, got %v", err)
	}

	close(blocking.release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}

	// With the first run finished a new tick proceeds.
	if _, err := runner.RunOnce(ctx); err != nil {
		t.Fatalf("post-run tick: %v", err)
	}
}
