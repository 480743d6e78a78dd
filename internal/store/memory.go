package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"alertdesk/internal/domain"
)

// MemoryStore keeps alert/rule documents in process memory for single mode.
// Params: in-memory maps guarded by one mutex.
// Returns: store implementation without external dependencies.
type MemoryStore struct {
	mu       sync.RWMutex
	alerts   map[string]domain.Alert
	rules    map[string]domain.Rule
	sweeps   []domain.SweepRecord
	counters map[string]uint64
}

// NewMemoryStore creates in-memory document store.
// Params: none.
// Returns: initialized empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts:   make(map[string]domain.Alert),
		rules:    make(map[string]domain.Rule),
		counters: make(map[string]uint64),
	}
}

// CreateAlert inserts one alert document.
// Params: validated alert with unique alert ID.
// Returns: ErrConflict when the ID already exists.
func (s *MemoryStore) CreateAlert(_ context.Context, alert domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[alert.AlertID]; ok {
		return ErrConflict
	}
	s.alerts[alert.AlertID] = cloneAlert(alert)
	return nil
}

// GetAlert reads one alert document.
// Params: alert ID key.
// Returns: detached alert copy or ErrNotFound.
func (s *MemoryStore) GetAlert(_ context.Context, alertID string) (domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.alerts[alertID]
	if !ok {
		return domain.Alert{}, ErrNotFound
	}
	return cloneAlert(alert), nil
}

// ListAlerts lists alerts by filter with timestamp-descending pagination.
// Params: filter and page window.
// Returns: page slice and total match count.
func (s *MemoryStore) ListAlerts(_ context.Context, filter AlertFilter, page Page) ([]domain.Alert, int, error) {
	s.mu.RLock()
	matched := make([]domain.Alert, 0)
	for _, alert := range s.alerts {
		if filter.MatchAlert(alert) {
			matched = append(matched, cloneAlert(alert))
		}
	}
	s.mu.RUnlock()

	sortAlertsDescending(matched)

	total := len(matched)
	start := page.Skip
	if start > total {
		start = total
	}
	end := total
	if page.Limit > 0 && start+page.Limit < total {
		end = start + page.Limit
	}
	return matched[start:end], total, nil
}

// CountByEntitySince counts window-correlated alerts for one entity.
// Params: entity key, source type, and window start.
// Returns: count over all statuses.
func (s *MemoryStore) CountByEntitySince(_ context.Context, entityKey string, source domain.SourceType, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, alert := range s.alerts {
		if alert.EntityKey != entityKey || alert.SourceType != source {
			continue
		}
		if alert.Timestamp.Before(since) {
			continue
		}
		count++
	}
	return count, nil
}

// ListByStatus lists alerts currently in any of the given statuses.
// Params: status set.
// Returns: detached alert copies in timestamp-ascending order.
func (s *MemoryStore) ListByStatus(_ context.Context, statuses ...domain.Status) ([]domain.Alert, error) {
	wanted := make(map[domain.Status]struct{}, len(statuses))
	for _, status := range statuses {
		wanted[status] = struct{}{}
	}

	s.mu.RLock()
	out := make([]domain.Alert, 0)
	for _, alert := range s.alerts {
		if _, ok := wanted[alert.Status]; ok {
			out = append(out, cloneAlert(alert))
		}
	}
	s.mu.RUnlock()

	sortAlertsAscending(out)
	return out, nil
}

// ApplyTransition applies one validated state change under the store lock.
// Params: alert ID and transition record.
// Returns: updated alert, ErrNotFound, or domain.ErrInvalidTransition.
func (s *MemoryStore) ApplyTransition(_ context.Context, alertID string, transition domain.StateTransition) (domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[alertID]
	if !ok {
		return domain.Alert{}, ErrNotFound
	}
	updated := cloneAlert(alert)
	if err := updated.ApplyTransition(transition); err != nil {
		return domain.Alert{}, err
	}
	s.alerts[alertID] = updated
	return cloneAlert(updated), nil
}

// NextSequence atomically increments one named counter.
// Params: counter key.
// Returns: incremented sequence starting at 1.
func (s *MemoryStore) NextSequence(_ context.Context, counter string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[counter]++
	return s.counters[counter], nil
}

// CreateRule inserts one rule document.
// Params: validated rule with unique rule ID.
// Returns: ErrConflict when the ID already exists.
func (s *MemoryStore) CreateRule(_ context.Context, rule domain.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[rule.RuleID]; ok {
		return ErrConflict
	}
	s.rules[rule.RuleID] = rule
	return nil
}

// GetRule reads one rule document.
// Params: rule ID key.
// Returns: rule or ErrNotFound.
func (s *MemoryStore) GetRule(_ context.Context, ruleID string) (domain.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[ruleID]
	if !ok {
		return domain.Rule{}, ErrNotFound
	}
	return rule, nil
}

// ListRules lists all rule documents.
// Params: none.
// Returns: rules ordered by priority then rule ID.
func (s *MemoryStore) ListRules(_ context.Context) ([]domain.Rule, error) {
	s.mu.RLock()
	out := make([]domain.Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		out = append(out, rule)
	}
	s.mu.RUnlock()
	sortRules(out)
	return out, nil
}

// UpdateRule replaces one existing rule document.
// Params: validated rule replacement.
// Returns: stored rule or ErrNotFound.
func (s *MemoryStore) UpdateRule(_ context.Context, rule domain.Rule) (domain.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[rule.RuleID]; !ok {
		return domain.Rule{}, ErrNotFound
	}
	s.rules[rule.RuleID] = rule
	return rule, nil
}

// DeleteRule removes one rule document.
// Params: rule ID key.
// Returns: ErrNotFound when absent.
func (s *MemoryStore) DeleteRule(_ context.Context, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[ruleID]; !ok {
		return ErrNotFound
	}
	delete(s.rules, ruleID)
	return nil
}

// ActiveForSource lists active rules for one source type.
// Params: source type scope.
// Returns: rules ordered by ascending priority.
func (s *MemoryStore) ActiveForSource(_ context.Context, source domain.SourceType) ([]domain.Rule, error) {
	s.mu.RLock()
	out := make([]domain.Rule, 0)
	for _, rule := range s.rules {
		if rule.IsActive && rule.SourceType == source {
			out = append(out, rule)
		}
	}
	s.mu.RUnlock()
	sortRules(out)
	return out, nil
}

// RecordSweep appends one sweep run record.
// Params: finished run record.
// Returns: nil (in-memory append).
func (s *MemoryStore) RecordSweep(_ context.Context, record domain.SweepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweeps = append(s.sweeps, record)
	return nil
}

// ListSweeps lists most recent sweep records first.
// Params: maximum record count (0 returns all).
// Returns: record slice ordered by start time descending.
func (s *MemoryStore) ListSweeps(_ context.Context, limit int) ([]domain.SweepRecord, error) {
	s.mu.RLock()
	out := make([]domain.SweepRecord, len(s.sweeps))
	copy(out, s.sweeps)
	s.mu.RUnlock()

	sortSweepsDescending(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close releases memory store resources.
// Params: none.
// Returns: nil.
func (s *MemoryStore) Close() error {
	return nil
}

// sortRules orders rules by ascending priority with rule ID tie-break.
// Params: mutable rule slice.
// Returns: slice sorted in place.
func sortRules(rules []domain.Rule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority == rules[j].Priority {
			return rules[i].RuleID < rules[j].RuleID
		}
		return rules[i].Priority < rules[j].Priority
	})
}

// cloneAlert duplicates mutable history/metadata from an alert document.
// Params: source alert.
// Returns: detached alert copy.
func cloneAlert(source domain.Alert) domain.Alert {
	out := source
	out.Metadata = source.Metadata.Clone()
	out.StateHistory = append([]domain.StateTransition(nil), source.StateHistory...)
	return out
}
