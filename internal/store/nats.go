package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"alertdesk/internal/domain"

	"github.com/nats-io/nats.go"
)

// casRetries bounds optimistic update attempts for one transition.
const casRetries = 5

// NATSSettings holds JetStream KV backend configuration.
// Params: server URLs and bucket names per document kind.
// Returns: settings consumed by NewNATSStore.
type NATSSettings struct {
	URL                []string
	AlertBucket        string
	RuleBucket         string
	SweepBucket        string
	CounterBucket      string
	AllowCreateBuckets bool
}

// NATSStore persists alert/rule documents in JetStream KV buckets.
// Params: NATS connection and KV bucket handles.
// Returns: KV-backed store implementation.
type NATSStore struct {
	nc        *nats.Conn
	js        nats.JetStreamContext
	alertKV   nats.KeyValue
	ruleKV    nats.KeyValue
	sweepKV   nats.KeyValue
	counterKV nats.KeyValue
}

// NewNATSStore connects and opens (or creates) the KV buckets.
// Params: JetStream settings from config.
// Returns: initialized NATS store or setup error.
func NewNATSStore(settings NATSSettings) (*NATSStore, error) {
	nc, err := nats.Connect(strings.Join(settings.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	s := &NATSStore{nc: nc, js: js}
	buckets := []struct {
		name   string
		target *nats.KeyValue
	}{
		{settings.AlertBucket, &s.alertKV},
		{settings.RuleBucket, &s.ruleKV},
		{settings.SweepBucket, &s.sweepKV},
		{settings.CounterBucket, &s.counterKV},
	}
	for _, bucket := range buckets {
		kv, err := openBucket(js, bucket.name, settings.AllowCreateBuckets)
		if err != nil {
			nc.Close()
			return nil, err
		}
		*bucket.target = kv
	}
	return s, nil
}

// openBucket opens one KV bucket, creating it when allowed.
// Params: JetStream context, bucket name, and create flag.
// Returns: bucket handle or setup error.
func openBucket(js nats.JetStreamContext, name string, allowCreate bool) (nats.KeyValue, error) {
	kv, err := js.KeyValue(name)
	if err == nil {
		return kv, nil
	}
	if !allowCreate {
		return nil, fmt.Errorf("open bucket %q: %w", name, err)
	}
	kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: name})
	if err != nil {
		return nil, fmt.Errorf("create bucket %q: %w", name, err)
	}
	return kv, nil
}

// CreateAlert inserts one alert document with create-only semantics.
// Params: validated alert with unique alert ID.
// Returns: ErrConflict when the key already exists.
func (s *NATSStore) CreateAlert(_ context.Context, alert domain.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	if _, err := s.alertKV.Create(alertKey(alert.AlertID), body); err != nil {
		if errors.Is(err, nats.ErrKeyExists) {
			return ErrConflict
		}
		return unavailable("create alert", err)
	}
	return nil
}

// GetAlert reads one alert document.
// Params: alert ID key.
// Returns: decoded alert or ErrNotFound.
func (s *NATSStore) GetAlert(_ context.Context, alertID string) (domain.Alert, error) {
	alert, _, err := s.getAlertRevision(alertID)
	return alert, err
}

// getAlertRevision reads one alert with its KV revision for CAS.
// Params: alert ID key.
// Returns: alert, revision, or ErrNotFound.
func (s *NATSStore) getAlertRevision(alertID string) (domain.Alert, uint64, error) {
	entry, err := s.alertKV.Get(alertKey(alertID))
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return domain.Alert{}, 0, ErrNotFound
		}
		return domain.Alert{}, 0, unavailable("get alert", err)
	}
	var alert domain.Alert
	if err := json.Unmarshal(entry.Value(), &alert); err != nil {
		return domain.Alert{}, 0, fmt.Errorf("decode alert: %w", err)
	}
	return alert, entry.Revision(), nil
}

// ListAlerts lists alerts by filter with timestamp-descending pagination.
// Full bucket scan: acceptable for single-deployment dashboard volumes.
// Params: filter and page window.
// Returns: page slice and total match count.
func (s *NATSStore) ListAlerts(ctx context.Context, filter AlertFilter, page Page) ([]domain.Alert, int, error) {
	matched, err := s.scanAlerts(ctx, filter.MatchAlert)
	if err != nil {
		return nil, 0, err
	}
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
func (s *NATSStore) CountByEntitySince(ctx context.Context, entityKey string, source domain.SourceType, since time.Time) (int, error) {
	matched, err := s.scanAlerts(ctx, func(alert domain.Alert) bool {
		return alert.EntityKey == entityKey &&
			alert.SourceType == source &&
			!alert.Timestamp.Before(since)
	})
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

// ListByStatus lists alerts currently in any of the given statuses.
// Params: status set.
// Returns: alerts in timestamp-ascending order.
func (s *NATSStore) ListByStatus(ctx context.Context, statuses ...domain.Status) ([]domain.Alert, error) {
	wanted := make(map[domain.Status]struct{}, len(statuses))
	for _, status := range statuses {
		wanted[status] = struct{}{}
	}
	matched, err := s.scanAlerts(ctx, func(alert domain.Alert) bool {
		_, ok := wanted[alert.Status]
		return ok
	})
	if err != nil {
		return nil, err
	}
	sortAlertsAscending(matched)
	return matched, nil
}

// scanAlerts decodes every alert in the bucket and applies one predicate.
// Params: context and match predicate.
// Returns: matching alerts or scan error.
func (s *NATSStore) scanAlerts(ctx context.Context, match func(domain.Alert) bool) ([]domain.Alert, error) {
	keys, err := s.alertKV.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, unavailable("list alert keys", err)
	}
	out := make([]domain.Alert, 0)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, err := s.alertKV.Get(key)
		if err != nil {
			if errors.Is(err, nats.ErrKeyNotFound) {
				continue
			}
			return nil, unavailable("scan alert", err)
		}
		var alert domain.Alert
		if err := json.Unmarshal(entry.Value(), &alert); err != nil {
			return nil, fmt.Errorf("decode alert %q: %w", key, err)
		}
		if match(alert) {
			out = append(out, alert)
		}
	}
	return out, nil
}

// ApplyTransition applies one state change with bounded CAS retries.
// The new status, history entry, and derived fields persist atomically
// through one KV revision update, or not at all.
// Params: alert ID and transition record.
// Returns: updated alert, ErrNotFound, domain.ErrInvalidTransition, or ErrConflict.
func (s *NATSStore) ApplyTransition(_ context.Context, alertID string, transition domain.StateTransition) (domain.Alert, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		alert, revision, err := s.getAlertRevision(alertID)
		if err != nil {
			return domain.Alert{}, err
		}
		// Re-validate against the freshly read status: a concurrent
		// writer may have already moved the alert.
		transition.From = alert.Status
		if err := alert.ApplyTransition(transition); err != nil {
			return domain.Alert{}, err
		}
		body, err := json.Marshal(alert)
		if err != nil {
			return domain.Alert{}, fmt.Errorf("encode alert: %w", err)
		}
		_, err = s.alertKV.Update(alertKey(alertID), body, revision)
		if err == nil {
			return alert, nil
		}
		if !isRevisionMismatch(err) {
			return domain.Alert{}, unavailable("update alert", err)
		}
	}
	return domain.Alert{}, ErrConflict
}

// NextSequence atomically increments one named counter via KV CAS.
// Params: counter key.
// Returns: incremented sequence starting at 1.
func (s *NATSStore) NextSequence(_ context.Context, counter string) (uint64, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		entry, err := s.counterKV.Get(counter)
		if err != nil {
			if !errors.Is(err, nats.ErrKeyNotFound) {
				return 0, unavailable("get counter", err)
			}
			if _, err := s.counterKV.Create(counter, []byte("1")); err != nil {
				if errors.Is(err, nats.ErrKeyExists) {
					continue
				}
				return 0, unavailable("create counter", err)
			}
			return 1, nil
		}
		current, err := strconv.ParseUint(string(entry.Value()), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("decode counter %q: %w", counter, err)
		}
		next := current + 1
		if _, err := s.counterKV.Update(counter, []byte(strconv.FormatUint(next, 10)), entry.Revision()); err != nil {
			if isRevisionMismatch(err) {
				continue
			}
			return 0, unavailable("update counter", err)
		}
		return next, nil
	}
	return 0, ErrConflict
}

// CreateRule inserts one rule document with create-only semantics.
// Params: validated rule with unique rule ID.
// Returns: ErrConflict when the key already exists.
func (s *NATSStore) CreateRule(_ context.Context, rule domain.Rule) error {
	body, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("encode rule: %w", err)
	}
	if _, err := s.ruleKV.Create(rule.RuleID, body); err != nil {
		if errors.Is(err, nats.ErrKeyExists) {
			return ErrConflict
		}
		return unavailable("create rule", err)
	}
	return nil
}

// GetRule reads one rule document.
// Params: rule ID key.
// Returns: decoded rule or ErrNotFound.
func (s *NATSStore) GetRule(_ context.Context, ruleID string) (domain.Rule, error) {
	entry, err := s.ruleKV.Get(ruleID)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return domain.Rule{}, ErrNotFound
		}
		return domain.Rule{}, unavailable("get rule", err)
	}
	var rule domain.Rule
	if err := json.Unmarshal(entry.Value(), &rule); err != nil {
		return domain.Rule{}, fmt.Errorf("decode rule: %w", err)
	}
	return rule, nil
}

// ListRules lists all rule documents.
// Params: none.
// Returns: rules ordered by priority then rule ID.
func (s *NATSStore) ListRules(ctx context.Context) ([]domain.Rule, error) {
	return s.scanRules(ctx, func(domain.Rule) bool { return true })
}

// UpdateRule replaces one existing rule document.
// Params: validated rule replacement.
// Returns: stored rule or ErrNotFound.
func (s *NATSStore) UpdateRule(_ context.Context, rule domain.Rule) (domain.Rule, error) {
	if _, err := s.ruleKV.Get(rule.RuleID); err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return domain.Rule{}, ErrNotFound
		}
		return domain.Rule{}, unavailable("get rule", err)
	}
	body, err := json.Marshal(rule)
	if err != nil {
		return domain.Rule{}, fmt.Errorf("encode rule: %w", err)
	}
	if _, err := s.ruleKV.Put(rule.RuleID, body); err != nil {
		return domain.Rule{}, unavailable("update rule", err)
	}
	return rule, nil
}

// DeleteRule removes one rule document.
// Params: rule ID key.
// Returns: ErrNotFound when absent.
func (s *NATSStore) DeleteRule(_ context.Context, ruleID string) error {
	if _, err := s.ruleKV.Get(ruleID); err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return ErrNotFound
		}
		return unavailable("get rule", err)
	}
	if err := s.ruleKV.Delete(ruleID); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return unavailable("delete rule", err)
	}
	return nil
}

// ActiveForSource lists active rules for one source type.
// Params: source type scope.
// Returns: rules ordered by ascending priority.
func (s *NATSStore) ActiveForSource(ctx context.Context, source domain.SourceType) ([]domain.Rule, error) {
	return s.scanRules(ctx, func(rule domain.Rule) bool {
		return rule.IsActive && rule.SourceType == source
	})
}

// scanRules decodes every rule and applies one predicate.
// Params: context and match predicate.
// Returns: matching rules ordered by ascending priority.
func (s *NATSStore) scanRules(ctx context.Context, match func(domain.Rule) bool) ([]domain.Rule, error) {
	keys, err := s.ruleKV.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, unavailable("list rule keys", err)
	}
	out := make([]domain.Rule, 0)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, err := s.ruleKV.Get(key)
		if err != nil {
			if errors.Is(err, nats.ErrKeyNotFound) {
				continue
			}
			return nil, unavailable("scan rule", err)
		}
		var rule domain.Rule
		if err := json.Unmarshal(entry.Value(), &rule); err != nil {
			return nil, fmt.Errorf("decode rule %q: %w", key, err)
		}
		if match(rule) {
			out = append(out, rule)
		}
	}
	sortRules(out)
	return out, nil
}

// RecordSweep appends one sweep run record keyed by run ID.
// Params: finished run record.
// Returns: publish error.
func (s *NATSStore) RecordSweep(_ context.Context, record domain.SweepRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode sweep record: %w", err)
	}
	if _, err := s.sweepKV.Put(sweepKey(record.RunID), body); err != nil {
		return unavailable("record sweep", err)
	}
	return nil
}

// ListSweeps lists most recent sweep records first.
// Params: maximum record count (0 returns all).
// Returns: record slice ordered by start time descending.
func (s *NATSStore) ListSweeps(_ context.Context, limit int) ([]domain.SweepRecord, error) {
	keys, err := s.sweepKV.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, unavailable("list sweep keys", err)
	}
	out := make([]domain.SweepRecord, 0, len(keys))
	for _, key := range keys {
		entry, err := s.sweepKV.Get(key)
		if err != nil {
			if errors.Is(err, nats.ErrKeyNotFound) {
				continue
			}
			return nil, unavailable("scan sweep", err)
		}
		var record domain.SweepRecord
		if err := json.Unmarshal(entry.Value(), &record); err != nil {
			return nil, fmt.Errorf("decode sweep record %q: %w", key, err)
		}
		out = append(out, record)
	}
	sortSweepsDescending(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close closes the underlying NATS connection.
// Params: none.
// Returns: nil after connection close.
func (s *NATSStore) Close() error {
	s.nc.Close()
	return nil
}

// alertKey maps alert IDs onto KV-safe keys.
// Params: alert ID like OSP-2025-00001.
// Returns: bucket key.
func alertKey(alertID string) string {
	return strings.ReplaceAll(alertID, " ", "_")
}

// sweepKey maps run IDs onto KV-safe keys.
// Params: uuid run ID.
// Returns: bucket key.
func sweepKey(runID string) string {
	return strings.ReplaceAll(runID, " ", "_")
}

// isRevisionMismatch classifies KV CAS failures.
// Params: update error.
// Returns: true for wrong-last-sequence conflicts.
func isRevisionMismatch(err error) bool {
	return errors.Is(err, nats.ErrKeyExists) ||
		strings.Contains(strings.ToLower(err.Error()), "wrong last sequence")
}

// unavailable wraps transient backend failures for caller classification.
// Params: operation label and cause.
// Returns: error matching ErrUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
