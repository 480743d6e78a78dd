// Package rulecache keeps a short-lived snapshot of active rules so the
// ingest path does not hit the rule store for every alert.
package rulecache

import (
	"context"
	"sync"
	"time"

	"alertdesk/internal/clock"
	"alertdesk/internal/domain"
	"alertdesk/internal/store"
)

// DefaultTTL bounds snapshot staleness between rule updates.
const DefaultTTL = 5 * time.Minute

// entry is one cached per-source rule snapshot.
type entry struct {
	rules     []domain.Rule
	fetchedAt time.Time
}

// Cache is a TTL read-through cache over active rules.
// Params: rule store, TTL, and injected clock.
// Returns: engine.RuleSource implementation with explicit invalidation.
type Cache struct {
	rules store.RuleStore
	ttl   time.Duration
	clock clock.Clock

	mu      sync.Mutex
	entries map[domain.SourceType]entry
}

// New creates the rule cache.
// Params: backing rule store, TTL (DefaultTTL when <=0), and clock.
// Returns: initialized empty cache.
func New(rules store.RuleStore, ttl time.Duration, clk clock.Clock) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		rules:   rules,
		ttl:     ttl,
		clock:   clk,
		entries: make(map[domain.SourceType]entry),
	}
}

// ActiveForSource returns active rules for one source type.
// Params: source type scope.
// Returns: cached snapshot, refreshed from the store after TTL expiry.
func (c *Cache) ActiveForSource(ctx context.Context, source domain.SourceType) ([]domain.Rule, error) {
	now := c.clock.Now()

	c.mu.Lock()
	cached, ok := c.entries[source]
	c.mu.Unlock()
	if ok && now.Sub(cached.fetchedAt) < c.ttl {
		return cached.rules, nil
	}

	rules, err := c.rules.ActiveForSource(ctx, source)
	if err != nil {
		// Serve the stale snapshot over failing the evaluation.
		if ok {
			return cached.rules, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.entries[source] = entry{rules: rules, fetchedAt: now}
	c.mu.Unlock()
	return rules, nil
}

// Invalidate drops every cached snapshot.
// Params: none; called after any rule create/update/delete.
// Returns: next read goes to the store.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[domain.SourceType]entry)
	c.mu.Unlock()
}
