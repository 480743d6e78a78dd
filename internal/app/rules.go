package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"alertdesk/internal/clock"
	"alertdesk/internal/config"
	"alertdesk/internal/domain"
	"alertdesk/internal/rulecache"
	"alertdesk/internal/store"
)

// RuleManager implements rule CRUD with cache invalidation.
// Params: rule store, rule cache, clock, and logger.
// Returns: rule operations for the HTTP surface and startup seeding.
type RuleManager struct {
	rules store.RuleStore
	cache *rulecache.Cache
	clock clock.Clock
	log   *slog.Logger
}

// NewRuleManager creates the rule manager.
// Params: rule store, rule cache, clock, and logger.
// Returns: initialized manager.
func NewRuleManager(rules store.RuleStore, cache *rulecache.Cache, clk clock.Clock, log *slog.Logger) *RuleManager {
	return &RuleManager{
		rules: rules,
		cache: cache,
		clock: clk,
		log:   log.With("component", "rules"),
	}
}

// CreateRule validates and persists one rule.
// Params: rule from the API.
// Returns: stored rule or validation/store error.
func (m *RuleManager) CreateRule(ctx context.Context, rule domain.Rule) (domain.Rule, error) {
	rule.CreatedAt = m.clock.Now()
	rule.UpdatedAt = nil
	if err := rule.Validate(); err != nil {
		return domain.Rule{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := m.rules.CreateRule(ctx, rule); err != nil {
		return domain.Rule{}, fmt.Errorf("create rule %s: %w", rule.RuleID, err)
	}
	m.cache.Invalidate()
	m.log.Info("rule created", "rule_id", rule.RuleID, "source_type", rule.SourceType)
	return rule, nil
}

// GetRule reads one rule.
// Params: rule ID.
// Returns: rule or store.ErrNotFound.
func (m *RuleManager) GetRule(ctx context.Context, ruleID string) (domain.Rule, error) {
	return m.rules.GetRule(ctx, ruleID)
}

// ListRules lists all rules.
// Params: none.
// Returns: rules ordered by priority then rule ID.
func (m *RuleManager) ListRules(ctx context.Context) ([]domain.Rule, error) {
	return m.rules.ListRules(ctx)
}

// UpdateRule validates and replaces one rule.
// Params: full rule replacement keyed by rule ID.
// Returns: stored rule or validation/store error.
func (m *RuleManager) UpdateRule(ctx context.Context, rule domain.Rule) (domain.Rule, error) {
	current, err := m.rules.GetRule(ctx, rule.RuleID)
	if err != nil {
		return domain.Rule{}, err
	}
	rule.CreatedAt = current.CreatedAt
	now := m.clock.Now()
	rule.UpdatedAt = &now
	if err := rule.Validate(); err != nil {
		return domain.Rule{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	updated, err := m.rules.UpdateRule(ctx, rule)
	if err != nil {
		return domain.Rule{}, fmt.Errorf("update rule %s: %w", rule.RuleID, err)
	}
	m.cache.Invalidate()
	m.log.Info("rule updated", "rule_id", rule.RuleID)
	return updated, nil
}

// DeleteRule removes one rule.
// Params: rule ID.
// Returns: store.ErrNotFound when absent.
func (m *RuleManager) DeleteRule(ctx context.Context, ruleID string) error {
	if err := m.rules.DeleteRule(ctx, ruleID); err != nil {
		return err
	}
	m.cache.Invalidate()
	m.log.Info("rule deleted", "rule_id", ruleID)
	return nil
}

// SeedDefaults creates configured rules that do not exist yet.
// Params: seed rule list from config.
// Returns: error when a seed rule cannot be checked or created.
// Existing rules are left untouched so API edits survive restarts.
func (m *RuleManager) SeedDefaults(ctx context.Context, seeds []config.RuleConfig) error {
	created := 0
	for _, seed := range seeds {
		_, err := m.rules.GetRule(ctx, seed.RuleID)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("check seed rule %s: %w", seed.RuleID, err)
		}

		rule, err := seed.ToRule(m.clock.Now())
		if err != nil {
			return err
		}
		if err := m.rules.CreateRule(ctx, rule); err != nil {
			// Another instance may have seeded it first.
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return fmt.Errorf("seed rule %s: %w", seed.RuleID, err)
		}
		created++
	}
	if created > 0 {
		m.cache.Invalidate()
		m.log.Info("default rules seeded", "created", created)
	}
	return nil
}
