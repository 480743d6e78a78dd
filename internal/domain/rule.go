package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RuleConditions holds the optional clause kinds of one rule.
// Params: escalation count+window, auto-close predicate, expiry duration.
// Returns: any subset may be present; absent clauses are zero.
type RuleConditions struct {
	EscalateIfCount int    `json:"escalate_if_count,omitempty" toml:"escalate_if_count"`
	WindowMins      int    `json:"window_mins,omitempty" toml:"window_mins"`
	AutoCloseIf     string `json:"auto_close_if,omitempty" toml:"auto_close_if"`
	ExpireAfterMins int    `json:"expire_after_mins,omitempty" toml:"expire_after_mins"`
}

// Rule is one evaluation policy scoped to a source type.
// Params: identity, conditions, activation flag, and priority.
// Returns: persisted rule consumed by the engine.
type Rule struct {
	RuleID      string         `json:"rule_id"`
	SourceType  SourceType     `json:"source_type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Conditions  RuleConditions `json:"conditions"`
	IsActive    bool           `json:"is_active"`
	Priority    int            `json:"priority"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   *time.Time     `json:"updated_at,omitempty"`
}

// defaultWindowMins applies when an escalation clause omits the window.
const defaultWindowMins = 60

// HasEscalation reports whether the escalation clause is present.
// Params: none.
// Returns: true when escalate_if_count is set.
func (c RuleConditions) HasEscalation() bool {
	return c.EscalateIfCount > 0
}

// HasAutoClose reports whether the predicate clause is present.
// Params: none.
// Returns: true when auto_close_if names a metadata field.
func (c RuleConditions) HasAutoClose() bool {
	return strings.TrimSpace(c.AutoCloseIf) != ""
}

// HasExpiry reports whether the elapsed-time clause is present.
// Params: none.
// Returns: true when expire_after_mins is set.
func (c RuleConditions) HasExpiry() bool {
	return c.ExpireAfterMins > 0
}

// Window returns the escalation window with the 60-minute default.
// Params: none.
// Returns: window duration.
func (c RuleConditions) Window() time.Duration {
	mins := c.WindowMins
	if mins <= 0 {
		mins = defaultWindowMins
	}
	return time.Duration(mins) * time.Minute
}

// Expiry returns the elapsed-time clause as a duration.
// Params: none.
// Returns: expire_after_mins in minutes (zero when absent).
func (c RuleConditions) Expiry() time.Duration {
	return time.Duration(c.ExpireAfterMins) * time.Minute
}

// Validate validates the conditions record.
// Params: clause fields from transport or config.
// Returns: validation error when every clause is absent or malformed.
func (c RuleConditions) Validate() error {
	if !c.HasEscalation() && !c.HasAutoClose() && !c.HasExpiry() {
		return errors.New("conditions must carry at least one clause")
	}
	if c.EscalateIfCount < 0 {
		return errors.New("escalate_if_count must be >=0")
	}
	if c.WindowMins < 0 {
		return errors.New("window_mins must be >=0")
	}
	if c.WindowMins > 0 && !c.HasEscalation() {
		return errors.New("window_mins requires escalate_if_count")
	}
	if c.ExpireAfterMins < 0 {
		return errors.New("expire_after_mins must be >=0")
	}
	return nil
}

// Validate validates rule identity and conditions.
// Params: rule parsed from transport, config, or storage.
// Returns: validation error when the contract is violated.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.RuleID) == "" {
		return errors.New("rule_id is required")
	}
	if _, ok := sourcePrefixes[r.SourceType]; !ok {
		return fmt.Errorf("unsupported source_type %q", r.SourceType)
	}
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	if err := r.Conditions.Validate(); err != nil {
		return fmt.Errorf("conditions: %w", err)
	}
	return nil
}
