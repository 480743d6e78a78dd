package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is alert lifecycle state.
// Params: OPEN/ESCALATED/AUTO_CLOSED/RESOLVED constants.
// Returns: forward-only state machine position.
type Status string

const (
	// StatusOpen indicates a newly reported alert.
	StatusOpen Status = "OPEN"
	// StatusEscalated indicates the escalation threshold was crossed.
	StatusEscalated Status = "ESCALATED"
	// StatusAutoClosed indicates system-driven terminal closure.
	StatusAutoClosed Status = "AUTO_CLOSED"
	// StatusResolved indicates operator-driven terminal closure.
	StatusResolved Status = "RESOLVED"
)

// Severity is alert importance level.
// Params: INFO/WARNING/CRITICAL constants.
// Returns: severity raised to CRITICAL by escalation only.
type Severity string

const (
	// SeverityInfo marks informational alerts.
	SeverityInfo Severity = "INFO"
	// SeverityWarning marks actionable alerts.
	SeverityWarning Severity = "WARNING"
	// SeverityCritical marks escalated or safety alerts.
	SeverityCritical Severity = "CRITICAL"
)

// SourceType identifies the producing subsystem of an alert.
// Params: fleet incident source constants.
// Returns: rule scoping and ID prefix dimension.
type SourceType string

const (
	SourceOverspeeding     SourceType = "OVERSPEEDING"
	SourceCompliance       SourceType = "COMPLIANCE"
	SourceFeedbackNegative SourceType = "FEEDBACK_NEGATIVE"
	SourceFeedbackPositive SourceType = "FEEDBACK_POSITIVE"
	SourceDocumentExpiry   SourceType = "DOCUMENT_EXPIRY"
	SourceSafety           SourceType = "SAFETY"
)

// ErrInvalidTransition indicates a state change the machine forbids.
var ErrInvalidTransition = errors.New("invalid state transition")

// sourcePrefixes maps source types to alert ID prefixes.
var sourcePrefixes = map[SourceType]string{
	SourceOverspeeding:     "OSP",
	SourceCompliance:       "CMP",
	SourceFeedbackNegative: "FBN",
	SourceFeedbackPositive: "FBP",
	SourceDocumentExpiry:   "DOC",
	SourceSafety:           "SAF",
}

// defaultSeverities maps source types to creation-time severity.
var defaultSeverities = map[SourceType]Severity{
	SourceOverspeeding:     SeverityWarning,
	SourceCompliance:       SeverityInfo,
	SourceFeedbackNegative: SeverityWarning,
	SourceFeedbackPositive: SeverityInfo,
	SourceDocumentExpiry:   SeverityWarning,
	SourceSafety:           SeverityCritical,
}

// validTransitions lists allowed forward edges per status.
// Terminal states have no outgoing edges.
var validTransitions = map[Status][]Status{
	StatusOpen:       {StatusEscalated, StatusAutoClosed, StatusResolved},
	StatusEscalated:  {StatusAutoClosed, StatusResolved},
	StatusAutoClosed: {},
	StatusResolved:   {},
}

// StateTransition is one append-only history entry.
// Params: from/to statuses, timestamp, and trigger metadata.
// Returns: immutable transition record.
type StateTransition struct {
	From          Status    `json:"from_status"`
	To            Status    `json:"to_status"`
	At            time.Time `json:"timestamp"`
	Reason        string    `json:"reason,omitempty"`
	TriggeredBy   string    `json:"triggered_by,omitempty"`
	RuleTriggered string    `json:"rule_triggered,omitempty"`
	Notes         string    `json:"notes,omitempty"`
}

// Alert is one reported incident document.
// Params: identity, lifecycle state, typed metadata, and history.
// Returns: persisted alert for store and API layers.
type Alert struct {
	AlertID         string            `json:"alert_id"`
	SourceType      SourceType        `json:"source_type"`
	Severity        Severity          `json:"severity"`
	Status          Status            `json:"status"`
	EntityKey       string            `json:"entity_key"`
	Metadata        Metadata          `json:"metadata"`
	Timestamp       time.Time         `json:"timestamp"`
	StateHistory    []StateTransition `json:"state_history"`
	EscalatedAt     *time.Time        `json:"escalated_at,omitempty"`
	ClosedAt        *time.Time        `json:"closed_at,omitempty"`
	ResolvedAt      *time.Time        `json:"resolved_at,omitempty"`
	AutoCloseReason string            `json:"auto_close_reason,omitempty"`
	ResolvedBy      string            `json:"resolved_by,omitempty"`
	ResolutionNotes string            `json:"resolution_notes,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       *time.Time        `json:"updated_at,omitempty"`
}

// ParseSourceType validates a raw source type value.
// Params: raw string from transport or config.
// Returns: typed source or validation error.
func ParseSourceType(raw string) (SourceType, error) {
	source := SourceType(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := sourcePrefixes[source]; !ok {
		return "", fmt.Errorf("unsupported source_type %q", raw)
	}
	return source, nil
}

// ParseSeverity validates a raw severity value.
// Params: raw string from transport or config.
// Returns: typed severity or validation error.
func ParseSeverity(raw string) (Severity, error) {
	severity := Severity(strings.ToUpper(strings.TrimSpace(raw)))
	switch severity {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return severity, nil
	default:
		return "", fmt.Errorf("unsupported severity %q", raw)
	}
}

// ParseStatus validates a raw status value.
// Params: raw string from transport.
// Returns: typed status or validation error.
func ParseStatus(raw string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := validTransitions[status]; !ok {
		return "", fmt.Errorf("unsupported status %q", raw)
	}
	return status, nil
}

// IDPrefix returns the alert ID prefix for a source type.
// Params: validated source type.
// Returns: three-letter prefix.
func (s SourceType) IDPrefix() string {
	return sourcePrefixes[s]
}

// DefaultSeverity returns creation-time severity for a source type.
// Params: validated source type.
// Returns: mapped severity (INFO when unmapped).
func (s SourceType) DefaultSeverity() Severity {
	if severity, ok := defaultSeverities[s]; ok {
		return severity
	}
	return SeverityInfo
}

// Terminal reports whether the status permits no further transitions.
// Params: none.
// Returns: true for AUTO_CLOSED and RESOLVED.
func (s Status) Terminal() bool {
	return len(validTransitions[s]) == 0 && s != ""
}

// CanTransition checks one forward edge of the state machine.
// Params: target status.
// Returns: true when the edge exists.
func (s Status) CanTransition(to Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ApplyTransition mutates the alert for one validated state change.
// Params: transition record with To status and trigger metadata.
// Returns: ErrInvalidTransition when the edge is forbidden.
func (a *Alert) ApplyTransition(transition StateTransition) error {
	if transition.From != a.Status {
		return fmt.Errorf("%w: transition from %s does not match current %s",
			ErrInvalidTransition, transition.From, a.Status)
	}
	if !a.Status.CanTransition(transition.To) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, transition.To)
	}

	now := transition.At
	a.Status = transition.To
	a.StateHistory = append(a.StateHistory, transition)
	a.UpdatedAt = &now

	switch transition.To {
	case StatusEscalated:
		a.Severity = SeverityCritical
		a.EscalatedAt = &now
	case StatusAutoClosed:
		a.ClosedAt = &now
		if transition.Reason != "" {
			a.AutoCloseReason = transition.Reason
		}
	case StatusResolved:
		a.ResolvedAt = &now
		a.ResolvedBy = transition.TriggeredBy
		a.ResolutionNotes = transition.Notes
	}
	return nil
}

// Validate validates alert fields required by the engine.
// Params: alert parsed from transport or storage.
// Returns: validation error when the contract is violated.
func (a Alert) Validate() error {
	if strings.TrimSpace(a.AlertID) == "" {
		return errors.New("alert_id is required")
	}
	if _, ok := sourcePrefixes[a.SourceType]; !ok {
		return fmt.Errorf("unsupported source_type %q", a.SourceType)
	}
	if _, ok := validTransitions[a.Status]; !ok {
		return fmt.Errorf("unsupported status %q", a.Status)
	}
	if strings.TrimSpace(a.EntityKey) == "" {
		return errors.New("entity_key is required")
	}
	if a.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	return nil
}
