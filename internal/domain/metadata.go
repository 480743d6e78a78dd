package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// MetaValue stores one typed metadata value.
// Params: Type selects one payload among N/S/B.
// Returns: strict typed value for condition evaluation.
type MetaValue struct {
	Type string   `json:"t"`
	N    *float64 `json:"n,omitempty"`
	S    *string  `json:"s,omitempty"`
	B    *bool    `json:"b,omitempty"`
}

// Metadata is the typed extension bag attached to an alert.
// Params: open key set with a closed value-kind set.
// Returns: domain facts readable by rule conditions.
type Metadata map[string]MetaValue

// Number wraps a float into a metadata value.
// Params: numeric payload.
// Returns: typed value with t=n.
func Number(v float64) MetaValue {
	return MetaValue{Type: "n", N: &v}
}

// String wraps a string into a metadata value.
// Params: string payload.
// Returns: typed value with t=s.
func String(v string) MetaValue {
	return MetaValue{Type: "s", S: &v}
}

// Bool wraps a bool into a metadata value.
// Params: boolean payload.
// Returns: typed value with t=b.
func Bool(v bool) MetaValue {
	return MetaValue{Type: "b", B: &v}
}

// Validate validates the typed value contract.
// Params: explicit type marker and one value payload.
// Returns: validation error when value is inconsistent.
func (v MetaValue) Validate() error {
	switch v.Type {
	case "n":
		if v.N == nil {
			return errors.New("n value is required for t=n")
		}
		if v.S != nil || v.B != nil {
			return errors.New("only n must be set for t=n")
		}
	case "s":
		if v.S == nil {
			return errors.New("s value is required for t=s")
		}
		if v.N != nil || v.B != nil {
			return errors.New("only s must be set for t=s")
		}
	case "b":
		if v.B == nil {
			return errors.New("b value is required for t=b")
		}
		if v.N != nil || v.S != nil {
			return errors.New("only b must be set for t=b")
		}
	default:
		return fmt.Errorf("unsupported value type %q", v.Type)
	}
	return nil
}

// Truthy reports whether the value counts as satisfied for auto-close
// predicates: true booleans, non-zero numbers, non-empty strings.
// Params: none.
// Returns: truthiness of the payload.
func (v MetaValue) Truthy() bool {
	switch v.Type {
	case "b":
		return v.B != nil && *v.B
	case "n":
		return v.N != nil && *v.N != 0
	case "s":
		return v.S != nil && *v.S != ""
	default:
		return false
	}
}

// Format renders the payload for reasons and API output.
// Params: none.
// Returns: compact string representation.
func (v MetaValue) Format() string {
	switch v.Type {
	case "n":
		if v.N == nil {
			return ""
		}
		return strconv.FormatFloat(*v.N, 'f', -1, 64)
	case "s":
		if v.S == nil {
			return ""
		}
		return *v.S
	case "b":
		if v.B == nil {
			return ""
		}
		return strconv.FormatBool(*v.B)
	default:
		return ""
	}
}

// Validate validates every value in the bag.
// Params: none.
// Returns: first field validation error.
func (m Metadata) Validate() error {
	for key, value := range m {
		if err := value.Validate(); err != nil {
			return fmt.Errorf("metadata[%s]: %w", key, err)
		}
	}
	return nil
}

// Truthy reports truthiness of one metadata field.
// Params: field key.
// Returns: false when the key is absent.
func (m Metadata) Truthy(key string) bool {
	value, ok := m[key]
	return ok && value.Truthy()
}

// StringValue reads one string field.
// Params: field key.
// Returns: payload and presence flag (false for non-string values).
func (m Metadata) StringValue(key string) (string, bool) {
	value, ok := m[key]
	if !ok || value.Type != "s" || value.S == nil {
		return "", false
	}
	return *value.S, true
}

// NumberValue reads one numeric field.
// Params: field key.
// Returns: payload and presence flag (false for non-numeric values).
func (m Metadata) NumberValue(key string) (float64, bool) {
	value, ok := m[key]
	if !ok || value.Type != "n" || value.N == nil {
		return 0, false
	}
	return *value.N, true
}

// Clone duplicates the bag for detached snapshots.
// Params: none.
// Returns: copied map (nil stays nil).
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for key, value := range m {
		out[key] = value
	}
	return out
}
