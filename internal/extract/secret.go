package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// secretPattern matches a whole-value placeholder such as {{secret:ACME_TOKEN}}.
var secretPattern = regexp.MustCompile(`^\{\{\s*secret:([A-Za-z0-9_.\-]+)\s*\}\}$`)

// Value is a credential field: either a literal or a reference to a named
// secret resolved at extraction time.
type Value struct {
	Literal string
	Secret  string
}

// IsSecret reports whether v references a secret.
func (v Value) IsSecret() bool {
	return v.Secret != ""
}

// IsZero reports whether v carries neither a literal nor a reference.
func (v Value) IsZero() bool {
	return v.Literal == "" && v.Secret == ""
}

// UnmarshalJSON parses a JSON string, recognising secret placeholders.
func (v *Value) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("credential must be a string: %w", err)
	}
	if m := secretPattern.FindStringSubmatch(s); m != nil {
		*v = Value{Secret: m[1]}
		return nil
	}
	*v = Value{Literal: s}
	return nil
}

// MarshalJSON renders the placeholder form for secrets so they round-trip.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsSecret() {
		return json.Marshal("{{secret:" + v.Secret + "}}")
	}
	return json.Marshal(v.Literal)
}
