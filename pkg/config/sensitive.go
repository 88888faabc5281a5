package config

import "encoding/json"

const redacted = "[REDACTED]"

// SensitiveString holds a secret that must not show up in logs or dumps.
type SensitiveString string

// String returns a redacted representation of non-empty values.
func (s SensitiveString) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// Value returns the underlying secret.
func (s SensitiveString) Value() string {
	return string(s)
}

func (s SensitiveString) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
