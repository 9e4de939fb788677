package types

import "log/slog"

const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds a credential (API key, webhook secret, DSN) that must
// never reach logs or JSON output. fmt and encoding/json both see the
// redacted placeholder; Unmask returns the real value.
type SecretString string

// String implements fmt.Stringer with the redacted placeholder.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON always encodes the redacted placeholder.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// LogValue keeps slog from printing the raw value.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(redactedPlaceholder)
}

// Unmask returns the plaintext. Call it only at the point of use, e.g. when
// building an Authorization header or opening a connection.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsSet reports whether a value is present.
func (s SecretString) IsSet() bool {
	return s != ""
}
