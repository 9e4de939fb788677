package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

const testSecret = "whsec_live_do_not_print"

func TestSecretString_FmtRedacts(t *testing.T) {
	s := SecretString(testSecret)

	for _, verb := range []string{"%s", "%v"} {
		out := fmt.Sprintf(verb, s)
		if strings.Contains(out, testSecret) {
			t.Errorf("fmt %s leaked the secret: %q", verb, out)
		}
		if out != redactedPlaceholder {
			t.Errorf("fmt %s = %q, want %q", verb, out, redactedPlaceholder)
		}
	}
}

func TestSecretString_MarshalJSON(t *testing.T) {
	payload := struct {
		Key SecretString `json:"key"`
	}{Key: SecretString(testSecret)}

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	if strings.Contains(string(data), testSecret) {
		t.Errorf("JSON leaked the secret: %s", data)
	}
	if string(data) != `{"key":"***REDACTED***"}` {
		t.Errorf("JSON = %s", data)
	}
}

func TestSecretString_SlogRedacts(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	logger.Info("loaded", "stripe_key", SecretString(testSecret))

	if strings.Contains(buf.String(), testSecret) {
		t.Errorf("slog leaked the secret: %s", buf.String())
	}
}

func TestSecretString_Unmask(t *testing.T) {
	s := SecretString(testSecret)
	if s.Unmask() != testSecret {
		t.Errorf("Unmask() = %q", s.Unmask())
	}
	if !s.IsSet() {
		t.Error("IsSet() = false for non-empty secret")
	}
	if SecretString("").IsSet() {
		t.Error("IsSet() = true for empty secret")
	}
}
