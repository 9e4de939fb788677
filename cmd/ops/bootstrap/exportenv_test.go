package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joho/godotenv"
)

func TestExportEnvFile(t *testing.T) {
	fake := newFakeSSM()
	fake.params["/prod/copyforge/database/url"] = storedParam{value: "postgres://secret"}
	fake.params["/prod/copyforge/billing/stripe_secret_key"] = storedParam{value: "sk_live_secret"}
	fake.params["/prod/copyforge/billing/price_pro"] = storedParam{value: "price_pro123"}
	params := NewParamStore(fake, "prod", discardLogger())

	path := filepath.Join(t.TempDir(), "nested", ".env")
	if err := ExportEnvFile(context.Background(), path, "prod", params, Inventory(NewValidator())); err != nil {
		t.Fatalf("ExportEnvFile: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading export: %v", err)
	}
	if strings.Contains(string(raw), "postgres://secret") || strings.Contains(string(raw), "sk_live_secret") {
		t.Errorf("secret values leaked into the dotenv file:\n%s", raw)
	}

	got, err := godotenv.Read(path)
	if err != nil {
		t.Fatalf("parsing export: %v", err)
	}
	want := map[string]string{
		"APP_ENV":                     "prod",
		"DATABASE_URL_SSM_PARAM":      "/prod/copyforge/database/url",
		"STRIPE_SECRET_KEY_SSM_PARAM": "/prod/copyforge/billing/stripe_secret_key",
		"STRIPE_PRICE_PRO":            "price_pro123",
	}
	if len(got) != len(want) {
		t.Errorf("exported %d vars, want %d: %v", len(got), len(want), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}
}
