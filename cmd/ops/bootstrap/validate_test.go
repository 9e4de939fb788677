package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakePinger struct {
	err  error
	dsns []string
}

func (f *fakePinger) Ping(_ context.Context, dsn string) error {
	f.dsns = append(f.dsns, dsn)
	return f.err
}

func newTestValidator(stripeURL string, pg, rd Pinger) *Validator {
	return &Validator{
		http:          http.DefaultClient,
		postgres:      pg,
		redis:         rd,
		stripeBaseURL: stripeURL,
	}
}

func TestValidateDatabaseURL(t *testing.T) {
	pg := &fakePinger{}
	v := newTestValidator("", pg, nil)
	ctx := context.Background()

	res := v.ValidateDatabaseURL(ctx, "  postgres://app:pw@db.internal:5432/copyforge ")
	if !res.Valid || !strings.Contains(res.Message, "db.internal") {
		t.Errorf("unexpected result %+v", res)
	}
	if len(pg.dsns) != 1 || pg.dsns[0] != "postgres://app:pw@db.internal:5432/copyforge" {
		t.Errorf("pinger saw %v", pg.dsns)
	}

	if res := v.ValidateDatabaseURL(ctx, ""); res.Valid {
		t.Error("empty DSN accepted")
	}
	if res := v.ValidateDatabaseURL(ctx, "postgres://app:pw@db.internal:notaport/x"); res.Valid {
		t.Error("malformed DSN accepted")
	}

	pg.err = errors.New("connection refused")
	if res := v.ValidateDatabaseURL(ctx, "postgres://app:pw@db.internal:5432/copyforge"); res.Valid || !strings.Contains(res.Message, "connection refused") {
		t.Errorf("expected connection failure, got %+v", res)
	}
}

func TestValidateRedisURL(t *testing.T) {
	rd := &fakePinger{}
	v := newTestValidator("", nil, rd)
	ctx := context.Background()

	res := v.ValidateRedisURL(ctx, "redis://cache.internal:6379/2")
	if !res.Valid || !strings.Contains(res.Message, "cache.internal:6379") || !strings.Contains(res.Message, "db 2") {
		t.Errorf("unexpected result %+v", res)
	}
	if res := v.ValidateRedisURL(ctx, "http://cache.internal"); res.Valid {
		t.Error("non-redis scheme accepted")
	}

	rd.err = errors.New("timeout")
	if res := v.ValidateRedisURL(ctx, "redis://cache.internal:6379"); res.Valid {
		t.Error("failed ping accepted")
	}
}

func TestValidateStripeKey(t *testing.T) {
	validKey := "sk_test_" + strings.Repeat("a", 24)
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/account" {
			http.NotFound(w, r)
			return
		}
		if gotAuth != "Bearer "+validKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":"acct_123"}`))
	}))
	defer srv.Close()

	v := newTestValidator(srv.URL, nil, nil)
	ctx := context.Background()

	res := v.ValidateStripeKey(ctx, validKey)
	if !res.Valid || !strings.Contains(res.Message, "test mode") || !strings.Contains(res.Message, "acct_123") {
		t.Errorf("unexpected result %+v", res)
	}

	res = v.ValidateStripeKey(ctx, "sk_live_"+strings.Repeat("b", 24))
	if res.Valid || !strings.Contains(res.Message, "401") {
		t.Errorf("expected 401 rejection, got %+v", res)
	}

	gotAuth = ""
	if res := v.ValidateStripeKey(ctx, "pk_test_abc"); res.Valid {
		t.Error("publishable key accepted")
	}
	if gotAuth != "" {
		t.Error("malformed key should not reach the API")
	}
}

func TestValidateStripeKey_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(strings.Repeat("x", 500)))
	}))
	defer srv.Close()

	res := newTestValidator(srv.URL, nil, nil).ValidateStripeKey(context.Background(), "sk_test_"+strings.Repeat("a", 24))
	if res.Valid || !strings.Contains(res.Message, "503") || !strings.HasSuffix(res.Message, "...") {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestFormatValidators(t *testing.T) {
	v := NewValidator()
	ctx := context.Background()

	tests := []struct {
		name  string
		fn    func(context.Context, string) ValidationResult
		input string
		valid bool
	}{
		{"webhook secret", v.ValidateWebhookSecret, "whsec_" + strings.Repeat("A", 32), true},
		{"webhook secret wrong prefix", v.ValidateWebhookSecret, "sk_test_" + strings.Repeat("A", 32), false},
		{"price", v.ValidatePriceID, "price_1PqRsTuVwX", true},
		{"price short", v.ValidatePriceID, "price_1", false},
		{"price product id", v.ValidatePriceID, "prod_1PqRsTuVwX", false},
		{"gemini", v.ValidateGeminiKey, "AIza" + strings.Repeat("k", 35), true},
		{"gemini short", v.ValidateGeminiKey, "AIza123", false},
		{"gemini spaces", v.ValidateGeminiKey, "AIza " + strings.Repeat("k", 35), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(ctx, tt.input); got.Valid != tt.valid {
				t.Errorf("valid = %v, want %v (%s)", got.Valid, tt.valid, got.Message)
			}
		})
	}
}
