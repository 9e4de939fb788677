package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5"
)

// ValidationResult is a pass/fail verdict plus a line for the operator.
type ValidationResult struct {
	Valid   bool
	Message string
}

func invalid(format string, args ...any) ValidationResult {
	return ValidationResult{Valid: false, Message: fmt.Sprintf(format, args...)}
}

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Pinger opens a connection to a DSN, proves it works and closes it again.
type Pinger interface {
	Ping(ctx context.Context, dsn string) error
}

type postgresPinger struct{}

func (postgresPinger) Ping(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	return conn.Ping(ctx)
}

type redisPinger struct{}

func (redisPinger) Ping(ctx context.Context, dsn string) error {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return err
	}
	client := redis.NewClient(opts)
	defer client.Close()
	return client.Ping(ctx).Err()
}

// Validator runs the checks attached to inventory steps. Network probes go
// through injected clients so tests never leave the process.
type Validator struct {
	http          HTTPClient
	postgres      Pinger
	redis         Pinger
	stripeBaseURL string
}

func NewValidator() *Validator {
	return &Validator{
		http:          &http.Client{Timeout: 10 * time.Second},
		postgres:      postgresPinger{},
		redis:         redisPinger{},
		stripeBaseURL: "https://api.stripe.com",
	}
}

const probeTimeout = 15 * time.Second

var (
	stripeKeyPattern     = regexp.MustCompile(`^(sk|rk)_(test|live)_[0-9a-zA-Z]{24,}$`)
	webhookSecretPattern = regexp.MustCompile(`^whsec_[0-9a-zA-Z+/=]{24,}$`)
	pricePattern         = regexp.MustCompile(`^price_[0-9a-zA-Z]{8,}$`)
	geminiKeyPattern     = regexp.MustCompile(`^[0-9A-Za-z_-]{30,}$`)
)

// ValidateDatabaseURL parses the DSN with pgx and connects once.
func (v *Validator) ValidateDatabaseURL(ctx context.Context, dsn string) ValidationResult {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return invalid("database URL must not be empty")
	}
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return invalid("not a valid Postgres connection string: %v", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := v.postgres.Ping(probeCtx, dsn); err != nil {
		return invalid("connection failed: %v", err)
	}
	return ValidationResult{Valid: true, Message: fmt.Sprintf("database reachable (host=%s, db=%s)", cfg.Host, cfg.Database)}
}

// ValidateRedisURL parses the URL the way the API does and pings once.
func (v *Validator) ValidateRedisURL(ctx context.Context, raw string) ValidationResult {
	raw = strings.TrimSpace(raw)
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return invalid("not a valid redis:// URL: %v", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := v.redis.Ping(probeCtx, raw); err != nil {
		return invalid("redis ping failed: %v", err)
	}
	return ValidationResult{Valid: true, Message: fmt.Sprintf("redis reachable (%s, db %d)", opts.Addr, opts.DB)}
}

// ValidateStripeKey checks the key format, then calls GET /v1/account, which
// has no side effects.
func (v *Validator) ValidateStripeKey(ctx context.Context, key string) ValidationResult {
	key = strings.TrimSpace(key)
	if !stripeKeyPattern.MatchString(key) {
		return invalid("Stripe key must look like sk_test_... or sk_live_...")
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, v.stripeBaseURL+"/v1/account", nil)
	if err != nil {
		return invalid("building request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("User-Agent", "copyforge-bootstrap/1.0")

	resp, err := v.http.Do(req)
	if err != nil {
		return invalid("Stripe API probe failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return invalid("Stripe rejected the key (401): invalid or revoked")
	case resp.StatusCode != http.StatusOK:
		return invalid("Stripe API returned HTTP %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var account struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(body, &account)

	mode := "test"
	if strings.Contains(key, "_live_") {
		mode = "live"
	}
	msg := fmt.Sprintf("Stripe key verified [%s mode]", mode)
	if account.ID != "" {
		msg += " account " + account.ID
	}
	return ValidationResult{Valid: true, Message: msg}
}

// ValidateWebhookSecret is format only. The secret can only be proven by a
// signed delivery.
func (v *Validator) ValidateWebhookSecret(_ context.Context, secret string) ValidationResult {
	if !webhookSecretPattern.MatchString(strings.TrimSpace(secret)) {
		return invalid("webhook signing secret must start with whsec_")
	}
	return ValidationResult{Valid: true, Message: "webhook secret format ok"}
}

// ValidatePriceID is format only. Prices are checked again at runtime when
// the catalog resolves a subscription.
func (v *Validator) ValidatePriceID(_ context.Context, id string) ValidationResult {
	id = strings.TrimSpace(id)
	if !pricePattern.MatchString(id) {
		return invalid("price ID must look like price_... (got %q)", id)
	}
	return ValidationResult{Valid: true, Message: "price ID format ok (" + id + ")"}
}

func (v *Validator) ValidateGeminiKey(_ context.Context, key string) ValidationResult {
	key = strings.TrimSpace(key)
	if !geminiKeyPattern.MatchString(key) {
		return invalid("Gemini API key looks malformed (%d chars)", len(key))
	}
	return ValidationResult{Valid: true, Message: fmt.Sprintf("Gemini key accepted (%d chars)", len(key))}
}

func truncate(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n]) + "..."
}
