package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"copyforge/internal/store/memory"
)

type recordingPurger struct {
	cutoffs []time.Time
	deleted int64
	err     error
}

func (p *recordingPurger) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	p.cutoffs = append(p.cutoffs, cutoff)
	return p.deleted, p.err
}

func testHandler(p Purger, now time.Time) *Handler {
	return &Handler{
		Purger:    p,
		Retention: 30 * 24 * time.Hour,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       func() time.Time { return now },
	}
}

func TestHandle_UsesRetentionCutoff(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	p := &recordingPurger{deleted: 7}

	res, err := testHandler(p, now).Handle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	if len(p.cutoffs) != 1 || !p.cutoffs[0].Equal(want) {
		t.Errorf("expected cutoff %v, got %v", want, p.cutoffs)
	}
	if res.Deleted != 7 || !res.Cutoff.Equal(want) {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestHandle_PropagatesErrors(t *testing.T) {
	p := &recordingPurger{err: errors.New("connection reset")}

	_, err := testHandler(p, time.Now()).Handle(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestHandle_PurgesOnlyExpiredMarkers(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	if _, err := store.Claim(ctx, "evt_old", "checkout.session.completed"); err != nil {
		t.Fatal(err)
	}

	// Markers were claimed "now"; a janitor running 31 days later removes them,
	// one running tomorrow does not.
	res, err := testHandler(store, time.Now().Add(24*time.Hour)).Handle(ctx)
	if err != nil || res.Deleted != 0 {
		t.Fatalf("expected nothing purged yet, got %+v %v", res, err)
	}
	res, err = testHandler(store, time.Now().Add(31*24*time.Hour)).Handle(ctx)
	if err != nil || res.Deleted != 1 {
		t.Fatalf("expected one marker purged, got %+v %v", res, err)
	}

	claimed, err := store.Claim(ctx, "evt_old", "checkout.session.completed")
	if err != nil || !claimed {
		t.Errorf("purged marker should be claimable again, got %v %v", claimed, err)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/copyforge")
	t.Setenv("BILLING_EVENT_RETENTION", "240h")
	t.Setenv("JANITOR_SCHEDULE", "@hourly")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Retention != 240*time.Hour || cfg.Janitor.Schedule != "@hourly" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Database.URL.Unmask() != "postgres://localhost:5432/copyforge" {
		t.Error("database url not read")
	}

	t.Setenv("BILLING_EVENT_RETENTION", "24h")
	if _, err := loadConfig(); err == nil {
		t.Error("expected a retention shorter than the redelivery window to be rejected")
	}
}
