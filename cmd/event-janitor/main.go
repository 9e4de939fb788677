// Package main is the entry point for the event janitor.
//
// The janitor deletes processed billing-event markers that are older than the
// retention window. Retention must outlive the provider's redelivery window,
// otherwise a late redelivery could be applied twice. Markers kept in Redis
// expire on their own and need no janitor.
//
// In AWS Lambda the handler runs once per EventBridge invocation. Elsewhere a
// cron scheduler runs it on JANITOR_SCHEDULE until SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"

	"copyforge/internal/config"
	"copyforge/internal/db"
)

// janitorConfig is the subset of the service configuration the janitor reads.
type janitorConfig struct {
	LogLevel  string        `envconfig:"LOG_LEVEL" default:"info"`
	Retention time.Duration `envconfig:"BILLING_EVENT_RETENTION" default:"720h"`
	Database  config.DatabaseConfig
	Janitor   config.JanitorConfig
}

// minRetention guards against a misconfigured window that would let Stripe
// redeliveries through. Stripe retries for up to three days.
const minRetention = 72 * time.Hour

// Purger deletes processed-event markers older than cutoff.
type Purger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Result is returned to the Lambda runtime and logged locally.
type Result struct {
	Deleted int64     `json:"deleted"`
	Cutoff  time.Time `json:"cutoff"`
}

type Handler struct {
	Purger    Purger
	Retention time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
}

// Handle runs one purge pass.
func (h *Handler) Handle(ctx context.Context) (Result, error) {
	cutoff := h.Now().UTC().Add(-h.Retention)
	start := time.Now()

	deleted, err := h.Purger.PurgeBefore(ctx, cutoff)
	if err != nil {
		h.Logger.ErrorContext(ctx, "event purge failed", "cutoff", cutoff, "error", err)
		return Result{Cutoff: cutoff}, fmt.Errorf("purging processed events: %w", err)
	}

	h.Logger.InfoContext(ctx, "processed events purged",
		"deleted", deleted,
		"cutoff", cutoff,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return Result{Deleted: deleted, Cutoff: cutoff}, nil
}

func loadConfig() (*janitorConfig, error) {
	ssm := config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))
	if err := config.ResolveSecrets(ssm); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}

	var cfg janitorConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	if !cfg.Database.URL.IsSet() {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Retention < minRetention {
		return nil, fmt.Errorf("BILLING_EVENT_RETENTION %s is shorter than %s", cfg.Retention, minRetention)
	}
	return &cfg, nil
}

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if err := run(logger, level); err != nil {
		logger.Error("event janitor failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, level *slog.LevelVar) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	handler := &Handler{
		Purger:    db.NewProcessedEventRepo(pool),
		Retention: cfg.Retention,
		Logger:    logger,
		Now:       time.Now,
	}

	if isLambdaEnvironment() {
		logger.Info("event janitor initialized", "retention", cfg.Retention.String())
		lambda.Start(handler.Handle)
		return nil
	}
	return runScheduled(ctx, handler, cfg.Janitor.Schedule, logger)
}

// runScheduled runs the handler on schedule until ctx is cancelled. A pass
// that is still running when the next tick fires is not started twice.
func runScheduled(ctx context.Context, h *Handler, schedule string, logger *slog.Logger) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() {
		_, _ = h.Handle(ctx)
	}); err != nil {
		return fmt.Errorf("invalid JANITOR_SCHEDULE %q: %w", schedule, err)
	}

	c.Start()
	logger.Info("event janitor started", "schedule", schedule, "retention", h.Retention.String())

	<-ctx.Done()
	logger.Info("shutting down")
	<-c.Stop().Done()
	return nil
}

func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	return hasRuntimeAPI
}
