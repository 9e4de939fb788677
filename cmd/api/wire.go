package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"copyforge/internal/api/handlers"
	"copyforge/internal/auth"
	"copyforge/internal/billing"
	"copyforge/internal/config"
	"copyforge/internal/core"
	"copyforge/internal/db"
	"copyforge/internal/dedup"
	"copyforge/internal/external"
	"copyforge/internal/gate"
	"copyforge/internal/generation"
	"copyforge/internal/queue"
	"copyforge/internal/ratelimit"
	"copyforge/internal/reconciler"
	"copyforge/internal/store/memory"
	"copyforge/internal/telemetry"
)

// ledger is everything the API needs from the account store.
type ledger interface {
	gate.Ledger
	reconciler.Ledger
	handlers.AccountStore
}

type history interface {
	handlers.HistoryRecorder
	handlers.HistoryReader
}

// stores groups the persistence backends selected by configuration.
type stores struct {
	ledger  ledger
	events  reconciler.EventLog
	history history
	probes  []core.HealthProbe
}

// buildServer wires every dependency and mounts the routes. Resources that
// need closing are registered on the server.
func buildServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}

	st, err := openStores(ctx, cfg, srv, logger)
	if err != nil {
		shutdownQuietly(srv)
		return nil, err
	}
	srv.HealthProbes = append(srv.HealthProbes, st.probes...)

	var awsCfg *aws.Config
	if cfg.AWS.GapQueueURL != "" || cfg.Observability.MetricsBackend == "cloudwatch" {
		c, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			shutdownQuietly(srv)
			return nil, fmt.Errorf("loading AWS SDK config: %w", err)
		}
		awsCfg = &c
	}

	metrics := newMetrics(cfg, awsCfg, srv, logger)
	srv.Metrics = metrics

	authenticator, err := auth.NewTokenAuthenticator(ctx, cfg.Auth)
	if err != nil {
		shutdownQuietly(srv)
		return nil, fmt.Errorf("creating authenticator: %w", err)
	}
	srv.Authenticator = authenticator

	catalog, err := billing.NewCatalog(billing.PriceIDs{
		Starter:  cfg.Billing.PriceStarter,
		Pro:      cfg.Billing.PricePro,
		Business: cfg.Billing.PriceBusiness,
	})
	if err != nil {
		shutdownQuietly(srv)
		return nil, fmt.Errorf("building plan catalog: %w", err)
	}

	stripeClient := external.NewStripeClient(nil, external.StripeClientConfig{
		SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
		BaseURL:   cfg.Billing.StripeAPIBaseURL,
		Logger:    logger,
	})
	plans := external.NewCachedPlanResolver(stripeClient, cfg.Billing.PlanCacheSize, cfg.Billing.PlanCacheTTL)

	rcOpts := []reconciler.Option{reconciler.WithMetrics(metrics), reconciler.WithLogger(logger)}
	if cfg.AWS.GapQueueURL != "" {
		sqsClient := sqs.NewFromConfig(*awsCfg, func(o *sqs.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		rcOpts = append(rcOpts, reconciler.WithGapReporter(queue.NewSQSGapReporter(sqsClient, cfg.AWS.GapQueueURL, logger)))
	}
	rc := reconciler.New(st.ledger, st.events, plans, catalog, rcOpts...)

	creditGate := gate.New(st.ledger,
		gate.WithRefundOnFailure(cfg.Generation.RefundOnFailure),
		gate.WithMetrics(metrics),
		gate.WithLogger(logger),
	)

	generator, err := generation.New(ctx, cfg.Generation, logger)
	if err != nil {
		shutdownQuietly(srv)
		return nil, fmt.Errorf("creating generator: %w", err)
	}
	if g, ok := generator.(*generation.GeminiGenerator); ok {
		srv.OnShutdown(g.Close)
	}

	var recorder handlers.HistoryRecorder
	var reader handlers.HistoryReader
	if cfg.Generation.HistoryEnabled {
		recorder, reader = st.history, st.history
	}

	generateHandler := handlers.NewGenerateHandler(creditGate, generator, recorder, srv.Validator, logger)
	accountHandler := handlers.NewAccountHandler(st.ledger, reader, logger)
	billingHandler := handlers.NewBillingHandler(catalog, st.ledger, stripeClient, cfg.Server.AppURL, srv.Validator, logger)
	webhookHandler := handlers.NewStripeWebhookHandler(
		external.NewStripeVerifier(cfg.Billing.StripeWebhookSecret.Unmask()), rc, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		generateHandler.RegisterRoutes,
		accountHandler.RegisterRoutes,
		billingHandler.RegisterRoutes,
		webhookHandler.RegisterRoutes,
	)

	if cfg.RateLimit.GeneratePerMinute > 0 {
		srv.RateLimits = map[string]core.RateLimitRule{
			"POST /v1/generate": {Limit: cfg.RateLimit.GeneratePerMinute, Window: time.Minute},
		}
	}

	srv.MountRoutes()
	return srv, nil
}

// openStores selects the ledger backend. With Redis configured the
// processed-event log and rate limiter live there; otherwise the event log
// stays in Postgres and rate limiting is off.
func openStores(ctx context.Context, cfg *config.Config, srv *core.Server, logger *slog.Logger) (*stores, error) {
	var st stores

	switch cfg.Database.Backend {
	case "memory":
		logger.Warn("using the in-memory ledger; balances are lost on restart")
		mem := memory.New()
		st.ledger, st.events, st.history = mem, mem, mem

	default:
		pool, err := db.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		srv.OnShutdown(func() error { pool.Close(); return nil })

		if cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx, pool); err != nil {
				return nil, fmt.Errorf("running migrations: %w", err)
			}
		}
		st.ledger = db.NewAccountRepo(pool)
		st.events = db.NewProcessedEventRepo(pool)
		st.history = db.NewGenerationHistoryRepo(pool)
		st.probes = append(st.probes, core.NewPingProbe("database", pool.Ping))
	}

	if cfg.Redis.Enabled() {
		client, err := dedup.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		srv.OnShutdown(client.Close)

		events := dedup.NewRedisEventLog(client, cfg.Billing.EventRetention)
		st.events = events
		srv.RateLimitStore = ratelimit.NewRedisStore(client)
		st.probes = append(st.probes, core.NewPingProbe("redis", events.Ping))
	}

	return &st, nil
}

// newMetrics picks the collector shared by the chassis, the gate and the
// reconciler.
func newMetrics(cfg *config.Config, awsCfg *aws.Config, srv *core.Server, logger *slog.Logger) telemetry.Collector {
	switch cfg.Observability.MetricsBackend {
	case "prometheus":
		p := telemetry.NewPrometheus(cfg.Observability.MetricNamespace)
		srv.MetricsHandler = p.Handler()
		return p
	case "cloudwatch":
		cw := cloudwatch.NewFromConfig(*awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		return telemetry.NewCloudWatch(cw, cfg.Observability.MetricNamespace, logger)
	default:
		return telemetry.Nop{}
	}
}

func shutdownQuietly(srv *core.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
