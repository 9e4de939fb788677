// Package gate authorizes generation calls by reserving one credit up front.
package gate

import (
	"context"
	"log/slog"

	"copyforge/internal/types"
)

// Ledger is the slice of the ledger store the gate needs.
type Ledger interface {
	Reserve(ctx context.Context, accountID string) (types.Reservation, error)
	Refund(ctx context.Context, res types.Reservation) (bool, error)
}

// Metrics receives one label per reservation attempt.
type Metrics interface {
	RecordReservation(outcome types.ReservationOutcome)
}

type noopMetrics struct{}

func (noopMetrics) RecordReservation(types.ReservationOutcome) {}

// Gate is safe for concurrent use. It holds no state of its own; every
// decision is one ledger call.
type Gate struct {
	ledger          Ledger
	refundOnFailure bool
	metrics         Metrics
	logger          *slog.Logger
}

type Option func(*Gate)

// WithRefundOnFailure enables returning the credit when generation fails.
// Off by default: a reservation consumes the credit whether or not the
// downstream call succeeds.
func WithRefundOnFailure(enabled bool) Option {
	return func(g *Gate) { g.refundOnFailure = enabled }
}

func WithMetrics(m Metrics) Option {
	return func(g *Gate) {
		if m != nil {
			g.metrics = m
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

func New(ledger Ledger, opts ...Option) *Gate {
	g := &Gate{
		ledger:  ledger,
		metrics: noopMetrics{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Reserve debits one credit for userID. It fails with not_found_account when
// no ledger record exists and credits_insufficient when the balance is zero.
// The debit is a single store operation; no lock is held afterwards.
func (g *Gate) Reserve(ctx context.Context, userID string) (types.Reservation, error) {
	res, err := g.ledger.Reserve(ctx, userID)
	if err != nil {
		g.metrics.RecordReservation(outcomeFor(err))
		return types.Reservation{}, err
	}

	if res.Unlimited {
		g.metrics.RecordReservation(types.ReservationUnlimited)
	} else {
		g.metrics.RecordReservation(types.ReservationGranted)
	}
	g.logger.DebugContext(ctx, "credit reserved",
		"user_id", userID,
		"reservation", res.Token,
		"credits_remaining", res.CreditsRemaining,
	)
	return res, nil
}

// Settle closes a reservation once the generation call has returned. With
// refunds disabled, or when genErr is nil, it does nothing. A refund failure is
// logged and swallowed: the caller is already on its error path.
func (g *Gate) Settle(ctx context.Context, res types.Reservation, genErr error) bool {
	if genErr == nil || !g.refundOnFailure || res.Unlimited {
		return false
	}

	refunded, err := g.ledger.Refund(ctx, res)
	if err != nil {
		g.logger.ErrorContext(ctx, "credit refund failed",
			"user_id", res.AccountID,
			"reservation", res.Token,
			"error", err,
		)
		return false
	}
	if refunded {
		g.metrics.RecordReservation(types.ReservationRefunded)
		g.logger.InfoContext(ctx, "credit refunded after failed generation",
			"user_id", res.AccountID,
			"reservation", res.Token,
		)
	} else {
		g.logger.InfoContext(ctx, "refund skipped, billing state changed since reservation",
			"user_id", res.AccountID,
			"reservation", res.Token,
		)
	}
	return refunded
}

func outcomeFor(err error) types.ReservationOutcome {
	switch types.CodeOf(err) {
	case types.ErrCodeCreditsInsufficient:
		return types.ReservationInsufficient
	case types.ErrCodeNotFoundAccount:
		return types.ReservationNotFound
	default:
		return types.ReservationError
	}
}
