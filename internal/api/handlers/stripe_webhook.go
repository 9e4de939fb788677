package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"copyforge/internal/core"
	"copyforge/internal/external"
	"copyforge/internal/types"
)

// maxWebhookBodySize caps Stripe payloads, which are a few KB in practice.
const maxWebhookBodySize = 64 * 1024

// BillingReconciler applies a verified billing event to the ledger.
type BillingReconciler interface {
	Reconcile(ctx context.Context, ev types.BillingEvent) (types.ReconcileOutcome, error)
}

// WebhookAck is the body returned to Stripe once a delivery is accepted.
type WebhookAck struct {
	Received bool                   `json:"received"`
	Outcome  types.ReconcileOutcome `json:"outcome,omitempty"`
}

// StripeWebhookHandler receives Stripe events. It sits outside bearer auth
// and authenticates each delivery by its Stripe-Signature header.
type StripeWebhookHandler struct {
	parser     external.WebhookParser
	reconciler BillingReconciler
	logger     *slog.Logger
}

func NewStripeWebhookHandler(parser external.WebhookParser, reconciler BillingReconciler, logger *slog.Logger) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{parser: parser, reconciler: reconciler, logger: logger}
}

func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle answers 400 when the signature or payload is bad and 200 for every
// verified delivery, whatever the reconciliation outcome. Gaps and failures
// are logged and reported by the reconciler; a non-2xx here would only make
// Stripe retry an event that cannot succeed on its own.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := types.LoggerFromContext(ctx, h.logger)

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		log.WarnContext(ctx, "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeWebhookPayloadInvalid, "failed to read request body", err))
		return
	}

	ev, err := h.parser.Parse(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if types.CodeOf(err) == types.ErrCodeWebhookSignatureInvalid {
			log.WarnContext(ctx, "rejected webhook with invalid signature",
				"remote_addr", r.RemoteAddr,
				"error", err,
			)
		} else {
			log.WarnContext(ctx, "rejected unparsable webhook payload", "error", err)
		}
		core.Error(w, r, err)
		return
	}

	log = log.With("event_id", ev.ID, "event_type", ev.Type)
	outcome, err := h.reconciler.Reconcile(types.WithLogger(ctx, log), ev)
	if err != nil {
		log.ErrorContext(ctx, "billing event not applied, acknowledging anyway", "error", err)
	}

	core.JSON(w, r, http.StatusOK, WebhookAck{Received: true, Outcome: outcome})
}
