package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"copyforge/internal/billing"
	"copyforge/internal/core"
	"copyforge/internal/external"
	"copyforge/internal/types"
)

// PlanCatalog is the read side of the entitlement engine.
type PlanCatalog interface {
	PlanRefForTier(tier types.Tier) (string, error)
	Plans() []billing.Plan
}

// CheckoutCreator starts a hosted checkout with the billing provider.
type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, req external.CheckoutRequest) (checkoutURL, sessionID string, err error)
}

// CheckoutRequest is the body of POST /v1/billing/checkout. Redirect URLs are
// built server-side from APP_URL and never taken from the client.
type CheckoutRequest struct {
	Plan types.Tier `json:"plan" validate:"required,paid_tier"`
}

// CheckoutResponse is the success body of POST /v1/billing/checkout.
type CheckoutResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

// PlanView is one public catalog row. Price IDs stay server-side.
type PlanView struct {
	Tier      types.Tier `json:"tier"`
	Credits   int        `json:"credits"`
	Unlimited bool       `json:"unlimited"`
}

// PlanListResponse is the body of GET /v1/billing/plans.
type PlanListResponse struct {
	Data []PlanView `json:"data"`
}

// BillingHandler serves the user-initiated billing endpoints.
type BillingHandler struct {
	catalog   PlanCatalog
	accounts  AccountStore
	checkout  CheckoutCreator
	validator *core.Validator
	appURL    string
	logger    *slog.Logger
}

func NewBillingHandler(catalog PlanCatalog, accounts AccountStore, checkout CheckoutCreator, appURL string, v *core.Validator, l *slog.Logger) *BillingHandler {
	if l == nil {
		l = slog.Default()
	}
	return &BillingHandler{
		catalog:   catalog,
		accounts:  accounts,
		checkout:  checkout,
		validator: v,
		appURL:    strings.TrimRight(appURL, "/"),
		logger:    l,
	}
}

func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Get("/billing/plans", h.ListPlans)
	r.Post("/billing/checkout", h.CreateCheckout)
}

// ListPlans is public.
func (h *BillingHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans := h.catalog.Plans()
	out := make([]PlanView, 0, len(plans))
	for _, p := range plans {
		out = append(out, PlanView{Tier: p.Tier, Credits: p.Credits, Unlimited: p.Unlimited()})
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	core.JSON(w, r, http.StatusOK, PlanListResponse{Data: out})
}

// CreateCheckout starts a subscription checkout for the caller. The account
// is bootstrapped first, and the user ID rides along as client_reference_id
// and metadata so the checkout-completed webhook can find it.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := types.LoggerFromContext(ctx, h.logger)

	actor, ok := types.GetActor(ctx)
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
		return
	}

	var req CheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	req.Plan = types.Tier(strings.ToLower(strings.TrimSpace(string(req.Plan))))
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	priceID, err := h.catalog.PlanRefForTier(req.Plan)
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidRequest, "unknown plan", err))
		return
	}

	if _, err := h.accounts.EnsureAccount(ctx, actor.ID, actor.Email); err != nil {
		log.ErrorContext(ctx, "failed to bootstrap account before checkout", "error", err)
		core.Error(w, r, err)
		return
	}

	url, sessionID, err := h.checkout.CreateCheckoutSession(ctx, external.CheckoutRequest{
		UserID:     actor.ID,
		Email:      actor.Email,
		PriceID:    priceID,
		SuccessURL: h.appURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  h.appURL + "/pricing",
	})
	if err != nil {
		log.ErrorContext(ctx, "failed to create checkout session", "plan", req.Plan, "error", err)
		core.Error(w, r, err)
		return
	}

	log.InfoContext(ctx, "checkout session created", "plan", req.Plan, "session_id", sessionID)
	core.JSON(w, r, http.StatusOK, CheckoutResponse{URL: url, SessionID: sessionID})
}
