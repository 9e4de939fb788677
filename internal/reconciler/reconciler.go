// Package reconciler applies billing provider events to the credit ledger.
//
// Every event kind maps to an absolute write (a grant sets the balance, it
// never adds to it), every write is conditional on the provider timestamp
// being at least as new as the last one applied to the account, and every
// event ID is claimed in an event log before the write. Replays are therefore
// absorbed twice over: the claim reports a duplicate, and a replay that slips
// past an expired marker re-sets the same grant.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"copyforge/internal/billing"
	"copyforge/internal/types"
)

// Ledger is the slice of the ledger store the reconciler writes through.
type Ledger interface {
	FindBySubscriptionRef(ctx context.Context, subscriptionRef string) (*types.Account, error)
	ActivateSubscription(ctx context.Context, accountID string, grant types.Grant, refs types.BillingRefs, eventAt time.Time) (types.ApplyResult, error)
	ResetGrant(ctx context.Context, subscriptionRef string, grant types.Grant, eventAt time.Time) (types.ApplyResult, error)
	CancelSubscription(ctx context.Context, subscriptionRef string, grant types.Grant, eventAt time.Time) (types.ApplyResult, error)
}

// EventLog records processed event IDs. Claim returns false when the ID is
// already held.
type EventLog interface {
	Claim(ctx context.Context, eventID, eventType string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// PlanResolver resolves a subscription to its current plan reference.
type PlanResolver interface {
	PlanForSubscription(ctx context.Context, subscriptionRef string) (string, error)
}

// Entitlements maps a plan reference to its grant.
type Entitlements interface {
	GrantForPlan(planRef string) (types.Grant, error)
}

// GapReporter forwards reconciliation gaps for operator follow-up.
type GapReporter interface {
	ReportGap(ctx context.Context, gap types.ReconciliationGap) error
}

// Metrics receives one label pair per event.
type Metrics interface {
	RecordBillingEvent(kind types.BillingEventKind, outcome types.ReconcileOutcome)
}

type noopMetrics struct{}

func (noopMetrics) RecordBillingEvent(types.BillingEventKind, types.ReconcileOutcome) {}

type Reconciler struct {
	ledger  Ledger
	events  EventLog
	plans   PlanResolver
	catalog Entitlements
	gaps    GapReporter
	metrics Metrics
	logger  *slog.Logger
}

type Option func(*Reconciler)

func WithGapReporter(g GapReporter) Option {
	return func(r *Reconciler) { r.gaps = g }
}

func WithMetrics(m Metrics) Option {
	return func(r *Reconciler) {
		if m != nil {
			r.metrics = m
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

func New(ledger Ledger, events EventLog, plans PlanResolver, catalog Entitlements, opts ...Option) *Reconciler {
	r := &Reconciler{
		ledger:  ledger,
		events:  events,
		plans:   plans,
		catalog: catalog,
		metrics: noopMetrics{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// gapError carries a reconciliation gap out of apply. It is an outcome, not a
// failure: the event is acknowledged and nothing is written.
type gapError struct {
	reason types.GapReason
	cause  error
}

func (e *gapError) Error() string {
	if e.cause != nil {
		return string(e.reason) + ": " + e.cause.Error()
	}
	return string(e.reason)
}

func gap(reason types.GapReason, cause error) error {
	return &gapError{reason: reason, cause: cause}
}

// Reconcile applies ev to the ledger. It returns a non-nil error only for the
// error outcome (store or event log failure); every other outcome means the
// event should be acknowledged to the provider.
func (r *Reconciler) Reconcile(ctx context.Context, ev types.BillingEvent) (types.ReconcileOutcome, error) {
	log := r.logger.With("event_id", ev.ID, "event_type", ev.Type)

	if ev.Kind == types.BillingEventIgnored || ev.Kind == "" {
		log.DebugContext(ctx, "billing event ignored")
		r.metrics.RecordBillingEvent(types.BillingEventIgnored, types.OutcomeIgnored)
		return types.OutcomeIgnored, nil
	}

	claimed, err := r.events.Claim(ctx, ev.ID, ev.Type)
	if err != nil {
		log.ErrorContext(ctx, "failed to claim billing event", "error", err)
		r.metrics.RecordBillingEvent(ev.Kind, types.OutcomeError)
		return types.OutcomeError, err
	}
	if !claimed {
		log.InfoContext(ctx, "duplicate billing event absorbed")
		r.metrics.RecordBillingEvent(ev.Kind, types.OutcomeDuplicate)
		return types.OutcomeDuplicate, nil
	}

	outcome, err := r.apply(ctx, ev)

	var ge *gapError
	switch {
	case errors.As(err, &ge):
		if retryableGap(ev, ge.reason) {
			r.release(ctx, log, ev.ID)
		}
		r.reportGap(ctx, log, ev, ge)
		outcome, err = types.OutcomeGap, nil
	case err != nil:
		r.release(ctx, log, ev.ID)
		log.ErrorContext(ctx, "failed to apply billing event", "error", err)
		outcome = types.OutcomeError
	case outcome == types.OutcomeStale:
		log.InfoContext(ctx, "stale billing event skipped", "subscription_ref", ev.SubscriptionRef)
	default:
		log.InfoContext(ctx, "billing event applied",
			"kind", ev.Kind,
			"user_id", ev.UserID,
			"subscription_ref", ev.SubscriptionRef,
		)
	}

	r.metrics.RecordBillingEvent(ev.Kind, outcome)
	return outcome, err
}

// retryableGap reports whether a resend of ev could succeed later. Plan
// lookups fail on upstream trouble, and a checkout can land before the
// buyer's account exists.
func retryableGap(ev types.BillingEvent, reason types.GapReason) bool {
	switch reason {
	case types.GapPlanLookupFailed:
		return true
	case types.GapUnresolvableUser:
		return ev.Kind == types.BillingEventCheckoutCompleted
	default:
		return false
	}
}

func (r *Reconciler) apply(ctx context.Context, ev types.BillingEvent) (types.ReconcileOutcome, error) {
	if ev.SubscriptionRef == "" {
		return "", gap(types.GapUnresolvableSubscription, nil)
	}

	switch ev.Kind {
	case types.BillingEventCheckoutCompleted:
		return r.applyCheckout(ctx, ev)
	case types.BillingEventRenewalSucceeded:
		return r.applyRenewal(ctx, ev)
	case types.BillingEventSubscriptionCanceled:
		res, err := r.ledger.CancelSubscription(ctx, ev.SubscriptionRef, billing.CancellationGrant(), ev.Created)
		return r.outcome(res, err, types.GapUnresolvableSubscription)
	default:
		return types.OutcomeIgnored, nil
	}
}

func (r *Reconciler) applyCheckout(ctx context.Context, ev types.BillingEvent) (types.ReconcileOutcome, error) {
	userID := ev.UserID
	if userID == "" {
		acct, err := r.ledger.FindBySubscriptionRef(ctx, ev.SubscriptionRef)
		if err != nil {
			if types.CodeOf(err) == types.ErrCodeNotFoundAccount {
				return "", gap(types.GapUnresolvableUser, nil)
			}
			return "", err
		}
		userID = acct.ID
	}

	grant, err := r.grantFor(ctx, ev)
	if err != nil {
		return "", err
	}

	refs := types.BillingRefs{CustomerRef: ev.CustomerRef, SubscriptionRef: ev.SubscriptionRef}
	res, err := r.ledger.ActivateSubscription(ctx, userID, grant, refs, ev.Created)
	return r.outcome(res, err, types.GapUnresolvableUser)
}

func (r *Reconciler) applyRenewal(ctx context.Context, ev types.BillingEvent) (types.ReconcileOutcome, error) {
	grant, err := r.grantFor(ctx, ev)
	if err != nil {
		return "", err
	}
	res, err := r.ledger.ResetGrant(ctx, ev.SubscriptionRef, grant, ev.Created)
	return r.outcome(res, err, types.GapUnresolvableSubscription)
}

// grantFor picks the first price on the event that the catalog knows. When
// none matches, it asks the provider for the subscription's current plan.
func (r *Reconciler) grantFor(ctx context.Context, ev types.BillingEvent) (types.Grant, error) {
	var unknown error
	for _, ref := range planCandidates(ev) {
		grant, err := r.catalog.GrantForPlan(ref)
		if err == nil {
			return grant, nil
		}
		if unknown == nil {
			unknown = err
		}
	}

	if r.plans == nil {
		if unknown != nil {
			return types.Grant{}, gap(types.GapUnknownPlan, unknown)
		}
		return types.Grant{}, gap(types.GapPlanLookupFailed, errors.New("no plan resolver configured"))
	}
	ref, err := r.plans.PlanForSubscription(ctx, ev.SubscriptionRef)
	if err != nil {
		return types.Grant{}, gap(types.GapPlanLookupFailed, err)
	}

	grant, err := r.catalog.GrantForPlan(ref)
	if err != nil {
		return types.Grant{}, gap(types.GapUnknownPlan, err)
	}
	return grant, nil
}

func planCandidates(ev types.BillingEvent) []string {
	refs := make([]string, 0, len(ev.LinePlanRefs)+1)
	if ev.PlanRef != "" {
		refs = append(refs, ev.PlanRef)
	}
	for _, ref := range ev.LinePlanRefs {
		if ref != "" && ref != ev.PlanRef {
			refs = append(refs, ref)
		}
	}
	return refs
}

func (r *Reconciler) outcome(res types.ApplyResult, err error, missing types.GapReason) (types.ReconcileOutcome, error) {
	if err != nil {
		return "", err
	}
	switch res {
	case types.ApplyApplied:
		return types.OutcomeApplied, nil
	case types.ApplyStale:
		return types.OutcomeStale, nil
	default:
		return "", gap(missing, nil)
	}
}

func (r *Reconciler) release(ctx context.Context, log *slog.Logger, eventID string) {
	if err := r.events.Release(ctx, eventID); err != nil {
		log.ErrorContext(ctx, "failed to release billing event claim", "error", err)
	}
}

func (r *Reconciler) reportGap(ctx context.Context, log *slog.Logger, ev types.BillingEvent, ge *gapError) {
	attrs := []any{
		"gap_reason", ge.reason,
		"subscription_ref", ev.SubscriptionRef,
		"customer_ref", ev.CustomerRef,
		"user_id", ev.UserID,
		"plan_ref", ev.PlanRef,
	}
	if ge.cause != nil {
		attrs = append(attrs, "error", ge.cause)
	}
	log.WarnContext(ctx, "billing event acknowledged without ledger change", attrs...)

	if r.gaps == nil {
		return
	}
	g := types.ReconciliationGap{
		EventID:         ev.ID,
		EventType:       ev.Type,
		Reason:          ge.reason,
		SubscriptionRef: ev.SubscriptionRef,
		CustomerRef:     ev.CustomerRef,
		UserID:          ev.UserID,
		PlanRef:         ev.PlanRef,
		OccurredAt:      ev.Created,
	}
	if err := r.gaps.ReportGap(ctx, g); err != nil {
		log.ErrorContext(ctx, "failed to publish reconciliation gap", "error", err)
	}
}
