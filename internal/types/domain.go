package types

import "time"

// UnlimitedCredits is the credit sentinel for accounts that are never
// debited. Every other stored balance is >= 0.
const UnlimitedCredits = -1

// Account is the ledger record kept for one authenticated identity.
type Account struct {
	ID                     string        `json:"id"`
	Email                  string        `json:"email"`
	Credits                int           `json:"credits"`
	Tier                   Tier          `json:"tier"`
	Status                 AccountStatus `json:"status"`
	BillingCustomerRef     *string       `json:"-"`
	BillingSubscriptionRef *string       `json:"-"`
	// LastBillingEventAt is the provider timestamp of the newest billing
	// event applied to this account. Older events are discarded.
	LastBillingEventAt *time.Time `json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsUnlimited reports whether the account carries the unlimited sentinel.
func (a *Account) IsUnlimited() bool {
	return a.Credits == UnlimitedCredits
}

// HasSubscription reports whether billing references are attached.
func (a *Account) HasSubscription() bool {
	return a.BillingSubscriptionRef != nil && *a.BillingSubscriptionRef != ""
}

// ValidCredits reports whether n is a legal stored balance.
func ValidCredits(n int) bool {
	return n >= 0 || n == UnlimitedCredits
}

// Grant is an absolute (credits, tier) pair produced by the entitlement
// engine. Applying a grant sets the balance; it never adds to it.
type Grant struct {
	Credits int
	Tier    Tier
}

// Unlimited reports whether the grant carries the unlimited sentinel.
func (g Grant) Unlimited() bool {
	return g.Credits == UnlimitedCredits
}

// BillingRefs are the billing provider identifiers attached to an account
// while it holds a paid subscription.
type BillingRefs struct {
	CustomerRef     string
	SubscriptionRef string
}

// BillingEvent is the provider-neutral form of one webhook delivery. It is
// transient; only its ID survives processing as a dedup marker.
type BillingEvent struct {
	ID   string
	Type string // provider event type, e.g. "checkout.session.completed"
	Kind BillingEventKind
	// Created is the provider's own event timestamp, used to order events
	// touching the same account.
	Created         time.Time
	SubscriptionRef string
	CustomerRef     string
	UserID          string
	// PlanRef is the price the event names first. LinePlanRefs holds every
	// price on a renewal invoice in line order, prorations and add-ons
	// included.
	PlanRef      string
	LinePlanRefs []string
}

// ReconciliationGap describes a billing event that was acknowledged without
// any ledger mutation.
type ReconciliationGap struct {
	EventID         string    `json:"eventId"`
	EventType       string    `json:"eventType"`
	Reason          GapReason `json:"reason"`
	SubscriptionRef string    `json:"subscriptionRef,omitempty"`
	CustomerRef     string    `json:"customerRef,omitempty"`
	UserID          string    `json:"userId,omitempty"`
	PlanRef         string    `json:"planRef,omitempty"`
	OccurredAt      time.Time `json:"occurredAt"`
}

// Reservation is the proof that one credit was debited for a generation.
type Reservation struct {
	Token            string
	AccountID        string
	CreditsRemaining int
	// Unlimited is set when the account holds the sentinel; nothing was debited.
	Unlimited  bool
	ReservedAt time.Time
	// BillingEpoch is the account's LastBillingEventAt at reservation time.
	// A refund is only valid while it is unchanged.
	BillingEpoch *time.Time
}

// GenerationRecord is one row of a user's generation history.
type GenerationRecord struct {
	ID               string      `json:"id"`
	UserID           string      `json:"userId"`
	ContentType      ContentType `json:"contentType"`
	Prompt           string      `json:"prompt"`
	GeneratedContent string      `json:"content"`
	CreatedAt        time.Time   `json:"createdAt"`
}
