package types

// Tier is the subscription level that determines an account's credit grant.
type Tier string

const (
	TierFree     Tier = "free"
	TierStarter  Tier = "starter"
	TierPro      Tier = "pro"
	TierBusiness Tier = "business"
)

// IsValid reports whether t is one of the known tiers.
func (t Tier) IsValid() bool {
	switch t {
	case TierFree, TierStarter, TierPro, TierBusiness:
		return true
	}
	return false
}

// IsPaid reports whether t is backed by a billing subscription.
func (t Tier) IsPaid() bool {
	return t.IsValid() && t != TierFree
}

// AccountStatus mirrors the billing provider's view of the account,
// independent of Tier.
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusCanceled AccountStatus = "canceled"
)

// ContentType selects the kind of content a generation request produces.
type ContentType string

const (
	ContentTwitterThread      ContentType = "twitter-thread"
	ContentTwitterPost        ContentType = "twitter-post"
	ContentLinkedInPost       ContentType = "linkedin-post"
	ContentBlogOutline        ContentType = "blog-outline"
	ContentEmailCampaign      ContentType = "email-campaign"
	ContentAdCopy             ContentType = "ad-copy"
	ContentInstagramCaption   ContentType = "instagram-caption"
	ContentYouTubeDescription ContentType = "youtube-description"
)

// ContentTypes lists every supported ContentType in display order.
var ContentTypes = []ContentType{
	ContentTwitterThread,
	ContentTwitterPost,
	ContentLinkedInPost,
	ContentBlogOutline,
	ContentEmailCampaign,
	ContentAdCopy,
	ContentInstagramCaption,
	ContentYouTubeDescription,
}

// IsValid reports whether c is a supported content type.
func (c ContentType) IsValid() bool {
	for _, known := range ContentTypes {
		if c == known {
			return true
		}
	}
	return false
}

// Tone is the voice requested for generated content.
type Tone string

const (
	ToneProfessional  Tone = "professional"
	ToneCasual        Tone = "casual"
	ToneFunny         Tone = "funny"
	ToneInspirational Tone = "inspirational"
	ToneEducational   Tone = "educational"
)

// Tones lists every supported Tone.
var Tones = []Tone{ToneProfessional, ToneCasual, ToneFunny, ToneInspirational, ToneEducational}

// IsValid reports whether t is a supported tone.
func (t Tone) IsValid() bool {
	for _, known := range Tones {
		if t == known {
			return true
		}
	}
	return false
}

// EmojiPolicy controls whether generated content may contain emoji.
// The zero value is treated as EmojiNone.
type EmojiPolicy string

const (
	EmojiNone    EmojiPolicy = "none"
	EmojiAllowed EmojiPolicy = "allowed"
)

// IsValid reports whether p is a known policy. The empty policy is valid and
// means EmojiNone.
func (p EmojiPolicy) IsValid() bool {
	switch p {
	case "", EmojiNone, EmojiAllowed:
		return true
	}
	return false
}

// Allows reports whether emoji may appear in the output.
func (p EmojiPolicy) Allows() bool {
	return p == EmojiAllowed
}

// BillingEventKind is the reconciler's view of a billing provider event.
// Provider events that do not map to a kind are acknowledged and ignored.
type BillingEventKind string

const (
	BillingEventCheckoutCompleted    BillingEventKind = "checkout-completed"
	BillingEventRenewalSucceeded     BillingEventKind = "renewal-succeeded"
	BillingEventSubscriptionCanceled BillingEventKind = "subscription-canceled"
	BillingEventIgnored              BillingEventKind = "ignored"
)

// ApplyResult reports what a conditional ledger write did.
type ApplyResult string

const (
	// ApplyApplied means the row was updated.
	ApplyApplied ApplyResult = "applied"
	// ApplyStale means the row exists but has already absorbed a newer event.
	ApplyStale ApplyResult = "stale"
	// ApplyNotFound means no row matched the account or subscription key.
	ApplyNotFound ApplyResult = "not_found"
)

// ReconcileOutcome is the terminal state of processing one billing event.
type ReconcileOutcome string

const (
	OutcomeApplied   ReconcileOutcome = "applied"
	OutcomeStale     ReconcileOutcome = "stale"
	OutcomeDuplicate ReconcileOutcome = "duplicate"
	OutcomeIgnored   ReconcileOutcome = "ignored"
	OutcomeGap       ReconcileOutcome = "gap"
	OutcomeError     ReconcileOutcome = "error"
)

// GapReason classifies why a billing event could not be applied.
type GapReason string

const (
	GapUnresolvableUser         GapReason = "unresolvable_user"
	GapUnresolvableSubscription GapReason = "unresolvable_subscription"
	GapUnknownPlan              GapReason = "unknown_plan"
	GapPlanLookupFailed         GapReason = "plan_lookup_failed"
)

// ReservationOutcome labels Generation Gate results for metrics.
type ReservationOutcome string

const (
	ReservationGranted      ReservationOutcome = "granted"
	ReservationUnlimited    ReservationOutcome = "unlimited"
	ReservationInsufficient ReservationOutcome = "insufficient"
	ReservationNotFound     ReservationOutcome = "not_found"
	ReservationError        ReservationOutcome = "error"
	ReservationRefunded     ReservationOutcome = "refunded"
)
