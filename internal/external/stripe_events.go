package external

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"copyforge/internal/types"
)

// Stripe event types the reconciler acts on. Everything else is ignored.
const (
	EventStripeCheckoutCompleted = string(stripe.EventTypeCheckoutSessionCompleted)
	EventStripePaymentSucceeded  = string(stripe.EventTypeInvoicePaymentSucceeded)
	EventStripeSubDeleted        = string(stripe.EventTypeCustomerSubscriptionDeleted)
)

// billingReasonCycle marks the invoice of a periodic renewal. The first
// invoice of a subscription is covered by the checkout event instead.
const billingReasonCycle = "subscription_cycle"

// WebhookParser verifies and decodes one webhook delivery.
type WebhookParser interface {
	Parse(payload []byte, sigHeader string) (types.BillingEvent, error)
}

// StripeVerifier checks the Stripe-Signature header and turns the payload
// into a provider-neutral BillingEvent. Signatures older than Stripe's
// default tolerance are rejected.
type StripeVerifier struct {
	secret string
}

// NewStripeVerifier creates a verifier for the endpoint signing secret.
func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{secret: secret}
}

// Parse returns webhook_signature_invalid when the signature does not verify
// and webhook_payload_invalid when a signed payload cannot be decoded.
// Unhandled event types come back with Kind BillingEventIgnored.
func (v *StripeVerifier) Parse(payload []byte, sigHeader string) (types.BillingEvent, error) {
	if sigHeader == "" {
		return types.BillingEvent{}, types.NewAppError(types.ErrCodeWebhookSignatureInvalid, "missing Stripe-Signature header", nil)
	}
	if err := stripe.ValidatePayload(payload, sigHeader, v.secret); err != nil {
		return types.BillingEvent{}, types.NewAppError(types.ErrCodeWebhookSignatureInvalid, "webhook signature verification failed", err)
	}

	ev, err := ParseStripeEvent(payload)
	if err != nil {
		return types.BillingEvent{}, types.NewAppError(types.ErrCodeWebhookPayloadInvalid, "invalid webhook event payload", err)
	}
	return ev, nil
}

// ParseStripeEvent decodes an already verified payload.
func ParseStripeEvent(payload []byte) (types.BillingEvent, error) {
	var env stripeEventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return types.BillingEvent{}, err
	}
	if env.ID == "" || env.Type == "" {
		return types.BillingEvent{}, errors.New("event id and type are required")
	}

	ev := types.BillingEvent{
		ID:      env.ID,
		Type:    env.Type,
		Kind:    types.BillingEventIgnored,
		Created: time.Unix(env.Created, 0).UTC(),
	}

	obj := env.Data.Object
	switch env.Type {
	case EventStripeCheckoutCompleted:
		var s stripeCheckoutObject
		if err := decodeObject(obj, &s); err != nil {
			return types.BillingEvent{}, err
		}
		if s.Mode != "" && s.Mode != "subscription" {
			return ev, nil
		}
		ev.Kind = types.BillingEventCheckoutCompleted
		ev.UserID = s.Metadata["userId"]
		if ev.UserID == "" {
			ev.UserID = s.ClientReferenceID
		}
		ev.SubscriptionRef = string(s.Subscription)
		ev.CustomerRef = string(s.Customer)

	case EventStripePaymentSucceeded:
		var inv stripeInvoiceObject
		if err := decodeObject(obj, &inv); err != nil {
			return types.BillingEvent{}, err
		}
		if inv.BillingReason != billingReasonCycle {
			return ev, nil
		}
		ev.Kind = types.BillingEventRenewalSucceeded
		ev.SubscriptionRef = inv.subscriptionRef()
		ev.CustomerRef = string(inv.Customer)
		ev.LinePlanRefs = inv.priceRefs()
		if len(ev.LinePlanRefs) > 0 {
			ev.PlanRef = ev.LinePlanRefs[0]
		}

	case EventStripeSubDeleted:
		var sub stripeSubscriptionObject
		if err := decodeObject(obj, &sub); err != nil {
			return types.BillingEvent{}, err
		}
		ev.Kind = types.BillingEventSubscriptionCanceled
		ev.SubscriptionRef = sub.ID
		ev.CustomerRef = string(sub.Customer)
		ev.UserID = sub.Metadata["userId"]
	}

	return ev, nil
}

func decodeObject(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return errors.New("event data.object is missing")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode data.object: %w", err)
	}
	return nil
}

type stripeEventEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// expandableID holds a Stripe reference that arrives either as a bare ID or
// as an expanded object with an "id" field.
type expandableID string

func (e *expandableID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*e = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

type stripeCheckoutObject struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	Subscription      expandableID      `json:"subscription"`
	Customer          expandableID      `json:"customer"`
}

// stripeInvoiceObject covers both invoice layouts: the subscription and line
// price moved under parent/pricing in newer API versions.
type stripeInvoiceObject struct {
	ID            string       `json:"id"`
	BillingReason string       `json:"billing_reason"`
	Customer      expandableID `json:"customer"`
	Subscription  expandableID `json:"subscription"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Price *struct {
				ID string `json:"id"`
			} `json:"price"`
			Pricing *struct {
				PriceDetails *struct {
					Price expandableID `json:"price"`
				} `json:"price_details"`
			} `json:"pricing"`
		} `json:"data"`
	} `json:"lines"`
}

func (inv *stripeInvoiceObject) subscriptionRef() string {
	if inv.Subscription != "" {
		return string(inv.Subscription)
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return string(inv.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

// priceRefs lists the price on each invoice line, skipping lines without one.
func (inv *stripeInvoiceObject) priceRefs() []string {
	var refs []string
	for _, line := range inv.Lines.Data {
		switch {
		case line.Price != nil && line.Price.ID != "":
			refs = append(refs, line.Price.ID)
		case line.Pricing != nil && line.Pricing.PriceDetails != nil && line.Pricing.PriceDetails.Price != "":
			refs = append(refs, string(line.Pricing.PriceDetails.Price))
		}
	}
	return refs
}

type stripeSubscriptionObject struct {
	ID       string            `json:"id"`
	Customer expandableID      `json:"customer"`
	Metadata map[string]string `json:"metadata"`
}
