// Package billing holds the entitlement rules: which billing plan grants how
// many credits and which tier.
package billing

import (
	"errors"
	"fmt"

	"copyforge/internal/types"
)

// ErrUnknownPlan is returned (wrapped in an AppError) for plan references
// that are not in the catalog.
var ErrUnknownPlan = errors.New("unknown plan")

const (
	freeCredits = 3
)

// Plan is one row of the catalog.
type Plan struct {
	Tier    types.Tier
	Credits int
	// PlanRef is the billing provider's price identifier for this plan.
	PlanRef string
}

// Unlimited reports whether the plan grants the unlimited sentinel.
func (p Plan) Unlimited() bool { return p.Credits == types.UnlimitedCredits }

// PriceIDs carries the provider price identifiers from configuration.
type PriceIDs struct {
	Starter  string
	Pro      string
	Business string
}

// planTable is the catalog in display order. Adding a plan means adding a row
// here and a price ID in PriceIDs.
var planTable = []struct {
	tier    types.Tier
	credits int
	price   func(PriceIDs) string
}{
	{types.TierStarter, 50, func(p PriceIDs) string { return p.Starter }},
	{types.TierPro, 500, func(p PriceIDs) string { return p.Pro }},
	{types.TierBusiness, types.UnlimitedCredits, func(p PriceIDs) string { return p.Business }},
}

// Catalog maps plan references to grants. It is immutable after NewCatalog and
// safe for concurrent use.
type Catalog struct {
	plans  []Plan
	byRef  map[string]Plan
	byTier map[types.Tier]Plan
}

// NewCatalog builds the catalog. Every plan must have a distinct, non-empty
// price identifier.
func NewCatalog(prices PriceIDs) (*Catalog, error) {
	c := &Catalog{
		plans:  make([]Plan, 0, len(planTable)),
		byRef:  make(map[string]Plan, len(planTable)),
		byTier: make(map[types.Tier]Plan, len(planTable)),
	}
	for _, row := range planTable {
		ref := row.price(prices)
		if ref == "" {
			return nil, fmt.Errorf("billing: no price id configured for tier %q", row.tier)
		}
		if existing, dup := c.byRef[ref]; dup {
			return nil, fmt.Errorf("billing: price id %q used by both %q and %q", ref, existing.Tier, row.tier)
		}
		p := Plan{Tier: row.tier, Credits: row.credits, PlanRef: ref}
		c.plans = append(c.plans, p)
		c.byRef[ref] = p
		c.byTier[row.tier] = p
	}
	return c, nil
}

// GrantForPlan returns the absolute grant for planRef. Unknown references
// yield a billing_unknown_plan error and no grant; the catalog never guesses.
func (c *Catalog) GrantForPlan(planRef string) (types.Grant, error) {
	p, ok := c.byRef[planRef]
	if !ok {
		return types.Grant{}, types.NewAppError(
			types.ErrCodeBillingUnknownPlan,
			fmt.Sprintf("plan %q is not in the catalog", planRef),
			ErrUnknownPlan,
		)
	}
	return types.Grant{Credits: p.Credits, Tier: p.Tier}, nil
}

// PlanRefForTier returns the price identifier used to sell tier.
func (c *Catalog) PlanRefForTier(tier types.Tier) (string, error) {
	p, ok := c.byTier[tier]
	if !ok {
		return "", types.NewAppError(
			types.ErrCodeBillingUnknownPlan,
			fmt.Sprintf("tier %q cannot be purchased", tier),
			ErrUnknownPlan,
		)
	}
	return p.PlanRef, nil
}

// Plans returns a copy of the paid plans in catalog order.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

// FreeTierGrant is applied once, when an account is created.
func FreeTierGrant() types.Grant {
	return types.Grant{Credits: freeCredits, Tier: types.TierFree}
}

// CancellationGrant is applied when a subscription is deleted: the account
// drops to free with a fresh allowance rather than zero.
func CancellationGrant() types.Grant {
	return types.Grant{Credits: freeCredits, Tier: types.TierFree}
}
