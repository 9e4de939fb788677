package external

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// PlanLookup resolves a subscription to its current price ID.
type PlanLookup interface {
	PlanForSubscription(ctx context.Context, subscriptionRef string) (string, error)
}

// CachedPlanResolver memoizes successful lookups for ttl and coalesces
// concurrent lookups of the same subscription. Errors are not cached.
type CachedPlanResolver struct {
	next  PlanLookup
	cache *expirable.LRU[string, string]
	group singleflight.Group
}

// NewCachedPlanResolver wraps next. size <= 0 falls back to 1024 entries.
func NewCachedPlanResolver(next PlanLookup, size int, ttl time.Duration) *CachedPlanResolver {
	if size <= 0 {
		size = 1024
	}
	return &CachedPlanResolver{
		next:  next,
		cache: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

func (c *CachedPlanResolver) PlanForSubscription(ctx context.Context, subscriptionRef string) (string, error) {
	if plan, ok := c.cache.Get(subscriptionRef); ok {
		return plan, nil
	}

	v, err, _ := c.group.Do(subscriptionRef, func() (any, error) {
		if plan, ok := c.cache.Get(subscriptionRef); ok {
			return plan, nil
		}
		plan, err := c.next.PlanForSubscription(ctx, subscriptionRef)
		if err != nil {
			return "", err
		}
		c.cache.Add(subscriptionRef, plan)
		return plan, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
