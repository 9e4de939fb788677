package core

import (
	"context"
	"time"

	"copyforge/internal/types"
)

// Authenticator turns a bearer token into an Actor. It returns an AppError
// with auth_token_invalid for a bad token and auth_token_expired for an
// expired one.
type Authenticator interface {
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// RateLimitStore counts requests per key in fixed windows.
type RateLimitStore interface {
	// IncrementAndCheck atomically counts one request against key and
	// reports whether it is within limit for the current window.
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)
}

// RateLimitResult is the outcome of one IncrementAndCheck.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}
