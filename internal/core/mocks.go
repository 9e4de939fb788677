package core

import (
	"context"
	"sync"
	"time"

	"copyforge/internal/types"
)

// MockAuthenticator resolves every token to Actor, or fails with Err.
// TokenActors, when set, maps specific tokens to actors; unknown tokens then
// fail with auth_token_invalid.
type MockAuthenticator struct {
	Actor       *types.Actor
	TokenActors map[string]types.Actor
	Err         error

	mu    sync.Mutex
	Calls []string
}

func (m *MockAuthenticator) ResolveToken(_ context.Context, token string) (*types.Actor, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, token)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if m.TokenActors != nil {
		a, ok := m.TokenActors[token]
		if !ok {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "unknown token", nil)
		}
		return &a, nil
	}
	return m.Actor, nil
}

// MockRateLimitStore returns Result and Err, recording each call.
type MockRateLimitStore struct {
	Result RateLimitResult
	Err    error

	mu    sync.Mutex
	Calls []RateLimitCall
}

// RateLimitCall is one recorded IncrementAndCheck.
type RateLimitCall struct {
	Key    string
	Limit  int
	Window time.Duration
}

func (m *MockRateLimitStore) IncrementAndCheck(_ context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, RateLimitCall{Key: key, Limit: limit, Window: window})
	m.mu.Unlock()
	return m.Result, m.Err
}

// MockMetricsCollector records each request it is told about.
type MockMetricsCollector struct {
	mu       sync.Mutex
	Requests []RecordedRequest
}

// RecordedRequest is one recorded RecordRequest.
type RecordedRequest struct {
	Method, Route, Status string
}

func (m *MockMetricsCollector) RecordRequest(method, route, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, RecordedRequest{Method: method, Route: route, Status: status})
}

// Snapshot returns a copy of the recorded requests.
func (m *MockMetricsCollector) Snapshot() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.Requests...)
}

var (
	_ Authenticator    = (*MockAuthenticator)(nil)
	_ RateLimitStore   = (*MockRateLimitStore)(nil)
	_ MetricsCollector = (*MockMetricsCollector)(nil)
)
