package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"copyforge/internal/types"
)

func actorEcho(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := types.GetActor(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(actor.ID))
	})
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body.String())
	}
	return resp.Error.Code
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	srv := newTestServer(t)
	auth := &MockAuthenticator{Actor: &types.Actor{ID: "user_1", Email: "a@example.com"}}
	srv.Authenticator = auth

	req := httptest.NewRequest(http.MethodPost, "/v1/generate", nil)
	req.Header.Set("Authorization", "bearer tok_123")
	rec := httptest.NewRecorder()
	srv.AuthMiddleware(actorEcho(t)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "user_1" {
		t.Fatalf("expected actor user_1, got %d %q", rec.Code, rec.Body.String())
	}
	if len(auth.Calls) != 1 || auth.Calls[0] != "tok_123" {
		t.Errorf("unexpected token calls: %v", auth.Calls)
	}
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		header string
		err    error
		actor  *types.Actor
		code   types.ErrorCode
	}{
		{"missing header", "", nil, nil, types.ErrCodeAuthTokenMissing},
		{"wrong scheme", "Basic dXNlcjpwYXNz", nil, nil, types.ErrCodeAuthTokenMissing},
		{"empty bearer", "Bearer   ", nil, nil, types.ErrCodeAuthTokenMissing},
		{"invalid token", "Bearer bad", types.NewAppError(types.ErrCodeAuthTokenInvalid, "bad", nil), nil, types.ErrCodeAuthTokenInvalid},
		{"expired token", "Bearer old", types.NewAppError(types.ErrCodeAuthTokenExpired, "old", nil), nil, types.ErrCodeAuthTokenExpired},
		{"key source down", "Bearer x", errors.New("jwks fetch failed"), nil, types.ErrCodeAuthTokenInvalid},
		{"actor without id", "Bearer x", nil, &types.Actor{}, types.ErrCodeAuthTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			srv.Authenticator = &MockAuthenticator{Actor: tt.actor, Err: tt.err}

			req := httptest.NewRequest(http.MethodGet, "/v1/account", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			srv.AuthMiddleware(actorEcho(t)).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if got := errorCode(t, rec); got != string(tt.code) {
				t.Errorf("code = %q, want %q", got, tt.code)
			}
			if rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header")
			}
		})
	}
}

func TestAuthMiddleware_PublicPaths(t *testing.T) {
	srv := newTestServer(t)
	auth := &MockAuthenticator{Err: errors.New("must not be called")}
	srv.Authenticator = auth

	for _, path := range []string{"/health", "/metrics", "/v1/webhooks/stripe", "/v1/billing/plans"} {
		rec := httptest.NewRecorder()
		srv.AuthMiddleware(actorEcho(t)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNoContent {
			t.Errorf("%s: expected pass-through, got %d", path, rec.Code)
		}
	}
	if len(auth.Calls) != 0 {
		t.Errorf("authenticator called for public paths: %v", auth.Calls)
	}
}

func TestAuthMiddleware_NoAuthenticatorPassesThrough(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.AuthMiddleware(actorEcho(t)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/account", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected pass-through, got %d", rec.Code)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":    "abc",
		"BEARER abc ":   "abc",
		"Bearer":        "",
		"Token abc":     "",
		"Bearer  x.y.z": "x.y.z",
	}
	for in, want := range cases {
		if got := extractBearerToken(in); got != want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", in, got, want)
		}
	}
}
