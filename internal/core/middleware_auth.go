package core

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"copyforge/internal/types"
)

// authPublicPaths bypass AuthMiddleware. The Stripe webhook authenticates
// with its signature header instead of a bearer token.
var authPublicPaths = map[string]bool{
	"/health":             true,
	"/metrics":            true,
	"/v1/webhooks/stripe": true,
	"/v1/billing/plans":   true,
}

// AuthMiddleware resolves the bearer token to an Actor and stores it in the
// request context, along with a logger tagged with the user ID. Failures are
// 401 with auth_token_missing, auth_token_invalid or auth_token_expired.
//
// With no Authenticator configured every request passes through untouched.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil || authPublicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Authorization header is required")
			return
		}
		token := extractBearerToken(authHeader)
		if token == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Bearer token is required")
			return
		}

		actor, err := s.Authenticator.ResolveToken(r.Context(), token)
		if err != nil {
			s.handleAuthError(w, r, err)
			return
		}
		if actor == nil || actor.ID == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		}

		ctx := types.WithActor(r.Context(), *actor)
		log := types.LoggerFromContext(ctx, s.Logger).With(slog.String("user_id", actor.ID))
		ctx = types.WithLogger(ctx, log)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractBearerToken returns the token from "Bearer <token>". The scheme is
// case-insensitive (RFC 7235).
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	log := types.LoggerFromContext(r.Context(), s.Logger)

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeAuthTokenExpired:
			log.Warn("authentication failed: token expired", slog.String("path", r.URL.Path))
			s.writeAuthError(w, r, types.ErrCodeAuthTokenExpired, "Authentication token has expired")
			return
		case types.ErrCodeAuthTokenInvalid:
			log.Warn("authentication failed: token invalid",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		}
	}

	// Key-source outages (JWKS fetch) land here; details stay in the log.
	log.Error("authentication failed: unexpected error",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Authentication failed")
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="copyforge"`)
	JSON(w, r, http.StatusUnauthorized, APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			RequestID: types.GetRequestID(r.Context()),
		},
	})
}
