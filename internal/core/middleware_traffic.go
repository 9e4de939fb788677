package core

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"copyforge/internal/types"
)

// RateLimitRule is the per-user budget for one route.
type RateLimitRule struct {
	Limit  int
	Window time.Duration
}

// RateLimit enforces Server.RateLimits, keyed by "METHOD /path" and counted
// per authenticated user. Routes without a rule, unauthenticated requests and
// rules with a non-positive limit pass through.
//
// Every limited response carries X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset; a rejected one also gets Retry-After and a 429. A store
// failure lets the request through.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.RateLimitStore == nil || len(s.RateLimits) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		routeKey := r.Method + " " + r.URL.Path
		rule, ok := s.RateLimits[routeKey]
		if !ok || rule.Limit <= 0 || rule.Window <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		actor, ok := types.GetActor(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		log := types.LoggerFromContext(r.Context(), s.Logger)
		result, err := s.RateLimitStore.IncrementAndCheck(r.Context(), routeKey+":"+actor.ID, rule.Limit, rule.Window)
		if err != nil {
			log.Error("rate limit store error, failing open",
				slog.String("route", routeKey),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
			return
		}

		setRateLimitHeaders(w, rule.Limit, result)

		if !result.Allowed {
			log.Warn("rate limit exceeded", slog.String("route", routeKey))

			retryAfter := int(time.Until(result.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			Error(w, r, types.NewAppError(types.ErrCodeRateLimit, "Rate limit exceeded. Please retry after the reset time.", nil))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func setRateLimitHeaders(w http.ResponseWriter, limit int, result RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
