// Package auth verifies bearer tokens issued by the identity provider and
// turns them into request Actors.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"copyforge/internal/config"
	"copyforge/internal/types"
)

const defaultLeeway = 30 * time.Second

// TokenAuthenticator implements core.Authenticator for JWTs. Tokens are
// verified either with a shared HS256 secret or against a JWKS endpoint.
type TokenAuthenticator struct {
	keyfunc jwt.Keyfunc
	parser  *jwt.Parser
}

// NewTokenAuthenticator builds an authenticator from cfg. With JWKSURL set,
// the key set is fetched in the background and refreshed until ctx ends.
func NewTokenAuthenticator(ctx context.Context, cfg config.AuthConfig) (*TokenAuthenticator, error) {
	switch {
	case cfg.JWKSURL != "":
		k, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JWKSURL})
		if err != nil {
			return nil, fmt.Errorf("failed to init JWKS keyfunc: %w", err)
		}
		methods := []string{
			jwt.SigningMethodRS256.Name, jwt.SigningMethodRS384.Name, jwt.SigningMethodRS512.Name,
			jwt.SigningMethodES256.Name,
		}
		return newTokenAuthenticator(k.Keyfunc, methods, cfg.Issuer, cfg.Audience), nil

	case cfg.JWTSecret.IsSet():
		secret := []byte(cfg.JWTSecret.Unmask())
		kf := func(*jwt.Token) (any, error) { return secret, nil }
		return newTokenAuthenticator(kf, []string{jwt.SigningMethodHS256.Name}, cfg.Issuer, cfg.Audience), nil

	default:
		return nil, errors.New("auth: one of AUTH_JWT_SECRET or AUTH_JWKS_URL must be set")
	}
}

func newTokenAuthenticator(kf jwt.Keyfunc, methods []string, issuer, audience string) *TokenAuthenticator {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(defaultLeeway),
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &TokenAuthenticator{keyfunc: kf, parser: jwt.NewParser(opts...)}
}

// ResolveToken verifies token and returns its subject as the Actor. An
// expired token gives auth_token_expired; anything else that fails
// verification gives auth_token_invalid.
func (a *TokenAuthenticator) ResolveToken(_ context.Context, token string) (*types.Actor, error) {
	claims := jwt.MapClaims{}
	parsed, err := a.parser.ParseWithClaims(token, claims, a.keyfunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "token has expired", err)
		}
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid token", err)
	}
	if !parsed.Valid {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid token", nil)
	}

	sub, _ := claims.GetSubject()
	if strings.TrimSpace(sub) == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token missing sub", nil)
	}
	email, _ := claims["email"].(string)

	return &types.Actor{ID: sub, Email: email}, nil
}
