package muxhandlers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// ErrNoSecret is returned when BearerAuthConfig has no signing secret.
var ErrNoSecret = errors.New("bearer auth: secret must not be empty")

// BearerAuthConfig configures the Bearer Auth middleware behaviour.
type BearerAuthConfig struct {
	// Secret verifies HS256 tokens. Required.
	Secret []byte

	// Issuer and Audience, when set, must match the token claims.
	Issuer   string
	Audience string

	// Realm is sent in the WWW-Authenticate header. Defaults to "obauth".
	Realm string

	// Limiter, when set, blocks client IPs with too many failed attempts
	// with 429 Too Many Requests.
	Limiter *FailureLimiter

	Logger zerolog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

type claimsKey struct{}

// ClaimsFromContext returns the claims of the authenticated token.
func ClaimsFromContext(ctx context.Context) (*jwt.RegisteredClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*jwt.RegisteredClaims)
	return claims, ok
}

// BearerAuthMiddleware returns a middleware that requires an HS256 JWT in
// the Authorization header (RFC 6750). Tokens must carry an expiry.
// Failed attempts are counted per client IP when a Limiter is configured.
//
// It returns ErrNoSecret if Secret is empty.
func BearerAuthMiddleware(cfg BearerAuthConfig) (mux.MiddlewareFunc, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrNoSecret
	}

	realm := cfg.Realm
	if realm == "" {
		realm = "obauth"
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	}

	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	parser := jwt.NewParser(opts...)
	secret := cfg.Secret
	limiter := cfg.Limiter
	fallback := cfg.Logger

	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)

			if limiter != nil && limiter.Blocked(ip) {
				tooManyRequests(w, limiter.RetryAfter(ip))
				return
			}

			claims := &jwt.RegisteredClaims{}

			token, ok := bearerToken(r)
			if ok {
				_, err := parser.ParseWithClaims(token, claims, keyFunc)
				ok = err == nil

				if err != nil {
					LoggerFrom(r, fallback).Warn().Err(err).Str("client_ip", ip).Msg("bearer token rejected")
				}
			}

			if !ok {
				if limiter != nil && limiter.Fail(ip) {
					LoggerFrom(r, fallback).Warn().Str("client_ip", ip).Msg("auth failure limit reached")
				}

				w.Header().Set("WWW-Authenticate", fmt.Sprintf("Bearer realm=%q, error=\"invalid_token\"", realm))
				ResponseError(w, http.StatusUnauthorized, "unauthorized", "A valid bearer token is required", "")

				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}, nil
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)

	return token, token != ""
}

func tooManyRequests(w http.ResponseWriter, retry time.Duration) {
	secs := int(math.Ceil(retry.Seconds()))
	if secs < 1 {
		secs = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(secs))
	ResponseError(w, http.StatusTooManyRequests, "rate_limited", "Too many failed authentication attempts", "")
}
