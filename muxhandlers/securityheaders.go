package muxhandlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// ErrInvalidHSTSMaxAge is returned when SecurityHeadersConfig.HSTSMaxAge is
// negative.
var ErrInvalidHSTSMaxAge = errors.New("security headers: hsts max age must not be negative")

const (
	apiContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"
	defaultAPICacheControl   = "no-store"
)

// SecurityHeadersConfig configures the Security Headers middleware behaviour.
type SecurityHeadersConfig struct {
	// HSTSMaxAge enables Strict-Transport-Security on TLS requests.
	// Zero disables the header.
	HSTSMaxAge time.Duration

	// CacheControl is the default Cache-Control value. Handlers may
	// override it. Defaults to "no-store".
	CacheControl string
}

// SecurityHeadersMiddleware returns a middleware that sets response headers
// suited to a JSON API: nosniff, no framing, no referrer, a deny-all
// content security policy and a default Cache-Control. Headers are set
// before calling the next handler so handlers can replace them.
func SecurityHeadersMiddleware(cfg SecurityHeadersConfig) (mux.MiddlewareFunc, error) {
	if cfg.HSTSMaxAge < 0 {
		return nil, ErrInvalidHSTSMaxAge
	}

	cacheControl := cfg.CacheControl
	if cacheControl == "" {
		cacheControl = defaultAPICacheControl
	}

	var hsts string
	if cfg.HSTSMaxAge > 0 {
		hsts = "max-age=" + strconv.FormatInt(int64(cfg.HSTSMaxAge/time.Second), 10)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()

			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy", apiContentSecurityPolicy)
			h.Set("Cache-Control", cacheControl)

			if hsts != "" && (r.TLS != nil || r.URL.Scheme == "https") {
				h.Set("Strict-Transport-Security", hsts)
			}

			next.ServeHTTP(w, r)
		})
	}, nil
}
