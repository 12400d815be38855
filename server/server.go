// Package server exposes the verification engine and the certificate
// authority over HTTP.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/vitalvas/botauth/ca"
	"github.com/vitalvas/botauth/muxhandlers"
	"github.com/vitalvas/botauth/verifier"
)

const (
	defaultMaxBodySize    = 1 << 20
	defaultRequestTimeout = 30 * time.Second
)

// Config configures the verifier service.
type Config struct {
	// Verifier answers POST /verify. Required.
	Verifier verifier.Verifier

	// Authority serves the certificate endpoints. Nil disables them.
	Authority *ca.Authority

	// KeyCache backs POST /jwks/invalidate. Nil disables it.
	KeyCache KeyInvalidator

	// AdminSecret verifies HS256 bearer tokens on the admin endpoints
	// POST /certs/revoke and POST /jwks/invalidate. Empty disables them.
	AdminSecret []byte
	AdminIssuer string

	// AuthFailureLimit failed admin attempts per client IP within
	// AuthFailureWindow yield 429. Defaults to 10 per minute.
	AuthFailureLimit  int
	AuthFailureWindow time.Duration

	// TrustedProxies may set X-Forwarded-* headers.
	TrustedProxies []string

	// MaxBodySize bounds JSON request bodies. Defaults to 1 MiB.
	MaxBodySize int64

	// HSTSMaxAge enables Strict-Transport-Security on TLS requests.
	HSTSMaxAge time.Duration

	// RequestTimeout bounds handler execution. Defaults to 30s.
	RequestTimeout time.Duration

	Logger zerolog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// KeyInvalidator evicts a cached JWKS document. *keys.Cache implements
// it.
type KeyInvalidator interface {
	Invalidate(jwksURL string)
}

// Server is the verifier service HTTP handler.
type Server struct {
	cfg    Config
	router *mux.Router
}

// New validates cfg and builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Verifier == nil {
		return nil, errors.New("server: verifier is required")
	}

	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Server{cfg: cfg, router: mux.NewRouter()}

	if err := s.routes(); err != nil {
		return nil, err
	}

	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() error {
	proxyHeaders, err := muxhandlers.ProxyHeadersMiddleware(muxhandlers.ProxyHeadersConfig{
		TrustedProxies: s.cfg.TrustedProxies,
	})
	if err != nil {
		return err
	}

	timeout, err := muxhandlers.TimeoutMiddleware(muxhandlers.TimeoutConfig{Duration: s.cfg.RequestTimeout})
	if err != nil {
		return err
	}

	sizeLimit, err := muxhandlers.RequestSizeLimitMiddleware(muxhandlers.RequestSizeLimitConfig{MaxBytes: s.cfg.MaxBodySize})
	if err != nil {
		return err
	}

	secure, err := muxhandlers.SecurityHeadersMiddleware(muxhandlers.SecurityHeadersConfig{HSTSMaxAge: s.cfg.HSTSMaxAge})
	if err != nil {
		return err
	}

	jsonOnly, err := muxhandlers.ContentTypeCheckMiddleware(muxhandlers.ContentTypeCheckConfig{
		AllowedTypes: []string{"application/json"},
	})
	if err != nil {
		return err
	}

	r := s.router

	r.NotFoundHandler = s.wrap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		muxhandlers.ResponseError(w, http.StatusNotFound, "not_found", "Not found", "")
	}))
	r.MethodNotAllowedHandler = s.wrap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		muxhandlers.ResponseError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", "")
	}))

	r.Use(
		muxhandlers.RequestIDMiddleware(muxhandlers.RequestIDConfig{Logger: s.cfg.Logger}),
		muxhandlers.RecoveryMiddleware(muxhandlers.RecoveryConfig{Logger: s.cfg.Logger}),
		proxyHeaders,
		secure,
		timeout,
	)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet, http.MethodHead)

	jsonBody := func(h http.HandlerFunc) http.Handler {
		return sizeLimit(jsonOnly(h))
	}

	r.Handle("/verify", jsonBody(s.handleVerify)).Methods(http.MethodPost)

	if s.cfg.Authority != nil {
		r.HandleFunc("/ca/root.pem", s.handleRootPEM).Methods(http.MethodGet)
		r.HandleFunc("/certs/status", s.handleStatus).Methods(http.MethodGet)
		r.Handle("/certs/issue", jsonBody(s.handleIssue)).Methods(http.MethodPost)
	}

	if len(s.cfg.AdminSecret) == 0 {
		return nil
	}

	bearer, err := muxhandlers.BearerAuthMiddleware(muxhandlers.BearerAuthConfig{
		Secret:  s.cfg.AdminSecret,
		Issuer:  s.cfg.AdminIssuer,
		Limiter: muxhandlers.NewFailureLimiter(s.cfg.AuthFailureLimit, s.cfg.AuthFailureWindow, s.cfg.Now),
		Logger:  s.cfg.Logger,
		Now:     s.cfg.Now,
	})
	if err != nil {
		return err
	}

	if s.cfg.Authority != nil {
		r.Handle("/certs/revoke", bearer(jsonBody(s.handleRevoke))).Methods(http.MethodPost)
	}

	if s.cfg.KeyCache != nil {
		r.Handle("/jwks/invalidate", bearer(jsonBody(s.handleInvalidate))).Methods(http.MethodPost)
	}

	return nil
}

// wrap applies the request ID middleware to handlers outside route
// matching.
func (s *Server) wrap(h http.Handler) http.Handler {
	return muxhandlers.RequestIDMiddleware(muxhandlers.RequestIDConfig{Logger: s.cfg.Logger})(h)
}
