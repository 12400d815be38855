// Package muxhandlers provides the HTTP middleware shared by the verifier
// service and the enforcement proxy.
//
// # Request ID and logging
//
// RequestIDMiddleware assigns a UUIDv7 request ID and stores a zerolog
// logger carrying it in the request context; handlers log through
// zerolog.Ctx(r.Context()).
//
// # Client address
//
// ProxyHeadersMiddleware honours X-Forwarded-For, X-Real-IP,
// X-Forwarded-Proto and X-Forwarded-Host only from trusted proxies.
// ClientIP returns the resolved address.
//
//	mw, err := muxhandlers.ProxyHeadersMiddleware(muxhandlers.ProxyHeadersConfig{
//	    TrustedProxies: []string{"10.0.0.0/8"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	r.Use(mw)
//
// # Bearer authentication
//
// BearerAuthMiddleware accepts HS256 JWTs and, with a FailureLimiter,
// answers 429 to client IPs that exceed the failure budget.
//
// # Response headers
//
// SecurityHeadersMiddleware marks every response nosniff, unframeable and
// uncacheable unless the handler sets its own Cache-Control.
//
// Every error response is a JSON ErrorBody.
package muxhandlers
