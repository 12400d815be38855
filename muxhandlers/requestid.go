package muxhandlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/net/http/httpguts"
)

const maxRequestIDLength = 128

type requestIDKey struct{}

// RequestIDFromContext returns the request ID stored in the context by
// RequestIDMiddleware. Returns an empty string if no ID is present.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}

	return ""
}

// RequestIDConfig configures the Request ID middleware behaviour.
type RequestIDConfig struct {
	// HeaderName overrides the header used to propagate the request ID.
	// Defaults to "X-Request-ID" when empty.
	HeaderName string

	// GenerateFunc returns a new unique ID. Defaults to GenerateUUIDv7.
	GenerateFunc func(r *http.Request) string

	// TrustIncoming reuses a well-formed request ID from the incoming
	// header instead of generating a new one.
	TrustIncoming bool

	// Logger is the base logger; the request-scoped logger derived from it
	// carries a request_id field and is stored in the request context.
	Logger zerolog.Logger
}

// RequestIDMiddleware returns a middleware that generates or propagates a
// request ID header and seeds the request context with a logger carrying
// that ID. The ID is set on both the request and the response.
func RequestIDMiddleware(cfg RequestIDConfig) mux.MiddlewareFunc {
	headerName := cfg.HeaderName
	if headerName == "" {
		headerName = "X-Request-ID"
	}

	generate := cfg.GenerateFunc
	if generate == nil {
		generate = GenerateUUIDv7
	}

	trustIncoming := cfg.TrustIncoming
	base := cfg.Logger

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if trustIncoming {
				id = r.Header.Get(headerName)
				if len(id) > maxRequestIDLength || !httpguts.ValidHeaderFieldValue(id) {
					id = ""
				}
			}

			if id == "" {
				id = generate(r)
			}

			if id == "" {
				next.ServeHTTP(w, r)
				return
			}

			r.Header.Set(headerName, id)
			w.Header().Set(headerName, id)

			logger := base.With().Str("request_id", id).Logger()
			ctx := logger.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GenerateUUIDv7 returns a new time-ordered UUID v7 string.
func GenerateUUIDv7(_ *http.Request) string {
	return uuid.Must(uuid.NewV7()).String()
}
