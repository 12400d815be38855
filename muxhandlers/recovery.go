package muxhandlers

import (
	"net/http"
	"runtime/debug"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// RecoveryConfig configures the Recovery middleware behaviour.
type RecoveryConfig struct {
	// Logger is used when the request context carries no logger.
	Logger zerolog.Logger
}

// RecoveryMiddleware returns a middleware that recovers from panics in
// downstream handlers, logs them and answers 500 with an internal_error
// JSON body. http.ErrAbortHandler is re-raised.
func RecoveryMiddleware(cfg RecoveryConfig) mux.MiddlewareFunc {
	fallback := cfg.Logger

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}

				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				LoggerFrom(r, fallback).Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("handler panic")

				ResponseError(w, http.StatusInternalServerError, "internal_error", "Internal error", "")
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// LoggerFrom returns the request-scoped logger, or fallback when the
// request carries none.
func LoggerFrom(r *http.Request, fallback zerolog.Logger) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}

	return &fallback
}
