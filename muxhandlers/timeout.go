package muxhandlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// ErrInvalidTimeout is returned when TimeoutConfig.Duration is not greater
// than zero.
var ErrInvalidTimeout = errors.New("timeout: duration must be greater than zero")

const timeoutBody = `{"error":"timeout","message":"Request timed out"}`

// TimeoutConfig configures the Timeout middleware behaviour.
type TimeoutConfig struct {
	// Duration is the maximum time allowed for the handler to complete.
	Duration time.Duration
}

// TimeoutMiddleware returns a middleware that limits handler execution time
// with http.TimeoutHandler. A handler that does not finish in time yields
// 503 with a JSON body; its request context is cancelled.
//
// It returns ErrInvalidTimeout if Duration is not greater than zero.
func TimeoutMiddleware(cfg TimeoutConfig) (mux.MiddlewareFunc, error) {
	if cfg.Duration <= 0 {
		return nil, ErrInvalidTimeout
	}

	duration := cfg.Duration

	return func(next http.Handler) http.Handler {
		inner := http.TimeoutHandler(next, duration, timeoutBody)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			inner.ServeHTTP(w, r)
		})
	}, nil
}
