package muxhandlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// ErrInvalidMaxSize is returned when RequestSizeLimitConfig.MaxBytes is not
// greater than zero.
var ErrInvalidMaxSize = errors.New("request size limit: max size must be greater than zero")

// RequestSizeLimitConfig configures the Request Size Limit middleware behaviour.
type RequestSizeLimitConfig struct {
	// MaxBytes is the maximum allowed request body size in bytes.
	MaxBytes int64
}

// RequestSizeLimitMiddleware returns a middleware that limits request
// bodies to MaxBytes. A declared Content-Length above the limit is
// rejected with a 413 JSON body before the handler runs; otherwise the
// body is wrapped with http.MaxBytesReader and handlers detect overflow
// with IsBodyTooLarge.
func RequestSizeLimitMiddleware(cfg RequestSizeLimitConfig) (mux.MiddlewareFunc, error) {
	if cfg.MaxBytes <= 0 {
		return nil, ErrInvalidMaxSize
	}

	maxBytes := cfg.MaxBytes

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				BodyTooLarge(w, maxBytes)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}, nil
}

// IsBodyTooLarge reports whether err came from a body exceeding the limit.
func IsBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

// BodyTooLarge writes a 413 JSON error.
func BodyTooLarge(w http.ResponseWriter, maxBytes int64) {
	ResponseError(w, http.StatusRequestEntityTooLarge, "body_too_large",
		"Request body too large", "limit is "+strconv.FormatInt(maxBytes, 10)+" bytes")
}
