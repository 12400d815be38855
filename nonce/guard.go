// Package nonce implements replay protection for signature nonces.
//
// A Guard records each nonce once for a bounded window. Every store relies
// on a single conditional insert (map write under a lock, Redis SET NX,
// PostgreSQL INSERT ... ON CONFLICT) so that concurrent callers presenting
// the same nonce observe exactly one success.
package nonce

import (
	"context"
	"errors"
	"time"

	"github.com/opencontainers/go-digest"
)

var (
	// ErrEmptyNonce is returned for an empty nonce value.
	ErrEmptyNonce = errors.New("nonce: empty nonce")

	// ErrInvalidTTL is returned for a non-positive retention window.
	ErrInvalidTTL = errors.New("nonce: ttl must be positive")
)

// Guard atomically checks and records nonces.
type Guard interface {
	// CheckAndRecord returns true when nonce has not been seen within its
	// retention window and records it for ttl; it returns false for a
	// replay.
	CheckAndRecord(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// Key returns the content-addressed storage key of a nonce: the hex
// SHA-256 digest of its value.
func Key(nonce string) string {
	return digest.FromString(nonce).Encoded()
}

func validate(nonce string, ttl time.Duration) error {
	if nonce == "" {
		return ErrEmptyNonce
	}

	if ttl <= 0 {
		return ErrInvalidTTL
	}

	return nil
}
