package keys

import "errors"

var (
	// ErrUntrustedSource is returned when a JWKS URL is not on the
	// trusted-directory allowlist.
	ErrUntrustedSource = errors.New("keys: untrusted key source")

	// ErrInvalidSource is returned when a JWKS URL is not an absolute
	// http(s) URL.
	ErrInvalidSource = errors.New("keys: invalid key source url")

	// ErrFetchFailed is returned when a JWKS document cannot be retrieved.
	ErrFetchFailed = errors.New("keys: jwks fetch failed")

	// ErrInvalidJWKS is returned when a fetched document is not a JWK set.
	ErrInvalidJWKS = errors.New("keys: invalid jwks document")

	// ErrKeyNotFound is returned when no JWK with the requested kid exists.
	ErrKeyNotFound = errors.New("keys: key not found")

	// ErrInvalidJWK is returned when a JWK is not a usable Ed25519
	// signing key.
	ErrInvalidJWK = errors.New("keys: invalid jwk")

	// ErrKeyNotActive is returned when a JWK is outside its nbf/exp window.
	ErrKeyNotActive = errors.New("keys: key not active")

	// ErrChainInvalid is returned when an X.509 chain fails validation.
	ErrChainInvalid = errors.New("keys: certificate chain invalid")

	// ErrCertificateRevoked is returned when the leaf certificate of a
	// chain has been revoked.
	ErrCertificateRevoked = errors.New("keys: certificate revoked")
)
