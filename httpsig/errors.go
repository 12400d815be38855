package httpsig

import "errors"

// Signing errors.
var (
	// ErrNoSigner is returned when SignOptions has no Signer configured.
	ErrNoSigner = errors.New("httpsig: signer must not be nil")

	// ErrNoCoveredComponents is returned when a signature would cover no
	// components.
	ErrNoCoveredComponents = errors.New("httpsig: covered components must not be empty")

	// ErrNoAgentURL is returned when a Signature-Agent header is requested
	// but no JWKS URL is configured.
	ErrNoAgentURL = errors.New("httpsig: signature agent url must not be empty")
)

// Parsing errors.
var (
	// ErrSignatureNotFound is returned when the expected signature label is
	// not present in the Signature-Input or Signature header.
	ErrSignatureNotFound = errors.New("httpsig: signature not found")

	// ErrMalformedHeader is returned when Signature or Signature-Input
	// headers cannot be parsed.
	ErrMalformedHeader = errors.New("httpsig: malformed signature header")

	// ErrMalformedAgent is returned when a Signature-Agent header cannot be
	// parsed in either the legacy or the dictionary format.
	ErrMalformedAgent = errors.New("httpsig: malformed signature-agent header")
)

// Verification errors.
var (
	// ErrSignatureInvalid is returned when signature verification fails.
	ErrSignatureInvalid = errors.New("httpsig: signature verification failed")
)

// Key material errors.
var (
	// ErrInvalidKey is returned when key material is invalid (nil or wrong
	// size).
	ErrInvalidKey = errors.New("httpsig: invalid key material")
)

// Digest errors.
var (
	// ErrDigestMismatch is returned when Content-Digest verification fails.
	ErrDigestMismatch = errors.New("httpsig: content digest mismatch")

	// ErrDigestNotFound is returned when Content-Digest header is required
	// but not present.
	ErrDigestNotFound = errors.New("httpsig: content digest not found")

	// ErrUnsupportedDigest is returned when the digest algorithm is not
	// supported.
	ErrUnsupportedDigest = errors.New("httpsig: unsupported digest algorithm")
)

// Component errors.
var (
	// ErrUnsupportedComponent is returned when a covered component
	// identifier is not understood by the codec.
	ErrUnsupportedComponent = errors.New("httpsig: unsupported component identifier")

	// ErrMissingCoveredHeader is returned when a covered header component is
	// absent from the request.
	ErrMissingCoveredHeader = errors.New("httpsig: covered header not present")
)
