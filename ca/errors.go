package ca

import "errors"

var (
	// ErrNotFound is returned when no issued certificate matches a lookup.
	ErrNotFound = errors.New("ca: certificate not found")

	// ErrAlreadyRevoked is returned when revoking a revoked certificate.
	ErrAlreadyRevoked = errors.New("ca: certificate already revoked")

	// ErrInvalidSubject is returned for an unparsable subject DN.
	ErrInvalidSubject = errors.New("ca: invalid subject")

	// ErrInvalidValidity is returned when the requested validity is out of
	// range.
	ErrInvalidValidity = errors.New("ca: invalid validity")

	// ErrInvalidRequest is returned for malformed issuance input.
	ErrInvalidRequest = errors.New("ca: invalid issuance request")

	// ErrProofInvalid is returned when a proof of possession does not
	// verify.
	ErrProofInvalid = errors.New("ca: invalid proof of possession")

	// ErrProofExpired is returned when a proof timestamp is outside the
	// accepted window.
	ErrProofExpired = errors.New("ca: proof of possession outside time window")

	// ErrProofReplayed is returned when a proof is presented twice.
	ErrProofReplayed = errors.New("ca: proof of possession already used")

	// ErrStorage is returned when the root key or certificate cannot be
	// persisted.
	ErrStorage = errors.New("ca: storage failure")
)
