package verifier

// Code is a stable, machine-readable verification failure code.
type Code string

const (
	CodeNoSignature            Code = "no_signature"
	CodeMalformedHeaders       Code = "malformed_headers"
	CodeSensitiveHeaderCovered Code = "sensitive_header_covered"
	CodeUntrustedSource        Code = "untrusted_source"
	CodeKeyResolutionFailed    Code = "key_resolution_failed"
	CodeSignatureExpired       Code = "signature_expired"
	CodeSignatureNotYetValid   Code = "signature_not_yet_valid"
	CodeSignatureTooOld        Code = "signature_too_old"
	CodeReplayDetected         Code = "replay_detected"
	CodeSignatureMismatch      Code = "signature_mismatch"
	CodeUnsupportedComponent   Code = "unsupported_component"
	CodeMissingCoveredHeader   Code = "missing_covered_header"
	CodeDigestMismatch         Code = "digest_mismatch"
	CodeUnsupportedAlgorithm   Code = "unsupported_algorithm"
	CodeVerifierUnavailable    Code = "verifier_unavailable"
	CodeUpstreamUnavailable    Code = "upstream_unavailable"
	CodeInternalError          Code = "internal_error"
)

var codeMessages = map[Code]string{
	CodeNoSignature:            "Request is not signed",
	CodeMalformedHeaders:       "Signature headers are missing or malformed",
	CodeSensitiveHeaderCovered: "Signature covers a sensitive header",
	CodeUntrustedSource:        "Signature agent is not a trusted directory",
	CodeKeyResolutionFailed:    "Signing key could not be resolved",
	CodeSignatureExpired:       "Signature has expired",
	CodeSignatureNotYetValid:   "Signature is not yet valid",
	CodeSignatureTooOld:        "Signature is too old",
	CodeReplayDetected:         "Signature nonce has already been used",
	CodeSignatureMismatch:      "Signature verification failed",
	CodeUnsupportedComponent:   "Signature covers an unsupported component",
	CodeMissingCoveredHeader:   "A covered header is missing from the request",
	CodeDigestMismatch:         "Content-Digest does not match the body",
	CodeUnsupportedAlgorithm:   "Signature algorithm is not supported",
	CodeVerifierUnavailable:    "Verifier service is unavailable",
	CodeUpstreamUnavailable:    "Upstream service is unavailable",
	CodeInternalError:          "Internal error",
}

// Message returns a human-readable description of the code.
func (c Code) Message() string {
	if m, ok := codeMessages[c]; ok {
		return m
	}

	return string(c)
}
