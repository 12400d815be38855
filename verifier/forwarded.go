package verifier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vitalvas/botauth/httpsig"
)

// ErrSensitiveHeader is returned when a signature covers a header that
// must not leave the proxy.
var ErrSensitiveHeader = errors.New("verifier: signature covers a sensitive header")

// signatureHeaders are always forwarded to a verifier.
var signatureHeaders = []string{"signature-input", "signature", "signature-agent"}

// ExtractForwardedHeaders selects the headers a verifier needs: the
// signature headers plus every covered, non-derived header. A covered
// sensitive header is an error. When Signature-Input does not parse only
// the signature headers are returned and the verifier reports the problem.
func ExtractForwardedHeaders(h Headers, label string) (Headers, error) {
	out := make(Headers, len(signatureHeaders))

	for _, name := range signatureHeaders {
		if value, ok := h[name]; ok {
			out[name] = value
		}
	}

	_, params, err := httpsig.ParseSignatureInput(h["signature-input"], label)
	if err != nil {
		return out, nil
	}

	for _, c := range params.Components {
		if c.IsDerived() {
			continue
		}

		if IsSensitiveHeader(c.Name) {
			return nil, fmt.Errorf("%w: %s", ErrSensitiveHeader, c.Name)
		}

		if value, ok := h[c.Name]; ok {
			out[c.Name] = value
		}
	}

	return out, nil
}

// CoversHeader reports whether the Signature-Input in h covers name.
func CoversHeader(h Headers, label, name string) bool {
	_, params, err := httpsig.ParseSignatureInput(h["signature-input"], label)
	if err != nil {
		return false
	}

	return params.Covers(strings.ToLower(name))
}
