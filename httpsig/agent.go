package httpsig

import (
	"fmt"
	"regexp"
	"strings"
)

// AgentFormat selects the wire format of the Signature-Agent header.
type AgentFormat string

const (
	// AgentFormatLegacy is a bare URL: Signature-Agent: https://...
	// The covered component is "signature-agent".
	AgentFormatLegacy AgentFormat = "legacy"

	// AgentFormatDictionary is an RFC 8941 dictionary keyed by signature
	// label: Signature-Agent: sig1="https://..."
	// The covered component is "signature-agent";key="sig1".
	AgentFormatDictionary AgentFormat = "dictionary"
)

// dictKeyPattern matches the start of an RFC 8941 dictionary member. A URL
// never matches because of the ':' in its scheme.
var dictKeyPattern = regexp.MustCompile(`^[a-z*][a-z0-9_.*-]*=`)

// SignatureAgent is the parsed Signature-Agent header. The format is
// carried explicitly so that the header value and the covered component
// identifier are always derived from the same variant.
type SignatureAgent struct {
	Format AgentFormat
	Label  string
	URL    string
}

// NewSignatureAgent returns a SignatureAgent in the given format. Label is
// only used by the dictionary format.
func NewSignatureAgent(format AgentFormat, label, url string) SignatureAgent {
	if format == "" {
		format = AgentFormatDictionary
	}

	if format == AgentFormatLegacy {
		label = ""
	}

	return SignatureAgent{Format: format, Label: label, URL: url}
}

// HeaderValue returns the Signature-Agent header value.
func (a SignatureAgent) HeaderValue() string {
	if a.Format == AgentFormatDictionary {
		return a.Label + "=" + quoteRFC8941(a.URL)
	}

	return a.URL
}

// Component returns the covered component identifier matching the format.
func (a SignatureAgent) Component() Component {
	if a.Format == AgentFormatDictionary {
		return DictMember(ComponentSignatureAgent, a.Label)
	}

	return C(ComponentSignatureAgent)
}

// ParseSignatureAgent parses a Signature-Agent header value. For the
// dictionary format the member named label is selected, falling back to the
// first member when label is empty or absent. A quoted string is accepted
// as a legacy value.
func ParseSignatureAgent(value, label string) (SignatureAgent, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return SignatureAgent{}, fmt.Errorf("%w: empty value", ErrMalformedAgent)
	}

	if strings.HasPrefix(value, `"`) {
		u := unquote(value)
		if u == "" {
			return SignatureAgent{}, fmt.Errorf("%w: empty value", ErrMalformedAgent)
		}

		return SignatureAgent{Format: AgentFormatLegacy, URL: u}, nil
	}

	if !dictKeyPattern.MatchString(value) {
		return SignatureAgent{Format: AgentFormatLegacy, URL: value}, nil
	}

	var first *SignatureAgent

	for _, entry := range splitQuoteAware(value, ',') {
		k, v, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}

		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)

		if !strings.HasPrefix(v, `"`) {
			return SignatureAgent{}, fmt.Errorf("%w: member %q is not a string", ErrMalformedAgent, k)
		}

		agent := SignatureAgent{Format: AgentFormatDictionary, Label: k, URL: unquote(v)}
		if label != "" && k == label {
			return agent, nil
		}

		if first == nil {
			first = &agent
		}
	}

	if first == nil {
		return SignatureAgent{}, fmt.Errorf("%w: no dictionary members", ErrMalformedAgent)
	}

	return *first, nil
}
