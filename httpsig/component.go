package httpsig

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// Derived component identifiers per RFC 9421 Section 2.2.
const (
	ComponentMethod        = "@method"
	ComponentAuthority     = "@authority"
	ComponentPath          = "@path"
	ComponentQuery         = "@query"
	ComponentTargetURI     = "@target-uri"
	ComponentScheme        = "@scheme"
	ComponentRequestTarget = "@request-target"
)

// Header component names used by bot authentication.
const (
	ComponentSignatureAgent = "signature-agent"
	ComponentContentType    = "content-type"
	ComponentContentDigest  = "content-digest"
)

// Component is a covered component identifier. Name is the lowercased
// derived component or header field name. Key, when set, selects a single
// member of a dictionary structured header (RFC 9421 Section 2.1.2).
type Component struct {
	Name string
	Key  string
}

// C returns the component identifier for name, lowercased.
func C(name string) Component {
	return Component{Name: strings.ToLower(name)}
}

// DictMember returns the component identifier selecting member key of the
// dictionary header name.
func DictMember(name, key string) Component {
	return Component{Name: strings.ToLower(name), Key: key}
}

// IsDerived reports whether the component is a derived component.
func (c Component) IsDerived() bool {
	return strings.HasPrefix(c.Name, "@")
}

// String serializes the component identifier as it appears in the
// Signature-Input inner list and at the start of a signature base line,
// e.g. "@method" or "signature-agent";key="sig1".
func (c Component) String() string {
	s := quoteRFC8941(c.Name)
	if c.Key != "" {
		s += ";key=" + quoteRFC8941(c.Key)
	}

	return s
}

// RequestFacts holds the parts of a request that covered components are
// derived from. Header lookups are case-insensitive.
type RequestFacts struct {
	Method    string
	Scheme    string
	Authority string
	Path      string
	RawQuery  string
	Header    http.Header
}

// FactsFromRequest extracts RequestFacts from an HTTP request. It works for
// both client requests (before sending) and server requests.
func FactsFromRequest(r *http.Request) RequestFacts {
	host := r.Host
	if host == "" && r.URL != nil {
		host = r.URL.Host
	}

	s := scheme(r)

	f := RequestFacts{
		Method:    r.Method,
		Scheme:    s,
		Authority: authority(s, host),
		Path:      "/",
		Header:    r.Header,
	}

	if r.URL != nil {
		if p := r.URL.EscapedPath(); p != "" {
			f.Path = p
		}

		f.RawQuery = r.URL.RawQuery
	}

	return f
}

// FactsFromURL builds RequestFacts from a method, an absolute URL and a
// header set, as supplied to a remote verification call.
func FactsFromURL(method, rawURL string, header http.Header) (RequestFacts, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return RequestFacts{}, fmt.Errorf("%w: invalid url: %v", ErrMalformedHeader, err)
	}

	if u.Host == "" {
		return RequestFacts{}, fmt.Errorf("%w: url must be absolute", ErrMalformedHeader)
	}

	if header == nil {
		header = http.Header{}
	}

	s := strings.ToLower(u.Scheme)
	if s == "" {
		s = "https"
	}

	f := RequestFacts{
		Method:    strings.ToUpper(method),
		Scheme:    s,
		Authority: authority(s, u.Host),
		Path:      u.EscapedPath(),
		RawQuery:  u.RawQuery,
		Header:    header,
	}

	if f.Path == "" {
		f.Path = "/"
	}

	return f, nil
}

// componentValue extracts the value of a covered component per RFC 9421
// Section 2.
//
// Derived components start with "@". Header field values are trimmed and
// multiple field lines are joined with ", ".
func componentValue(c Component, f RequestFacts) (string, error) {
	if c.IsDerived() {
		if c.Key != "" {
			return "", fmt.Errorf("%w: %s", ErrUnsupportedComponent, c)
		}

		return derivedComponentValue(c.Name, f)
	}

	return headerComponentValue(c, f)
}

// derivedComponentValue extracts the value of a derived component identifier
// per RFC 9421 Section 2.2.
func derivedComponentValue(id string, f RequestFacts) (string, error) {
	switch id {
	case ComponentMethod:
		return f.Method, nil

	case ComponentAuthority:
		return f.Authority, nil

	case ComponentPath:
		return f.Path, nil

	case ComponentQuery:
		return "?" + f.RawQuery, nil

	case ComponentScheme:
		return f.Scheme, nil

	case ComponentTargetURI:
		uri := f.Scheme + "://" + f.Authority + f.Path
		if f.RawQuery != "" {
			uri += "?" + f.RawQuery
		}

		return uri, nil

	case ComponentRequestTarget:
		if f.RawQuery != "" {
			return f.Path + "?" + f.RawQuery, nil
		}

		return f.Path, nil

	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedComponent, id)
	}
}

// headerComponentValue extracts the value of a header field per RFC 9421
// Section 2.1, or of a single dictionary member when the component carries
// a key parameter.
//
// The "host" header is special-cased because net/http stores it in
// Request.Host rather than in the header map.
func headerComponentValue(c Component, f RequestFacts) (string, error) {
	values := f.Header.Values(c.Name)

	if len(values) == 0 && c.Name == "host" && f.Authority != "" {
		values = []string{f.Authority}
	}

	if len(values) == 0 {
		return "", fmt.Errorf("%w: %q", ErrMissingCoveredHeader, c.Name)
	}

	trimmed := make([]string, len(values))
	for i, v := range values {
		trimmed[i] = strings.TrimSpace(v)
	}

	joined := strings.Join(trimmed, ", ")

	if c.Key == "" {
		return joined, nil
	}

	member, ok := dictionaryMember(joined, c.Key)
	if !ok {
		return "", fmt.Errorf("%w: %q has no member %q", ErrMissingCoveredHeader, c.Name, c.Key)
	}

	return member, nil
}

// dictionaryMember returns the re-serialized value of member key from an
// RFC 8941 dictionary. String values are re-quoted so that the result is
// independent of the sender's escaping.
func dictionaryMember(header, key string) (string, bool) {
	for _, entry := range splitQuoteAware(header, ',') {
		k, v, ok := strings.Cut(entry, "=")
		if !ok {
			if strings.TrimSpace(entry) == key {
				return "?1", true
			}

			continue
		}

		if strings.TrimSpace(k) != key {
			continue
		}

		v = strings.TrimSpace(v)
		if strings.HasPrefix(v, `"`) {
			return quoteRFC8941(unquote(v)), true
		}

		return v, true
	}

	return "", false
}

// authority returns the lowercased host[:port], omitting the default port
// for the scheme.
func authority(scheme, host string) string {
	host = strings.ToLower(host)

	h, port, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}

	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		if strings.Contains(h, ":") {
			return "[" + h + "]"
		}

		return h
	}

	return host
}

// scheme returns the request scheme (http or https).
func scheme(r *http.Request) string {
	if r.URL != nil && r.URL.Scheme != "" {
		return strings.ToLower(r.URL.Scheme)
	}

	if r.TLS != nil {
		return "https"
	}

	return "http"
}
