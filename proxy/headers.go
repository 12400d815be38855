package proxy

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/http/httpguts"

	"github.com/vitalvas/botauth/verifier"
)

// Result headers set on the upstream request and echoed to the client.
const (
	HeaderVerified = "X-OBAuth-Verified"
	HeaderAgent    = "X-OBAuth-Agent"
	HeaderJWKSURL  = "X-OBAuth-JWKS-URL"
	HeaderKid      = "X-OBAuth-Kid"
	HeaderError    = "X-OBAuth-Error"

	obauthPrefix = "X-Obauth-"

	// MaxHeaderValueLength bounds every injected header value.
	MaxHeaderValueLength = 1024
)

// SanitizeHeaderValue makes v safe for an outgoing header: control bytes
// (including CR and LF) are removed, the result is trimmed and clamped to
// MaxHeaderValueLength bytes on a rune boundary. A value that still fails
// httpguts.ValidHeaderFieldValue becomes empty.
func SanitizeHeaderValue(v string) string {
	v = strings.Map(func(r rune) rune {
		if r == '\t' {
			return ' '
		}

		if r < 0x20 || r == 0x7f {
			return -1
		}

		return r
	}, v)

	v = strings.TrimSpace(v)

	if len(v) > MaxHeaderValueLength {
		cut := MaxHeaderValueLength
		for cut > 0 && !utf8.RuneStart(v[cut]) {
			cut--
		}

		v = v[:cut]
	}

	if !httpguts.ValidHeaderFieldValue(v) {
		return ""
	}

	return v
}

// StripResultHeaders removes every X-OBAuth-* header so clients cannot
// spoof verification results.
func StripResultHeaders(h http.Header) {
	for name := range h {
		if strings.HasPrefix(http.CanonicalHeaderKey(name), obauthPrefix) {
			delete(h, name)
		}
	}
}

// SetResultHeaders writes the verification outcome onto h. A nil result
// means the request was not signed.
func SetResultHeaders(h http.Header, res *verifier.Result) {
	StripResultHeaders(h)

	if res == nil || !res.Verified {
		h.Set(HeaderVerified, "false")

		if res != nil {
			setSanitized(h, HeaderError, res.Error)
		}

		return
	}

	h.Set(HeaderVerified, "true")

	if res.Agent == nil {
		return
	}

	agent := res.Agent.ClientName
	if agent == "" {
		agent = res.Agent.JWKSURL
	}

	setSanitized(h, HeaderAgent, agent)
	setSanitized(h, HeaderJWKSURL, res.Agent.JWKSURL)
	setSanitized(h, HeaderKid, res.Agent.Kid)
}

// echoResultHeaders copies the client-facing subset of the outcome.
func echoResultHeaders(h http.Header, res *verifier.Result) {
	SetResultHeaders(h, res)
	h.Del(HeaderJWKSURL)
	h.Del(HeaderKid)
}

func setSanitized(h http.Header, name, value string) {
	if v := SanitizeHeaderValue(value); v != "" {
		h.Set(name, v)
	}
}
