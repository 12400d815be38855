package httpsig

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Params holds the signature parameters that appear in Signature-Input and
// in the @signature-params line of the signature base.
type Params struct {
	Components []Component
	Created    time.Time
	Expires    time.Time
	Nonce      string
	KeyID      string
	Alg        Algorithm
	Tag        string

	// raw is the member value exactly as received in Signature-Input.
	raw string
}

// String produces the inner-list representation of the signature
// parameters per RFC 9421 Section 2.3 and RFC 8941 Section 3.1.1.
//
// Format: (<component-ids>);created=N;expires=N;nonce="..";keyid="..";alg="..";tag=".."
func (p Params) String() string {
	var b strings.Builder

	b.WriteByte('(')
	for i, c := range p.Components {
		if i > 0 {
			b.WriteByte(' ')
		}

		b.WriteString(c.String())
	}
	b.WriteByte(')')

	if !p.Created.IsZero() {
		fmt.Fprintf(&b, ";created=%d", p.Created.Unix())
	}

	if !p.Expires.IsZero() {
		fmt.Fprintf(&b, ";expires=%d", p.Expires.Unix())
	}

	if p.Nonce != "" {
		b.WriteString(";nonce=")
		b.WriteString(quoteRFC8941(p.Nonce))
	}

	if p.KeyID != "" {
		b.WriteString(";keyid=")
		b.WriteString(quoteRFC8941(p.KeyID))
	}

	if p.Alg != "" {
		b.WriteString(";alg=")
		b.WriteString(quoteRFC8941(p.Alg.String()))
	}

	if p.Tag != "" {
		b.WriteString(";tag=")
		b.WriteString(quoteRFC8941(p.Tag))
	}

	return b.String()
}

// Raw returns the serialization used for the @signature-params line: the
// received Signature-Input member when the params were parsed, otherwise
// String().
func (p Params) Raw() string {
	if p.raw != "" {
		return p.raw
	}

	return p.String()
}

// Covers reports whether name (ignoring any key selector) is covered.
func (p Params) Covers(name string) bool {
	name = strings.ToLower(name)
	for _, c := range p.Components {
		if c.Name == name {
			return true
		}
	}

	return false
}

// BuildSignatureBase constructs the signature base string per RFC 9421
// Section 2.5. Each covered component produces a line
// "<component-id>": <value> and the final line is
// "@signature-params": <params>. Lines are joined with "\n" and there is no
// trailing newline.
//
// Signer and verifier both call this function; any divergence in the
// produced bytes breaks every signature.
func BuildSignatureBase(p Params, f RequestFacts) (string, error) {
	if len(p.Components) == 0 {
		return "", ErrNoCoveredComponents
	}

	var base strings.Builder

	for _, c := range p.Components {
		val, err := componentValue(c, f)
		if err != nil {
			return "", err
		}

		base.WriteString(c.String())
		base.WriteString(": ")
		base.WriteString(val)
		base.WriteByte('\n')
	}

	base.WriteString(`"@signature-params": `)
	base.WriteString(p.Raw())

	return base.String(), nil
}

// Envelope is one labeled signature carried by a request: the
// Signature-Input label, its parameters and the raw signature bytes.
type Envelope struct {
	Label     string
	Params    Params
	Signature []byte
}

// ParseEnvelope finds the signature labeled label (or the first parsable
// one when label is empty) in the Signature-Input and Signature header
// values.
func ParseEnvelope(sigInput, sig, label string) (Envelope, error) {
	if strings.TrimSpace(sigInput) == "" || strings.TrimSpace(sig) == "" {
		return Envelope{}, ErrSignatureNotFound
	}

	foundLabel, params, err := ParseSignatureInput(sigInput, label)
	if err != nil {
		return Envelope{}, err
	}

	sigBytes, err := ParseSignature(sig, foundLabel)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{Label: foundLabel, Params: params, Signature: sigBytes}, nil
}

// ParseSignatureInput finds the member labeled label in a Signature-Input
// dictionary and parses its parameters. When label is empty the first
// member that parses is returned.
func ParseSignatureInput(header, label string) (string, Params, error) {
	var firstErr error

	for _, entry := range splitQuoteAware(header, ',') {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if label != "" && key != label {
			continue
		}

		params, err := parseSignatureParams(value)
		if err != nil {
			if label != "" {
				return "", Params{}, err
			}

			if firstErr == nil {
				firstErr = err
			}

			continue
		}

		return key, params, nil
	}

	if firstErr != nil {
		return "", Params{}, firstErr
	}

	return "", Params{}, ErrSignatureNotFound
}

// ParseSignature extracts the base64-decoded signature bytes for the given
// label from the Signature header dictionary.
func ParseSignature(header, label string) ([]byte, error) {
	for _, entry := range splitQuoteAware(header, ',') {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if key != label {
			continue
		}

		// Value should be :base64:
		if len(value) < 2 || value[0] != ':' || value[len(value)-1] != ':' {
			return nil, fmt.Errorf("%w: signature value not byte-sequence encoded", ErrMalformedHeader)
		}

		decoded, err := base64.StdEncoding.DecodeString(value[1 : len(value)-1])
		if err != nil {
			return nil, fmt.Errorf("%w: invalid base64 in signature", ErrMalformedHeader)
		}

		return decoded, nil
	}

	return nil, ErrSignatureNotFound
}

// parseSignatureParams parses a signature parameters member value as
// produced by Params.String.
//
// Expected format: ("@method" "signature-agent";key="sig1");created=...;keyid="..."
func parseSignatureParams(raw string) (Params, error) {
	params := Params{raw: raw}

	components, rest, err := parseInnerList(raw)
	if err != nil {
		return params, err
	}

	params.Components = components

	for _, part := range splitParams(rest) {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}

		switch strings.TrimSpace(key) {
		case "created":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return params, fmt.Errorf("%w: invalid created timestamp", ErrMalformedHeader)
			}
			params.Created = time.Unix(ts, 0)

		case "expires":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return params, fmt.Errorf("%w: invalid expires timestamp", ErrMalformedHeader)
			}
			params.Expires = time.Unix(ts, 0)

		case "nonce":
			params.Nonce = unquote(value)

		case "alg":
			params.Alg = Algorithm(unquote(value))

		case "keyid":
			params.KeyID = unquote(value)

		case "tag":
			params.Tag = unquote(value)
		}
	}

	if len(params.Components) == 0 {
		return params, fmt.Errorf("%w: empty covered component list", ErrMalformedHeader)
	}

	if params.KeyID == "" {
		return params, fmt.Errorf("%w: missing keyid parameter", ErrMalformedHeader)
	}

	return params, nil
}

// parseInnerList parses a parenthesized RFC 8941 inner list of quoted
// component identifiers, each optionally followed by ;key="..." parameters.
// It returns the components and the text after the closing paren.
func parseInnerList(s string) ([]Component, string, error) {
	s = strings.TrimSpace(s)
	if s == "" || s[0] != '(' {
		return nil, "", fmt.Errorf("%w: invalid signature params format", ErrMalformedHeader)
	}

	var items []Component
	i := 1

	for {
		for i < len(s) && s[i] == ' ' {
			i++
		}

		if i >= len(s) {
			return nil, "", fmt.Errorf("%w: unterminated component list", ErrMalformedHeader)
		}

		if s[i] == ')' {
			i++
			break
		}

		if s[i] != '"' {
			return nil, "", fmt.Errorf("%w: component identifier must be a quoted string", ErrMalformedHeader)
		}

		name, n, ok := readQuoted(s[i:])
		if !ok {
			return nil, "", fmt.Errorf("%w: unterminated component identifier", ErrMalformedHeader)
		}
		i += n

		comp := Component{Name: strings.ToLower(name)}

		for i < len(s) && s[i] == ';' {
			i++

			end := strings.IndexAny(s[i:], "= ;)")
			if end < 0 {
				return nil, "", fmt.Errorf("%w: invalid component parameter", ErrMalformedHeader)
			}

			pkey := s[i : i+end]
			i += end

			if s[i] != '=' {
				return nil, "", fmt.Errorf("%w: component parameter %q", ErrUnsupportedComponent, pkey)
			}

			i++

			var pval string
			if i < len(s) && s[i] == '"' {
				v, n, ok := readQuoted(s[i:])
				if !ok {
					return nil, "", fmt.Errorf("%w: unterminated component parameter", ErrMalformedHeader)
				}

				pval = v
				i += n
			} else {
				end := strings.IndexAny(s[i:], " ;)")
				if end < 0 {
					return nil, "", fmt.Errorf("%w: unterminated component parameter", ErrMalformedHeader)
				}

				pval = s[i : i+end]
				i += end
			}

			if pkey != "key" {
				return nil, "", fmt.Errorf("%w: component parameter %q", ErrUnsupportedComponent, pkey)
			}

			comp.Key = pval
		}

		items = append(items, comp)
	}

	return items, s[i:], nil
}

// readQuoted reads an RFC 8941 quoted string at the start of s and returns
// the unescaped value and the number of bytes consumed.
func readQuoted(s string) (string, int, bool) {
	var b strings.Builder

	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 >= len(s) {
				return "", 0, false
			}

			i++
			b.WriteByte(s[i])

		case '"':
			return b.String(), i + 1, true

		default:
			b.WriteByte(s[i])
		}
	}

	return "", 0, false
}

// splitQuoteAware splits s on delim while respecting "..." quoted regions.
// Backslash-escaped quotes (\") inside quoted strings are handled. Each
// resulting part is trimmed of whitespace and empty parts are skipped.
func splitQuoteAware(s string, delim byte) []string {
	var result []string
	var part strings.Builder
	inQuote := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if inQuote {
			if ch == '\\' && i+1 < len(s) {
				part.WriteByte(ch)
				i++
				part.WriteByte(s[i])
				continue
			}

			if ch == '"' {
				inQuote = false
			}

			part.WriteByte(ch)
			continue
		}

		if ch == '"' {
			inQuote = true
			part.WriteByte(ch)
			continue
		}

		if ch == delim {
			if p := strings.TrimSpace(part.String()); p != "" {
				result = append(result, p)
			}

			part.Reset()
			continue
		}

		part.WriteByte(ch)
	}

	if p := strings.TrimSpace(part.String()); p != "" {
		result = append(result, p)
	}

	return result
}

// splitParams splits ";key=value" parameter pairs.
func splitParams(s string) []string {
	s = strings.TrimLeft(s, " ")
	if s == "" {
		return nil
	}

	return splitQuoteAware(s, ';')
}

// quoteRFC8941 produces an RFC 8941 quoted-string. Only backslash and
// double-quote are escaped (Section 3.3.3).
func quoteRFC8941(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '\\' || ch == '"' {
			b.WriteByte('\\')
		}

		b.WriteByte(ch)
	}

	b.WriteByte('"')

	return b.String()
}

// unquote removes surrounding double quotes and unescapes RFC 8941
// escape sequences (\\ → \ and \" → ").
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			b.WriteByte(s[i])

			continue
		}

		b.WriteByte(s[i])
	}

	return b.String()
}
