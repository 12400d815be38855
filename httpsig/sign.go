package httpsig

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"time"
)

const (
	// nonceSize is the number of random bytes used to generate a nonce.
	nonceSize = 16

	// DefaultLabel is the signature label used when none is configured.
	DefaultLabel = "sig1"

	// DefaultTag is the tag parameter for bot authentication signatures.
	DefaultTag = "web-bot-auth"

	// DefaultTTL is the distance between created and expires.
	DefaultTTL = 300 * time.Second

	defaultBodyContentType = "application/octet-stream"
)

// defaultCoveredComponents are always signed; content-type, content-digest
// and signature-agent are appended as applicable.
var defaultCoveredComponents = []Component{
	C(ComponentMethod),
	C(ComponentPath),
	C(ComponentAuthority),
}

// GenerateNonce returns a cryptographically random nonce string. The
// returned value is 16 random bytes encoded as unpadded base64url
// (22 characters).
func GenerateNonce() (string, error) {
	b := make([]byte, nonceSize)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

// SignOptions configures request signing for bot authentication.
type SignOptions struct {
	// Signer produces signatures. Required.
	Signer Signer

	// JWKSURL is the JWKS document advertised in Signature-Agent. Required
	// unless OmitSignatureAgent is set.
	JWKSURL string

	// AgentFormat selects the Signature-Agent wire format. Defaults to
	// AgentFormatDictionary.
	AgentFormat AgentFormat

	// OmitSignatureAgent disables the Signature-Agent header and its
	// covered component.
	OmitSignatureAgent bool

	// Label identifies the signature in Signature/Signature-Input headers.
	// Defaults to "sig1".
	Label string

	// Tag defaults to "web-bot-auth".
	Tag string

	// TTL is the validity window of the signature. Defaults to 300s.
	TTL time.Duration

	// ContentType is set on requests with a body that carry no
	// Content-Type header.
	ContentType string

	// DigestAlgorithm, when set, adds a Content-Digest header (RFC 9530)
	// for requests with a body and covers it.
	DigestAlgorithm DigestAlgorithm

	// Components overrides the default covered components. The
	// Signature-Agent component is still appended unless omitted.
	Components []Component

	// Nonce overrides the generated nonce.
	Nonce string

	// Now returns the signing time. Defaults to time.Now.
	Now func() time.Time
}

// SignedRequest holds the headers and body produced by Sign.
type SignedRequest struct {
	Headers http.Header
	Body    []byte
}

// Sign produces the signature headers for a request to rawURL. The returned
// headers contain Signature-Input, Signature, Signature-Agent (unless
// omitted) and, when body is non-empty, Content-Type and optionally
// Content-Digest.
func Sign(method, rawURL string, body []byte, opts SignOptions) (*SignedRequest, error) {
	var reader *bytes.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	var req *http.Request
	var err error

	if reader != nil {
		req, err = http.NewRequest(method, rawURL, reader)
	} else {
		req, err = http.NewRequest(method, rawURL, nil)
	}

	if err != nil {
		return nil, err
	}

	if err := SignRequest(req, opts); err != nil {
		return nil, err
	}

	return &SignedRequest{Headers: req.Header, Body: body}, nil
}

// SignRequest signs an HTTP request in-place by adding Signature,
// Signature-Input and Signature-Agent headers per RFC 9421 and the web bot
// auth profile.
func SignRequest(r *http.Request, opts SignOptions) error {
	if opts.Signer == nil {
		return ErrNoSigner
	}

	if !opts.OmitSignatureAgent && opts.JWKSURL == "" {
		return ErrNoAgentURL
	}

	label := opts.Label
	if label == "" {
		label = DefaultLabel
	}

	tag := opts.Tag
	if tag == "" {
		tag = DefaultTag
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	nonce := opts.Nonce
	if nonce == "" {
		n, err := GenerateNonce()
		if err != nil {
			return err
		}

		nonce = n
	}

	components := append([]Component(nil), opts.Components...)
	if len(components) == 0 {
		components = append(components, defaultCoveredComponents...)
	}

	if hasBody(r) {
		if r.Header.Get("Content-Type") == "" {
			ct := opts.ContentType
			if ct == "" {
				ct = defaultBodyContentType
			}

			r.Header.Set("Content-Type", ct)
		}

		components = appendMissing(components, C(ComponentContentType))

		if opts.DigestAlgorithm != "" {
			if err := SetContentDigest(r, opts.DigestAlgorithm); err != nil {
				return err
			}

			components = appendMissing(components, C(ComponentContentDigest))
		}
	}

	if !opts.OmitSignatureAgent {
		agent := NewSignatureAgent(opts.AgentFormat, label, opts.JWKSURL)
		r.Header.Set("Signature-Agent", agent.HeaderValue())
		components = appendMissing(components, agent.Component())
	}

	created := now()

	params := Params{
		Components: components,
		Created:    created,
		Expires:    created.Add(ttl),
		Nonce:      nonce,
		KeyID:      opts.Signer.KeyID(),
		Alg:        opts.Signer.Algorithm(),
		Tag:        tag,
	}

	base, err := BuildSignatureBase(params, FactsFromRequest(r))
	if err != nil {
		return err
	}

	sig, err := opts.Signer.Sign([]byte(base))
	if err != nil {
		return err
	}

	// Append to existing headers (supports multiple signatures).
	appendDictMember(r, "Signature-Input", label, params.String())
	appendDictMember(r, "Signature", label, ":"+base64.StdEncoding.EncodeToString(sig)+":")

	return nil
}

func hasBody(r *http.Request) bool {
	return r.Body != nil && r.Body != http.NoBody
}

// appendMissing appends c unless an identical component is already listed.
func appendMissing(components []Component, c Component) []Component {
	for _, existing := range components {
		if existing == c {
			return components
		}
	}

	return append(components, c)
}

// appendDictMember appends a key=value member to an RFC 8941 dictionary
// header. If the header already has content, the new member is appended
// with a comma separator.
func appendDictMember(r *http.Request, header, key, value string) {
	existing := r.Header.Get(header)
	entry := key + "=" + value

	if existing == "" {
		r.Header.Set(header, entry)
	} else {
		r.Header.Set(header, existing+", "+entry)
	}
}
