// Package verifier implements the bot-auth verification engine: it parses
// the signature headers of a request, resolves the signer's key from its
// JWKS directory, enforces freshness and single use, and checks the
// Ed25519 signature over the rebuilt signature base.
package verifier

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vitalvas/botauth/httpsig"
	"github.com/vitalvas/botauth/keys"
	"github.com/vitalvas/botauth/nonce"
)

const (
	DefaultClockSkew = 30 * time.Second
	DefaultMaxAge    = 300 * time.Second
	DefaultNonceTTL  = 600 * time.Second
)

// Header names read by the engine.
const (
	HeaderSignature      = "Signature"
	HeaderSignatureInput = "Signature-Input"
	HeaderSignatureAgent = "Signature-Agent"
	HeaderContentDigest  = "Content-Digest"
)

// sensitiveHeaders may never be covered by a signature.
var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"cookie":              {},
	"proxy-authorization": {},
	"www-authenticate":    {},
}

// IsSensitiveHeader reports whether name carries credentials that must not
// be covered by a signature or forwarded to a verifier.
func IsSensitiveHeader(name string) bool {
	_, ok := sensitiveHeaders[strings.ToLower(name)]
	return ok
}

// KeyResolver resolves a key id published at a JWKS URL.
type KeyResolver interface {
	Resolve(ctx context.Context, jwksURL, kid string) (*keys.Resolved, error)
}

// Verifier verifies a request described by a Request.
type Verifier interface {
	Verify(ctx context.Context, req Request) Result
}

// Config configures an Engine.
type Config struct {
	// Resolver resolves signing keys. Required.
	Resolver KeyResolver

	// Nonces records used nonces. Required.
	Nonces nonce.Guard

	// Label selects the signature label; empty picks the first parsable
	// signature.
	Label string

	// ClockSkew is the tolerated future drift of created. Defaults to 30s.
	ClockSkew time.Duration

	// MaxAge is the maximum age of created. Defaults to 300s.
	MaxAge time.Duration

	// NonceTTL is the minimum nonce retention. Defaults to 600s.
	NonceTTL time.Duration

	// AllowMissingNonce accepts signatures without a nonce parameter.
	// Such signatures are replayable within their validity window.
	AllowMissingNonce bool

	Logger zerolog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine is the verification state machine. It is safe for concurrent
// use.
type Engine struct {
	cfg Config
}

// New validates cfg and returns an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("verifier: resolver is required")
	}

	if cfg.Nonces == nil {
		return nil, errors.New("verifier: nonce guard is required")
	}

	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = DefaultClockSkew
	}

	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}

	if cfg.NonceTTL <= 0 {
		cfg.NonceTTL = DefaultNonceTTL
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Engine{cfg: cfg}, nil
}

// verification carries state between the steps of one Verify call.
type verification struct {
	facts    httpsig.RequestFacts
	body     []byte
	hasBody  bool
	envelope httpsig.Envelope
	agent    httpsig.SignatureAgent
	resolved *keys.Resolved
}

type step func(ctx context.Context, v *verification) *Result

// Verify runs the verification state machine for req. Failures are
// returned as data; the first failing step ends verification.
func (e *Engine) Verify(ctx context.Context, req Request) Result {
	header := req.Headers.HTTP()

	if header.Get(HeaderSignatureInput) == "" && header.Get(HeaderSignature) == "" {
		return Failure(CodeNoSignature, "")
	}

	facts, err := httpsig.FactsFromURL(req.Method, req.URL, header)
	if err != nil {
		return Failure(CodeMalformedHeaders, "invalid request url")
	}

	v := &verification{facts: facts}
	if req.Body != nil {
		v.body = []byte(*req.Body)
		v.hasBody = true
	}

	steps := []step{
		e.parseHeaders,
		e.checkSensitiveCoverage,
		e.resolveKey,
		e.checkTimestamps,
		e.checkNonce,
		e.verifySignature,
		e.checkDigest,
	}

	for _, s := range steps {
		if res := s(ctx, v); res != nil {
			e.cfg.Logger.Debug().
				Str("code", string(res.Code)).
				Str("keyid", v.envelope.Params.KeyID).
				Str("jwks_url", v.agent.URL).
				Msg("signature rejected")

			stampTimestamps(res, v.envelope.Params)

			return *res
		}
	}

	p := v.envelope.Params

	res := Result{
		Verified: true,
		Agent: &Agent{
			JWKSURL:    v.resolved.JWKSURL,
			Kid:        p.KeyID,
			ClientName: v.resolved.ClientName,
		},
	}

	stampTimestamps(&res, p)

	return res
}

// stampTimestamps echoes created and expires into res once the signature
// parameters have been parsed.
func stampTimestamps(res *Result, p httpsig.Params) {
	if !p.Created.IsZero() {
		res.Created = p.Created.Unix()
	}

	if !p.Expires.IsZero() {
		res.Expires = p.Expires.Unix()
	}
}

func fail(code Code, detail string) *Result {
	res := Failure(code, detail)
	return &res
}

func (e *Engine) parseHeaders(_ context.Context, v *verification) *Result {
	h := v.facts.Header

	env, err := httpsig.ParseEnvelope(h.Get(HeaderSignatureInput), h.Get(HeaderSignature), e.cfg.Label)
	if err != nil {
		if errors.Is(err, httpsig.ErrUnsupportedComponent) {
			return fail(CodeUnsupportedComponent, "")
		}

		return fail(CodeMalformedHeaders, "")
	}

	p := env.Params

	if p.Created.IsZero() {
		return fail(CodeMalformedHeaders, "missing created")
	}

	if !p.Expires.IsZero() && !p.Expires.After(p.Created) {
		return fail(CodeMalformedHeaders, "expires must be after created")
	}

	if p.KeyID == "" {
		return fail(CodeMalformedHeaders, "missing keyid")
	}

	if p.Alg != "" && p.Alg != httpsig.AlgorithmEd25519 {
		return fail(CodeUnsupportedAlgorithm, string(p.Alg))
	}

	v.envelope = env

	return nil
}

func (e *Engine) checkSensitiveCoverage(_ context.Context, v *verification) *Result {
	for _, c := range v.envelope.Params.Components {
		if !c.IsDerived() && IsSensitiveHeader(c.Name) {
			return fail(CodeSensitiveHeaderCovered, c.Name)
		}
	}

	return nil
}

func (e *Engine) resolveKey(ctx context.Context, v *verification) *Result {
	value := v.facts.Header.Get(HeaderSignatureAgent)
	if value == "" {
		return fail(CodeKeyResolutionFailed, "missing Signature-Agent")
	}

	agent, err := httpsig.ParseSignatureAgent(value, v.envelope.Label)
	if err != nil {
		return fail(CodeKeyResolutionFailed, "malformed Signature-Agent")
	}

	u, err := url.Parse(agent.URL)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return fail(CodeKeyResolutionFailed, "Signature-Agent must be an absolute http(s) url")
	}

	v.agent = agent

	resolved, err := e.cfg.Resolver.Resolve(ctx, agent.URL, v.envelope.Params.KeyID)
	if err != nil {
		if errors.Is(err, keys.ErrUntrustedSource) {
			return fail(CodeUntrustedSource, "")
		}

		e.cfg.Logger.Debug().Err(err).Str("jwks_url", agent.URL).Msg("key resolution failed")

		return fail(CodeKeyResolutionFailed, "")
	}

	v.resolved = resolved

	return nil
}

func (e *Engine) checkTimestamps(_ context.Context, v *verification) *Result {
	now := e.cfg.Now()
	p := v.envelope.Params

	if !p.Expires.IsZero() && now.After(p.Expires) {
		return fail(CodeSignatureExpired, "")
	}

	if p.Created.After(now.Add(e.cfg.ClockSkew)) {
		return fail(CodeSignatureNotYetValid, "")
	}

	if now.Sub(p.Created) > e.cfg.MaxAge {
		return fail(CodeSignatureTooOld, "")
	}

	return nil
}

func (e *Engine) checkNonce(ctx context.Context, v *verification) *Result {
	p := v.envelope.Params

	if p.Nonce == "" {
		if e.cfg.AllowMissingNonce {
			return nil
		}

		return fail(CodeMalformedHeaders, "missing nonce")
	}

	ttl := e.cfg.NonceTTL
	if !p.Expires.IsZero() {
		if remaining := p.Expires.Sub(e.cfg.Now()); remaining > ttl {
			ttl = remaining
		}
	}

	fresh, err := e.cfg.Nonces.CheckAndRecord(ctx, p.Nonce, ttl)
	if err != nil {
		e.cfg.Logger.Error().Err(err).Msg("nonce store failure")
		return fail(CodeInternalError, "")
	}

	if !fresh {
		return fail(CodeReplayDetected, "")
	}

	return nil
}

func (e *Engine) verifySignature(_ context.Context, v *verification) *Result {
	p := v.envelope.Params

	base, err := httpsig.BuildSignatureBase(p, v.facts)
	if err != nil {
		switch {
		case errors.Is(err, httpsig.ErrMissingCoveredHeader):
			return fail(CodeMissingCoveredHeader, "")
		case errors.Is(err, httpsig.ErrUnsupportedComponent):
			return fail(CodeUnsupportedComponent, "")
		default:
			return fail(CodeMalformedHeaders, "")
		}
	}

	ver, err := httpsig.NewEd25519Verifier(p.KeyID, v.resolved.Key)
	if err != nil {
		return fail(CodeKeyResolutionFailed, "")
	}

	if err := ver.Verify([]byte(base), v.envelope.Signature); err != nil {
		return fail(CodeSignatureMismatch, "")
	}

	return nil
}

func (e *Engine) checkDigest(_ context.Context, v *verification) *Result {
	if !v.hasBody || !v.envelope.Params.Covers(httpsig.ComponentContentDigest) {
		return nil
	}

	if err := httpsig.VerifyDigest(v.facts.Header.Get(HeaderContentDigest), v.body); err != nil {
		return fail(CodeDigestMismatch, "")
	}

	return nil
}
