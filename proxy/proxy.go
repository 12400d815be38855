// Package proxy implements the enforcement reverse proxy: it verifies
// bot-auth signatures on inbound requests, annotates them with
// X-OBAuth-* headers and forwards or rejects them according to a path
// policy.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/vitalvas/botauth/muxhandlers"
	"github.com/vitalvas/botauth/verifier"
)

const (
	defaultMaxBodySize     = 1 << 20
	defaultUpstreamTimeout = 30 * time.Second
)

// Config configures a Proxy.
type Config struct {
	// Upstream receives forwarded requests. Required.
	Upstream *url.URL

	// Verifier checks signatures: an in-process *verifier.Engine or a
	// remote *verifier.Client. Required.
	Verifier verifier.Verifier

	Policy Policy

	// Label selects the signature label; empty picks the first.
	Label string

	// MaxBodySize bounds the body buffered for content-digest
	// verification. Defaults to 1 MiB.
	MaxBodySize int64

	// UpstreamTimeout bounds the wait for upstream response headers.
	// Defaults to 30s. Ignored when Transport is set.
	UpstreamTimeout time.Duration

	// Transport overrides the upstream transport.
	Transport http.RoundTripper

	Logger zerolog.Logger
}

type resultKey struct{}

// Proxy is an http.Handler enforcing bot-auth verification in front of
// an upstream.
type Proxy struct {
	cfg Config
	rp  *httputil.ReverseProxy
}

// New validates cfg and returns a Proxy.
func New(cfg Config) (*Proxy, error) {
	if cfg.Upstream == nil || cfg.Upstream.Host == "" {
		return nil, errors.New("proxy: upstream url is required")
	}

	if cfg.Verifier == nil {
		return nil, errors.New("proxy: verifier is required")
	}

	if cfg.Policy.Mode == "" {
		cfg.Policy.Mode = ModeObserve
	}

	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}

	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = defaultUpstreamTimeout
	}

	if cfg.Transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.ResponseHeaderTimeout = cfg.UpstreamTimeout
		cfg.Transport = t
	}

	p := &Proxy{cfg: cfg}

	upstream := cfg.Upstream

	p.rp = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			// The upstream must see the path the policy was checked against.
			if canonical := CanonicalPath(pr.Out.URL.Path); canonical != pr.Out.URL.Path {
				pr.Out.URL.Path = canonical
				pr.Out.URL.RawPath = ""
			}

			pr.SetURL(upstream)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
		},
		Transport:      cfg.Transport,
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.upstreamError,
	}

	return p, nil
}

// ServeHTTP applies the policy to r and forwards or rejects it.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := muxhandlers.LoggerFrom(r, p.cfg.Logger)

	StripResultHeaders(r.Header)

	protected := p.cfg.Policy.Protects(r.URL.Path)

	var res *verifier.Result

	if hasSignatureHeaders(r.Header) {
		verified := p.verify(r)
		res = &verified

		log.Debug().
			Bool("verified", res.Verified).
			Str("code", string(res.Code)).
			Str("path", r.URL.Path).
			Msg("signature checked")
	}

	SetResultHeaders(r.Header, res)

	if protected && (res == nil || !res.Verified) {
		p.reject(w, res)
		return
	}

	ctx := context.WithValue(r.Context(), resultKey{}, res)
	p.rp.ServeHTTP(w, r.WithContext(ctx))
}

func (p *Proxy) verify(r *http.Request) verifier.Result {
	headers := verifier.HeadersFromHTTP(r.Header)

	forwarded, err := verifier.ExtractForwardedHeaders(headers, p.cfg.Label)
	if err != nil {
		return verifier.Failure(verifier.CodeSensitiveHeaderCovered, "")
	}

	req := verifier.Request{
		Method:  r.Method,
		URL:     requestURL(r),
		Headers: forwarded,
	}

	if verifier.CoversHeader(headers, p.cfg.Label, "content-digest") && r.Body != nil && r.Body != http.NoBody {
		body, complete, err := p.peekBody(r)
		if err != nil {
			return verifier.Failure(verifier.CodeMalformedHeaders, "unreadable body")
		}

		if !complete {
			return verifier.Failure(verifier.CodeDigestMismatch, "body too large to verify")
		}

		s := string(body)
		req.Body = &s
	}

	return p.cfg.Verifier.Verify(r.Context(), req)
}

// peekBody reads up to MaxBodySize bytes and restores r.Body so the full
// body is still forwarded. complete is false when the body is larger.
func (p *Proxy) peekBody(r *http.Request) ([]byte, bool, error) {
	buf, err := io.ReadAll(io.LimitReader(r.Body, p.cfg.MaxBodySize+1))
	if err != nil {
		return nil, false, err
	}

	complete := int64(len(buf)) <= p.cfg.MaxBodySize
	if complete {
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(buf))
	} else {
		r.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(buf), r.Body), r.Body}
	}

	return buf, complete, nil
}

func (p *Proxy) reject(w http.ResponseWriter, res *verifier.Result) {
	echoResultHeaders(w.Header(), res)

	message := "Missing bot-auth signature headers"
	detail := ""

	if res != nil {
		message = res.Error
		if message == "" {
			message = "Signature verification failed"
		}

		detail = string(res.Code)
	}

	muxhandlers.ResponseError(w, http.StatusUnauthorized, "unauthorized", message, detail)
}

func (p *Proxy) modifyResponse(resp *http.Response) error {
	res, _ := resp.Request.Context().Value(resultKey{}).(*verifier.Result)
	echoResultHeaders(resp.Header, res)

	return nil
}

func (p *Proxy) upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	log := muxhandlers.LoggerFrom(r, p.cfg.Logger)

	if r.Context().Err() != nil || errors.Is(err, context.Canceled) {
		log.Debug().Err(err).Msg("client went away")
		return
	}

	log.Warn().Err(err).Str("upstream", p.cfg.Upstream.Host).Msg("upstream request failed")

	res, _ := r.Context().Value(resultKey{}).(*verifier.Result)
	echoResultHeaders(w.Header(), res)

	muxhandlers.ResponseError(w, http.StatusBadGateway, string(verifier.CodeUpstreamUnavailable),
		verifier.CodeUpstreamUnavailable.Message(), "")
}

func hasSignatureHeaders(h http.Header) bool {
	return h.Get(verifier.HeaderSignatureInput) != "" ||
		h.Get(verifier.HeaderSignature) != "" ||
		h.Get(verifier.HeaderSignatureAgent) != ""
}

// requestURL reconstructs the absolute URL the client addressed.
func requestURL(r *http.Request) string {
	scheme := r.URL.Scheme
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}

	return scheme + "://" + r.Host + r.URL.RequestURI()
}
