package verifier

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitalvas/botauth/httpsig"
	"github.com/vitalvas/botauth/keys"
	"github.com/vitalvas/botauth/nonce"
)

const testKid = "bot-key-1"

type fixture struct {
	engine  *Engine
	signer  httpsig.Signer
	priv    ed25519.PrivateKey
	jwksURL string
	now     time.Time
}

func newFixture(t *testing.T, mutate func(*Config, *keys.ResolverConfig)) *fixture {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signer, err := httpsig.NewEd25519Signer(testKid, priv)
	require.NoError(t, err)

	doc := keys.JWKS{Keys: []keys.JWK{keys.NewJWK(testKid, pub)}, ClientName: "Example Bot"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/jwk-set+json")
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(srv.Close)

	now := time.Now().Truncate(time.Second)
	clock := func() time.Time { return now }

	rcfg := keys.ResolverConfig{
		Cache: keys.NewCache(keys.CacheConfig{}),
		Now:   clock,
	}

	cfg := Config{
		Nonces: nonce.NewMemoryStore(clock),
		Now:    clock,
	}

	if mutate != nil {
		mutate(&cfg, &rcfg)
	}

	resolver, err := keys.NewResolver(rcfg)
	require.NoError(t, err)

	cfg.Resolver = resolver

	engine, err := New(cfg)
	require.NoError(t, err)

	return &fixture{
		engine:  engine,
		signer:  signer,
		priv:    priv,
		jwksURL: srv.URL + "/jwks.json",
		now:     now,
	}
}

func (f *fixture) options(mutate func(*httpsig.SignOptions)) httpsig.SignOptions {
	opts := httpsig.SignOptions{
		Signer:  f.signer,
		JWKSURL: f.jwksURL,
		Now:     func() time.Time { return f.now },
	}

	if mutate != nil {
		mutate(&opts)
	}

	return opts
}

// sign signs method+rawURL and returns the matching verification call.
func (f *fixture) sign(t *testing.T, method, rawURL string, body []byte, mutate func(*httpsig.SignOptions)) Request {
	t.Helper()

	signed, err := httpsig.Sign(method, rawURL, body, f.options(mutate))
	require.NoError(t, err)

	req := Request{Method: method, URL: rawURL, Headers: HeadersFromHTTP(signed.Headers)}
	if body != nil {
		s := string(body)
		req.Body = &s
	}

	return req
}

// signHTTP signs r in place and returns the matching verification call.
func (f *fixture) signHTTP(t *testing.T, r *http.Request, mutate func(*httpsig.SignOptions)) Request {
	t.Helper()

	require.NoError(t, httpsig.SignRequest(r, f.options(mutate)))

	return Request{Method: r.Method, URL: r.URL.String(), Headers: HeadersFromHTTP(r.Header)}
}

// signParams signs hand-built params, for parameter sets the signer never
// produces.
func (f *fixture) signParams(t *testing.T, method, rawURL string, p httpsig.Params) Request {
	t.Helper()

	header := http.Header{}
	header.Set("Signature-Agent", f.jwksURL)

	facts, err := httpsig.FactsFromURL(method, rawURL, header)
	require.NoError(t, err)

	base, err := httpsig.BuildSignatureBase(p, facts)
	require.NoError(t, err)

	sig := ed25519.Sign(f.priv, []byte(base))

	header.Set("Signature-Input", "sig1="+p.String())
	header.Set("Signature", "sig1=:"+base64.StdEncoding.EncodeToString(sig)+":")

	return Request{Method: method, URL: rawURL, Headers: HeadersFromHTTP(header)}
}

type guardFunc func(ctx context.Context, nonce string, ttl time.Duration) (bool, error)

func (g guardFunc) CheckAndRecord(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	return g(ctx, nonce, ttl)
}
