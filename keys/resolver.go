package keys

import (
	"context"
	"crypto/ed25519"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// Cache holds fetched JWKS documents. Required.
	Cache *Cache

	// TrustedDirectories restricts JWKS sources. Entries are bare hosts
	// ("registry.example.com") or origins ("https://registry.example.com").
	// Empty allows any source.
	TrustedDirectories []string

	// TrustAnchors enables x5c/x5u chain validation for JWKs that carry a
	// chain. Without anchors chains are ignored.
	TrustAnchors []*x509.Certificate

	// Revocation is consulted for the leaf of a validated chain.
	Revocation RevocationChecker

	// Client and FetchTimeout are used for x5u fetches.
	Client       *http.Client
	FetchTimeout time.Duration

	Logger zerolog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Resolved is a verification key and where it came from.
type Resolved struct {
	Key        ed25519.PublicKey
	JWK        JWK
	JWKSURL    string
	ClientName string
	Chain      []*x509.Certificate
}

// Resolver turns a JWKS URL and key id into an Ed25519 verification key.
type Resolver struct {
	cfg     ResolverConfig
	hosts   map[string]struct{}
	origins map[string]struct{}
}

// NewResolver validates cfg and returns a Resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Cache == nil {
		return nil, errors.New("keys: resolver requires a cache")
	}

	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}

	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	r := &Resolver{
		cfg:     cfg,
		hosts:   make(map[string]struct{}),
		origins: make(map[string]struct{}),
	}

	for _, entry := range cfg.TrustedDirectories {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if !strings.Contains(entry, "://") {
			r.hosts[strings.ToLower(entry)] = struct{}{}
			continue
		}

		u, err := url.Parse(entry)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("keys: invalid trusted directory %q", entry)
		}

		r.origins[strings.ToLower(u.Scheme)+"://"+strings.ToLower(u.Host)] = struct{}{}
	}

	return r, nil
}

// IsTrusted reports whether jwksURL is an allowed key source.
func (r *Resolver) IsTrusted(jwksURL string) bool {
	return r.checkSource(jwksURL) == nil
}

func (r *Resolver) checkSource(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return fmt.Errorf("%w: %q", ErrInvalidSource, raw)
	}

	if len(r.hosts) == 0 && len(r.origins) == 0 {
		return nil
	}

	host := strings.ToLower(u.Host)

	if _, ok := r.origins[strings.ToLower(u.Scheme)+"://"+host]; ok {
		return nil
	}

	if _, ok := r.hosts[host]; ok {
		return nil
	}

	if _, ok := r.hosts[strings.ToLower(u.Hostname())]; ok {
		return nil
	}

	return fmt.Errorf("%w: %q", ErrUntrustedSource, u.Host)
}

// Resolve returns the key kid published at jwksURL. A kid missing from a
// cached document triggers at most one rate-limited refetch, so rotated keys
// are picked up without waiting for the TTL.
func (r *Resolver) Resolve(ctx context.Context, jwksURL, kid string) (*Resolved, error) {
	if err := r.checkSource(jwksURL); err != nil {
		return nil, err
	}

	doc, err := r.cfg.Cache.Get(ctx, jwksURL)
	if err != nil {
		return nil, err
	}

	jwk, ok := doc.Find(kid)
	if !ok {
		refreshed, fetched, err := r.cfg.Cache.Refresh(ctx, jwksURL)
		if err != nil {
			return nil, err
		}

		if fetched {
			r.cfg.Logger.Debug().Str("jwks_url", jwksURL).Str("kid", kid).Msg("refetched jwks after kid miss")
		}

		if jwk, ok = refreshed.Find(kid); !ok {
			return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
		}

		doc = refreshed
	}

	now := r.cfg.Now()

	if err := jwk.Validate(now); err != nil {
		return nil, err
	}

	pub, err := jwk.PublicKey()
	if err != nil {
		return nil, err
	}

	res := &Resolved{
		Key:        pub,
		JWK:        jwk,
		JWKSURL:    jwksURL,
		ClientName: doc.ClientName,
	}

	if (len(jwk.X5c) > 0 || jwk.X5u != "") && len(r.cfg.TrustAnchors) > 0 {
		chain, err := r.chainFor(ctx, jwk)
		if err != nil {
			return nil, err
		}

		if err := r.checkChain(ctx, chain, pub); err != nil {
			return nil, err
		}

		res.Chain = chain
	}

	return res, nil
}

// ResolveChain validates an X.509 chain and returns the leaf's Ed25519 key.
func (r *Resolver) ResolveChain(ctx context.Context, chain []*x509.Certificate) (ed25519.PublicKey, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: empty chain", ErrChainInvalid)
	}

	pub, ok := chain[0].PublicKey.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: leaf key is not ed25519", ErrChainInvalid)
	}

	if err := r.checkChain(ctx, chain, pub); err != nil {
		return nil, err
	}

	return pub, nil
}

func (r *Resolver) chainFor(ctx context.Context, jwk JWK) ([]*x509.Certificate, error) {
	if len(jwk.X5c) > 0 {
		return ParseX5C(jwk.X5c)
	}

	return r.fetchX5U(ctx, jwk.X5u)
}

func (r *Resolver) checkChain(ctx context.Context, chain []*x509.Certificate, pub ed25519.PublicKey) error {
	if err := VerifyChain(chain, r.cfg.TrustAnchors, r.cfg.Now()); err != nil {
		return err
	}

	leafKey, ok := chain[0].PublicKey.(ed25519.PublicKey)
	if !ok || !leafKey.Equal(pub) {
		return fmt.Errorf("%w: leaf key does not match jwk", ErrChainInvalid)
	}

	if r.cfg.Revocation == nil {
		return nil
	}

	revoked, err := r.cfg.Revocation.IsRevoked(ctx, chain[0])
	if err != nil {
		return fmt.Errorf("%w: revocation check: %v", ErrChainInvalid, err)
	}

	if revoked {
		return fmt.Errorf("%w: serial %s", ErrCertificateRevoked, chain[0].SerialNumber.Text(16))
	}

	return nil
}
