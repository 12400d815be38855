// Package app wires configuration into running components for the
// obauth binaries.
package app

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vitalvas/botauth/ca"
	"github.com/vitalvas/botauth/config"
	"github.com/vitalvas/botauth/keys"
	"github.com/vitalvas/botauth/nonce"
	"github.com/vitalvas/botauth/verifier"
)

const shutdownTimeout = 10 * time.Second

// Closer releases resources acquired during wiring.
type Closer func()

// NonceGuard opens the replay store selected by cfg.
func NonceGuard(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (nonce.Guard, Closer, error) {
	switch cfg.Nonce.Store {
	case config.NonceStoreRedis:
		client, err := nonce.NewRedisClient(ctx, cfg.Nonce.RedisURL)
		if err != nil {
			return nil, nil, err
		}

		logger.Info().Msg("nonce store: redis")

		return nonce.NewRedisStore(client, ""), func() { _ = client.Close() }, nil

	case config.NonceStorePostgres:
		pool, err := nonce.NewPostgresPool(ctx, cfg.Nonce.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}

		store := nonce.NewPostgresStore(pool, nil)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}

		logger.Info().Msg("nonce store: postgres")

		return store, pool.Close, nil

	default:
		logger.Warn().Msg("nonce store: memory; replay protection is local to this process")

		return nonce.NewMemoryStore(nil), func() {}, nil
	}
}

// Authority builds the local certificate authority, or returns nil when
// the CA is disabled. The root is created eagerly so that startup fails
// on unwritable storage.
func Authority(ctx context.Context, cfg *config.Config, guard nonce.Guard, logger zerolog.Logger) (*ca.Authority, error) {
	if cfg.CA.Mode != config.CAModeLocal {
		return nil, nil
	}

	authority, err := ca.New(ca.Config{
		Storage:          ca.FileStorage{KeyPath: cfg.CA.KeyPath, CertPath: cfg.CA.CertPath},
		Subject:          cfg.CA.Subject,
		RootValidityDays: cfg.CA.ValidityDays,
		LeafValidityDays: cfg.CA.CertValidityDays,
		ProofGuard:       guard,
		Logger:           logger.With().Str("component", "ca").Logger(),
	})
	if err != nil {
		return nil, err
	}

	root, err := authority.GetOrCreate(ctx)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("subject", root.Cert.Subject.String()).
		Time("not_after", root.Cert.NotAfter).
		Msg("ca root ready")

	return authority, nil
}

// KeyCache builds the JWKS document cache.
func KeyCache(cfg *config.Config, logger zerolog.Logger) *keys.Cache {
	return keys.NewCache(keys.CacheConfig{
		TTL:          cfg.JWKS.CacheTTL.Std(),
		FetchTimeout: cfg.JWKS.FetchTimeout.Std(),
		Logger:       logger.With().Str("component", "keys").Logger(),
	})
}

// Engine builds an in-process verification engine resolving keys through
// cache. A non-nil authority contributes its root as a trust anchor and
// its records as the revocation source.
func Engine(ctx context.Context, cfg *config.Config, guard nonce.Guard, authority *ca.Authority, cache *keys.Cache, logger zerolog.Logger) (*verifier.Engine, error) {
	var anchors []*x509.Certificate

	if cfg.CA.TrustAnchors != "" {
		loaded, err := keys.LoadTrustAnchors(cfg.CA.TrustAnchors)
		if err != nil {
			return nil, err
		}

		anchors = append(anchors, loaded...)
	}

	var revocation keys.RevocationChecker

	if authority != nil {
		root, err := authority.GetOrCreate(ctx)
		if err != nil {
			return nil, err
		}

		anchors = append(anchors, root.Cert)
		revocation = authority
	}

	resolver, err := keys.NewResolver(keys.ResolverConfig{
		Cache:              cache,
		TrustedDirectories: cfg.Verifier.TrustedDirectories,
		TrustAnchors:       anchors,
		Revocation:         revocation,
		FetchTimeout:       cfg.JWKS.FetchTimeout.Std(),
		Logger:             logger.With().Str("component", "keys").Logger(),
	})
	if err != nil {
		return nil, err
	}

	if len(cfg.Verifier.TrustedDirectories) == 0 {
		logger.Warn().Msg("no trusted directories configured; any JWKS host is accepted")
	}

	return verifier.New(verifier.Config{
		Resolver:          resolver,
		Nonces:            guard,
		ClockSkew:         cfg.Verifier.ClockSkew.Std(),
		MaxAge:            cfg.Verifier.MaxSignatureAge.Std(),
		NonceTTL:          cfg.Verifier.NonceTTL.Std(),
		AllowMissingNonce: cfg.Verifier.AllowMissingNonce,
		Logger:            logger.With().Str("component", "verifier").Logger(),
	})
}

// Serve runs handler on addr until ctx is cancelled, then drains
// in-flight requests.
func Serve(ctx context.Context, addr string, handler http.Handler, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          NewStdLogger(logger),
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info().Str("addr", addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("listen %s: %w", addr, err)

	case <-ctx.Done():
	}

	logger.Warn().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}
