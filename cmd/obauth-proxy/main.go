// Command obauth-proxy is a reverse proxy that verifies bot-auth
// signatures before forwarding to an upstream.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/vitalvas/botauth/config"
	"github.com/vitalvas/botauth/internal/app"
	"github.com/vitalvas/botauth/muxhandlers"
	"github.com/vitalvas/botauth/proxy"
	"github.com/vitalvas/botauth/verifier"
)

func main() {
	cfg, err := config.Load(config.ComponentProxy)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("proxy stopped")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	upstream, err := url.Parse(cfg.Proxy.UpstreamURL)
	if err != nil {
		return err
	}

	mode, err := proxy.ParseMode(cfg.Proxy.Mode)
	if err != nil {
		return err
	}

	v, closeVerifier, err := buildVerifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeVerifier()

	p, err := proxy.New(proxy.Config{
		Upstream:        upstream,
		Verifier:        v,
		Policy:          proxy.Policy{Mode: mode, ProtectedPaths: cfg.Proxy.ProtectedPaths},
		UpstreamTimeout: cfg.Proxy.UpstreamTimeout.Std(),
		Logger:          logger.With().Str("component", "proxy").Logger(),
	})
	if err != nil {
		return err
	}

	handler, err := middleware(cfg, logger, p)
	if err != nil {
		return err
	}

	logger.Info().
		Str("upstream", upstream.Redacted()).
		Str("mode", string(mode)).
		Strs("protected_paths", cfg.Proxy.ProtectedPaths).
		Msg("proxy configured")

	return app.Serve(ctx, cfg.ListenAddr, handler, logger)
}

// buildVerifier returns a remote client when OBA_VERIFIER_URL is set and
// an in-process engine otherwise.
func buildVerifier(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (verifier.Verifier, app.Closer, error) {
	if cfg.Verifier.URL != "" {
		client, err := verifier.NewClient(verifier.ClientConfig{
			URL:     cfg.Verifier.URL,
			Timeout: cfg.Verifier.Timeout.Std(),
			Logger:  logger.With().Str("component", "verifier_client").Logger(),
		})
		if err != nil {
			return nil, nil, err
		}

		return client, func() {}, nil
	}

	guard, closeGuard, err := app.NonceGuard(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	engine, err := app.Engine(ctx, cfg, guard, nil, app.KeyCache(cfg, logger), logger)
	if err != nil {
		closeGuard()
		return nil, nil, err
	}

	return engine, closeGuard, nil
}

func middleware(cfg *config.Config, logger zerolog.Logger, next http.Handler) (http.Handler, error) {
	proxyHeaders, err := muxhandlers.ProxyHeadersMiddleware(muxhandlers.ProxyHeadersConfig{
		TrustedProxies: cfg.TrustedProxies,
	})
	if err != nil {
		return nil, err
	}

	chain := []mux.MiddlewareFunc{
		muxhandlers.RequestIDMiddleware(muxhandlers.RequestIDConfig{Logger: logger}),
		muxhandlers.RecoveryMiddleware(muxhandlers.RecoveryConfig{Logger: logger}),
		proxyHeaders,
	}

	h := next
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}

	return h, nil
}
