// Command obauth-verifier serves signature verification and the local
// certificate authority over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/vitalvas/botauth/config"
	"github.com/vitalvas/botauth/internal/app"
	"github.com/vitalvas/botauth/server"
)

func main() {
	cfg, err := config.Load(config.ComponentVerifier)
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
		logger.Error().Err(err).Msg("verifier stopped")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	guard, closeGuard, err := app.NonceGuard(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeGuard()

	authority, err := app.Authority(ctx, cfg, guard, logger)
	if err != nil {
		return err
	}

	cache := app.KeyCache(cfg, logger)

	engine, err := app.Engine(ctx, cfg, guard, authority, cache, logger)
	if err != nil {
		return err
	}

	if cfg.Admin.JWTSecret == "" {
		logger.Warn().Msg("OBA_ADMIN_JWT_SECRET is not set; admin endpoints are disabled")
	}

	srv, err := server.New(server.Config{
		Verifier:          engine,
		Authority:         authority,
		KeyCache:          cache,
		AdminSecret:       []byte(cfg.Admin.JWTSecret),
		AdminIssuer:       cfg.Admin.JWTIssuer,
		AuthFailureLimit:  cfg.Admin.AuthFailureLimit,
		AuthFailureWindow: cfg.Admin.AuthFailureWindow.Std(),
		TrustedProxies:    cfg.TrustedProxies,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	return app.Serve(ctx, cfg.ListenAddr, srv, logger)
}
