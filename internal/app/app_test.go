package app

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalvas/botauth/config"
	"github.com/vitalvas/botauth/nonce"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default(config.ComponentVerifier)
	dir := t.TempDir()
	cfg.CA.KeyPath = filepath.Join(dir, "ca.key")
	cfg.CA.CertPath = filepath.Join(dir, "ca.pem")

	return &cfg
}

func TestNonceGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cfg := testConfig(t)

		guard, closeFn, err := NonceGuard(ctx, cfg, zerolog.Nop())
		require.NoError(t, err)
		defer closeFn()

		assert.IsType(t, &nonce.MemoryStore{}, guard)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)

		cfg := testConfig(t)
		cfg.Nonce.Store = config.NonceStoreRedis
		cfg.Nonce.RedisURL = "redis://" + mr.Addr()

		guard, closeFn, err := NonceGuard(ctx, cfg, zerolog.Nop())
		require.NoError(t, err)
		defer closeFn()

		fresh, err := guard.CheckAndRecord(ctx, "n-1", time.Minute)
		require.NoError(t, err)
		assert.True(t, fresh)

		fresh, err = guard.CheckAndRecord(ctx, "n-1", time.Minute)
		require.NoError(t, err)
		assert.False(t, fresh)
	})

	t.Run("redis unreachable", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Nonce.Store = config.NonceStoreRedis
		cfg.Nonce.RedisURL = "redis://127.0.0.1:1"

		_, _, err := NonceGuard(ctx, cfg, zerolog.Nop())
		assert.Error(t, err)
	})
}

func TestAuthority(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.CA.Mode = config.CAModeDisabled

	authority, err := Authority(ctx, cfg, nonce.NewMemoryStore(nil), zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, authority)

	cfg.CA.Mode = config.CAModeLocal

	authority, err = Authority(ctx, cfg, nonce.NewMemoryStore(nil), zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, authority)

	assert.FileExists(t, cfg.CA.KeyPath)
	assert.FileExists(t, cfg.CA.CertPath)

	engine, err := Engine(ctx, cfg, nonce.NewMemoryStore(nil), authority, KeyCache(cfg, zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, engine)
}

func TestEngineTrustAnchorFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.CA.TrustAnchors = filepath.Join(t.TempDir(), "missing.pem")

	_, err := Engine(context.Background(), cfg, nonce.NewMemoryStore(nil), nil, KeyCache(cfg, zerolog.Nop()), zerolog.Nop())
	assert.Error(t, err)
}

func TestServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() {
		done <- Serve(ctx, addr, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}), zerolog.Nop())
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()

		return resp.StatusCode == http.StatusNoContent
	}, 5*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServeListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	err = Serve(context.Background(), ln.Addr().String(), http.NotFoundHandler(), zerolog.Nop())
	assert.Error(t, err)
}
