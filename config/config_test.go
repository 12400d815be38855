package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30", 30 * time.Second, false},
		{" 600 ", 10 * time.Minute, false},
		{"1h", time.Hour, false},
		{"1m30s", 90 * time.Second, false},
		{"0", 0, false},
		{"soon", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := ParseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Std())
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(ComponentVerifier, env(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.ListenAddr)
	assert.Equal(t, NonceStoreMemory, cfg.Nonce.Store)
	assert.Equal(t, CAModeLocal, cfg.CA.Mode)
	assert.Equal(t, 30*time.Second, cfg.Verifier.ClockSkew.Std())
	assert.Equal(t, 300*time.Second, cfg.Verifier.MaxSignatureAge.Std())
	assert.Equal(t, 600*time.Second, cfg.Verifier.NonceTTL.Std())
	assert.Equal(t, time.Hour, cfg.JWKS.CacheTTL.Std())
	assert.Equal(t, 90, cfg.CA.CertValidityDays)
	assert.Equal(t, "observe", cfg.Proxy.Mode)

	_, err = LoadFrom(ComponentProxy, env(nil))
	require.ErrorIs(t, err, ErrInvalid)

	cfg, err = LoadFrom(ComponentProxy, env(map[string]string{"OBA_UPSTREAM_URL": "http://127.0.0.1:3000"}))
	require.NoError(t, err)
	assert.Equal(t, ":8088", cfg.ListenAddr)
}

func TestLoadEnv(t *testing.T) {
	cfg, err := LoadFrom(ComponentProxy, env(map[string]string{
		"OBA_LISTEN_ADDR":         "127.0.0.1:9000",
		"OBA_LOG_LEVEL":           "debug",
		"OBA_LOG_FORMAT":          "console",
		"OBA_VERIFIER_URL":        "http://verifier:8081/verify",
		"OBA_VERIFIER_TIMEOUT":    "2",
		"OBA_TRUSTED_DIRECTORIES": "registry.example.com, https://bots.example.org ,,",
		"OBA_CLOCK_SKEW":          "10s",
		"OBA_NONCE_STORE":         "redis",
		"OBA_REDIS_URL":           "redis://localhost:6379/0",
		"OBA_CA_MODE":             "disabled",
		"OBA_ADMIN_JWT_SECRET":    " secret with spaces ",
		"OBA_AUTH_FAILURE_LIMIT":  "5",
		"OBA_UPSTREAM_URL":        "https://app.internal",
		"OBA_MODE":                "require-verified",
		"OBA_PROTECTED_PATHS":     "/api,/admin",
		"OBA_TRUSTED_PROXIES":     "10.0.0.0/8",
		"OBA_ALLOW_MISSING_NONCE": "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 2*time.Second, cfg.Verifier.Timeout.Std())
	assert.Equal(t, []string{"registry.example.com", "https://bots.example.org"}, cfg.Verifier.TrustedDirectories)
	assert.Equal(t, 10*time.Second, cfg.Verifier.ClockSkew.Std())
	assert.True(t, cfg.Verifier.AllowMissingNonce)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Nonce.RedisURL)
	assert.Equal(t, " secret with spaces ", cfg.Admin.JWTSecret)
	assert.Equal(t, 5, cfg.Admin.AuthFailureLimit)
	assert.Equal(t, []string{"/api", "/admin"}, cfg.Proxy.ProtectedPaths)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.TrustedProxies)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"bad duration", map[string]string{"OBA_NONCE_TTL": "forever"}},
		{"zero duration", map[string]string{"OBA_CLOCK_SKEW": "0"}},
		{"bad integer", map[string]string{"OBA_CA_VALIDITY_DAYS": "ten"}},
		{"bad boolean", map[string]string{"OBA_ALLOW_MISSING_NONCE": "maybe"}},
		{"bad level", map[string]string{"OBA_LOG_LEVEL": "loud"}},
		{"bad format", map[string]string{"OBA_LOG_FORMAT": "xml"}},
		{"unknown store", map[string]string{"OBA_NONCE_STORE": "etcd"}},
		{"redis without url", map[string]string{"OBA_NONCE_STORE": "redis"}},
		{"postgres without dsn", map[string]string{"OBA_NONCE_STORE": "postgres"}},
		{"unknown ca mode", map[string]string{"OBA_CA_MODE": "remote"}},
		{"empty ca key path", map[string]string{"OBA_CA_KEY_PATH": ""}},
		{"bad verifier url", map[string]string{"OBA_VERIFIER_URL": "verifier:8081"}},
		{"bad mode", map[string]string{"OBA_MODE": "block"}},
		{"zero failure limit", map[string]string{"OBA_AUTH_FAILURE_LIMIT": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(ComponentVerifier, env(tt.vars))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}

	_, err := LoadFrom(ComponentProxy, env(map[string]string{"OBA_UPSTREAM_URL": "/relative"}))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "obauth.yaml")

	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":7000"
verifier:
  clock_skew: 45
  max_signature_age: 2m
  trusted_directories:
    - registry.example.com
nonce:
  store: postgres
  database_url: postgres://localhost/obauth
proxy:
  upstream_url: http://localhost:3000
  protected_paths: ["/api"]
`), 0o600))

	cfg, err := LoadFrom(ComponentProxy, env(map[string]string{
		"OBA_CONFIG_FILE": path,
		"OBA_LISTEN_ADDR": ":7001",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":7001", cfg.ListenAddr, "environment overrides the file")
	assert.Equal(t, 45*time.Second, cfg.Verifier.ClockSkew.Std())
	assert.Equal(t, 2*time.Minute, cfg.Verifier.MaxSignatureAge.Std())
	assert.Equal(t, []string{"registry.example.com"}, cfg.Verifier.TrustedDirectories)
	assert.Equal(t, NonceStorePostgres, cfg.Nonce.Store)
	assert.Equal(t, []string{"/api"}, cfg.Proxy.ProtectedPaths)
	assert.Equal(t, 600*time.Second, cfg.Verifier.NonceTTL.Std(), "unset keys keep defaults")

	t.Run("unknown key", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("listen_adr: \":1\"\n"), 0o600))

		_, err := LoadFrom(ComponentVerifier, env(map[string]string{"OBA_CONFIG_FILE": bad}))
		assert.Error(t, err)
	})

	t.Run("bad duration", func(t *testing.T) {
		bad := filepath.Join(dir, "dur.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("jwks:\n  cache_ttl: often\n"), 0o600))

		_, err := LoadFrom(ComponentVerifier, env(map[string]string{"OBA_CONFIG_FILE": bad}))
		assert.ErrorContains(t, err, "line 2")
	})

	t.Run("empty file", func(t *testing.T) {
		empty := filepath.Join(dir, "empty.yaml")
		require.NoError(t, os.WriteFile(empty, nil, 0o600))

		_, err := LoadFrom(ComponentVerifier, env(map[string]string{"OBA_CONFIG_FILE": empty}))
		assert.NoError(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFrom(ComponentVerifier, env(map[string]string{"OBA_CONFIG_FILE": filepath.Join(dir, "nope.yaml")}))
		assert.Error(t, err)
	})
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, SplitList(""))
	assert.Nil(t, SplitList(" , ,"))
	assert.Equal(t, []string{"a", "b"}, SplitList("a, b"))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := NewLogger("warn", "json", &buf)
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	logger.Warn().Str("k", "v").Msg("shown")
	assert.Contains(t, buf.String(), `"k":"v"`)
	assert.Contains(t, buf.String(), `"message":"shown"`)

	logger, err = NewLogger("", "console", &buf)
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())

	_, err = NewLogger("info", "xml", &buf)
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = NewLogger("loud", "json", &buf)
	assert.Error(t, err)
}
