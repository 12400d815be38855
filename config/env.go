package config

import (
	"fmt"
	"strconv"
	"strings"
)

type envBinding struct {
	name string
	set  func(cfg *Config, v string) error
}

func str(f func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*f(cfg) = strings.TrimSpace(v)
		return nil
	}
}

func list(f func(*Config) *[]string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*f(cfg) = SplitList(v)
		return nil
	}
}

func dur(f func(*Config) *Duration) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		d, err := ParseDuration(v)
		if err != nil {
			return err
		}

		*f(cfg) = d

		return nil
	}
}

func integer(f func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid integer %q", v)
		}

		*f(cfg) = n

		return nil
	}
}

func boolean(f func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid boolean %q", v)
		}

		*f(cfg) = b

		return nil
	}
}

var envBindings = []envBinding{
	{"OBA_LISTEN_ADDR", str(func(c *Config) *string { return &c.ListenAddr })},
	{"OBA_LOG_LEVEL", str(func(c *Config) *string { return &c.Log.Level })},
	{"OBA_LOG_FORMAT", str(func(c *Config) *string { return &c.Log.Format })},
	{"OBA_VERIFIER_URL", str(func(c *Config) *string { return &c.Verifier.URL })},
	{"OBA_VERIFIER_TIMEOUT", dur(func(c *Config) *Duration { return &c.Verifier.Timeout })},
	{"OBA_TRUSTED_DIRECTORIES", list(func(c *Config) *[]string { return &c.Verifier.TrustedDirectories })},
	{"OBA_CLOCK_SKEW", dur(func(c *Config) *Duration { return &c.Verifier.ClockSkew })},
	{"OBA_MAX_SIGNATURE_AGE", dur(func(c *Config) *Duration { return &c.Verifier.MaxSignatureAge })},
	{"OBA_NONCE_TTL", dur(func(c *Config) *Duration { return &c.Verifier.NonceTTL })},
	{"OBA_ALLOW_MISSING_NONCE", boolean(func(c *Config) *bool { return &c.Verifier.AllowMissingNonce })},
	{"OBA_NONCE_STORE", str(func(c *Config) *string { return &c.Nonce.Store })},
	{"OBA_REDIS_URL", str(func(c *Config) *string { return &c.Nonce.RedisURL })},
	{"OBA_DATABASE_URL", str(func(c *Config) *string { return &c.Nonce.DatabaseURL })},
	{"OBA_JWKS_CACHE_TTL", dur(func(c *Config) *Duration { return &c.JWKS.CacheTTL })},
	{"OBA_JWKS_FETCH_TIMEOUT", dur(func(c *Config) *Duration { return &c.JWKS.FetchTimeout })},
	{"OBA_CA_MODE", str(func(c *Config) *string { return &c.CA.Mode })},
	{"OBA_CA_KEY_PATH", str(func(c *Config) *string { return &c.CA.KeyPath })},
	{"OBA_CA_CERT_PATH", str(func(c *Config) *string { return &c.CA.CertPath })},
	{"OBA_CA_SUBJECT", str(func(c *Config) *string { return &c.CA.Subject })},
	{"OBA_CA_VALIDITY_DAYS", integer(func(c *Config) *int { return &c.CA.ValidityDays })},
	{"OBA_CERT_VALIDITY_DAYS", integer(func(c *Config) *int { return &c.CA.CertValidityDays })},
	{"OBA_X509_TRUST_ANCHORS", str(func(c *Config) *string { return &c.CA.TrustAnchors })},
	{"OBA_ADMIN_JWT_SECRET", func(c *Config, v string) error { c.Admin.JWTSecret = v; return nil }},
	{"OBA_ADMIN_JWT_ISSUER", str(func(c *Config) *string { return &c.Admin.JWTIssuer })},
	{"OBA_AUTH_FAILURE_LIMIT", integer(func(c *Config) *int { return &c.Admin.AuthFailureLimit })},
	{"OBA_AUTH_FAILURE_WINDOW", dur(func(c *Config) *Duration { return &c.Admin.AuthFailureWindow })},
	{"OBA_UPSTREAM_URL", str(func(c *Config) *string { return &c.Proxy.UpstreamURL })},
	{"OBA_UPSTREAM_TIMEOUT", dur(func(c *Config) *Duration { return &c.Proxy.UpstreamTimeout })},
	{"OBA_MODE", str(func(c *Config) *string { return &c.Proxy.Mode })},
	{"OBA_PROTECTED_PATHS", list(func(c *Config) *[]string { return &c.Proxy.ProtectedPaths })},
	{"OBA_TRUSTED_PROXIES", list(func(c *Config) *[]string { return &c.TrustedProxies })},
}

// applyEnv overlays set variables. An empty value counts as set and
// clears string settings.
func (cfg *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(b.name)
		if !ok {
			continue
		}

		if err := b.set(cfg, v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, b.name, err)
		}
	}

	return nil
}

// SplitList splits a comma separated value, dropping blank entries.
func SplitList(v string) []string {
	var out []string

	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}
