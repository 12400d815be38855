// Package config loads service settings from an optional YAML file and
// OBA_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vitalvas/botauth/proxy"
)

// ErrInvalid is returned when a setting fails validation.
var ErrInvalid = errors.New("config: invalid setting")

// Component selects component-specific defaults and validation.
type Component int

const (
	ComponentVerifier Component = iota
	ComponentProxy
)

const (
	NonceStoreMemory   = "memory"
	NonceStoreRedis    = "redis"
	NonceStorePostgres = "postgres"

	CAModeLocal    = "local"
	CAModeDisabled = "disabled"

	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

// Duration accepts Go duration syntax ("90s", "1h") or bare integer
// seconds.
type Duration time.Duration

// ParseDuration parses s as a Duration.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Duration(time.Duration(n) * time.Second), nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	return Duration(d), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}

	v, err := ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}

	*d = v

	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type VerifierConfig struct {
	// URL of a remote verifier. Empty runs the engine in process.
	URL                string   `yaml:"url"`
	Timeout            Duration `yaml:"timeout"`
	TrustedDirectories []string `yaml:"trusted_directories"`
	ClockSkew          Duration `yaml:"clock_skew"`
	MaxSignatureAge    Duration `yaml:"max_signature_age"`
	NonceTTL           Duration `yaml:"nonce_ttl"`
	AllowMissingNonce  bool     `yaml:"allow_missing_nonce"`
}

type NonceConfig struct {
	Store       string `yaml:"store"`
	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`
}

type JWKSConfig struct {
	CacheTTL     Duration `yaml:"cache_ttl"`
	FetchTimeout Duration `yaml:"fetch_timeout"`
}

type CAConfig struct {
	Mode             string `yaml:"mode"`
	KeyPath          string `yaml:"key_path"`
	CertPath         string `yaml:"cert_path"`
	Subject          string `yaml:"subject"`
	ValidityDays     int    `yaml:"validity_days"`
	CertValidityDays int    `yaml:"cert_validity_days"`
	TrustAnchors     string `yaml:"trust_anchors"`
}

type AdminConfig struct {
	JWTSecret         string   `yaml:"jwt_secret"`
	JWTIssuer         string   `yaml:"jwt_issuer"`
	AuthFailureLimit  int      `yaml:"auth_failure_limit"`
	AuthFailureWindow Duration `yaml:"auth_failure_window"`
}

type ProxyConfig struct {
	UpstreamURL     string   `yaml:"upstream_url"`
	UpstreamTimeout Duration `yaml:"upstream_timeout"`
	Mode            string   `yaml:"mode"`
	ProtectedPaths  []string `yaml:"protected_paths"`
}

// Config holds the settings of both binaries.
type Config struct {
	ListenAddr     string         `yaml:"listen_addr"`
	Log            LogConfig      `yaml:"log"`
	Verifier       VerifierConfig `yaml:"verifier"`
	Nonce          NonceConfig    `yaml:"nonce"`
	JWKS           JWKSConfig     `yaml:"jwks"`
	CA             CAConfig       `yaml:"ca"`
	Admin          AdminConfig    `yaml:"admin"`
	Proxy          ProxyConfig    `yaml:"proxy"`
	TrustedProxies []string       `yaml:"trusted_proxies"`
}

// Default returns the built-in settings for c.
func Default(c Component) Config {
	cfg := Config{
		ListenAddr: ":8081",
		Log:        LogConfig{Level: "info", Format: LogFormatJSON},
		Verifier: VerifierConfig{
			Timeout:         Duration(5 * time.Second),
			ClockSkew:       Duration(30 * time.Second),
			MaxSignatureAge: Duration(300 * time.Second),
			NonceTTL:        Duration(600 * time.Second),
		},
		Nonce: NonceConfig{Store: NonceStoreMemory},
		JWKS: JWKSConfig{
			CacheTTL:     Duration(time.Hour),
			FetchTimeout: Duration(5 * time.Second),
		},
		CA: CAConfig{
			Mode:             CAModeLocal,
			KeyPath:          "./data/ca.key",
			CertPath:         "./data/ca.pem",
			Subject:          "CN=OpenBotAuth Registry CA,O=OpenBotAuth",
			ValidityDays:     3650,
			CertValidityDays: 90,
		},
		Admin: AdminConfig{
			AuthFailureLimit:  10,
			AuthFailureWindow: Duration(time.Minute),
		},
		Proxy: ProxyConfig{
			UpstreamTimeout: Duration(30 * time.Second),
			Mode:            string(proxy.ModeObserve),
		},
	}

	if c == ComponentProxy {
		cfg.ListenAddr = ":8088"
	}

	return cfg
}

// Load builds the configuration for c from the file named by
// OBA_CONFIG_FILE (if any) and the process environment.
func Load(c Component) (*Config, error) {
	return LoadFrom(c, os.LookupEnv)
}

// LoadFrom is Load with an explicit environment lookup.
func LoadFrom(c Component, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default(c)

	if path, ok := lookup("OBA_CONFIG_FILE"); ok && path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(c); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (cfg *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %q: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse %q: %w", path, err)
	}

	return nil
}

// Validate checks cross-field constraints for c.
func (cfg *Config) Validate(c Component) error {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return invalid("listen address is empty")
	}

	if _, err := parseLevel(cfg.Log.Level); err != nil {
		return invalid("%v", err)
	}

	switch cfg.Log.Format {
	case LogFormatJSON, LogFormatConsole:
	default:
		return invalid("log format %q is not json or console", cfg.Log.Format)
	}

	durations := map[string]Duration{
		"verifier timeout":    cfg.Verifier.Timeout,
		"clock skew":          cfg.Verifier.ClockSkew,
		"max signature age":   cfg.Verifier.MaxSignatureAge,
		"nonce ttl":           cfg.Verifier.NonceTTL,
		"jwks cache ttl":      cfg.JWKS.CacheTTL,
		"jwks fetch timeout":  cfg.JWKS.FetchTimeout,
		"auth failure window": cfg.Admin.AuthFailureWindow,
		"upstream timeout":    cfg.Proxy.UpstreamTimeout,
	}

	for name, d := range durations {
		if d <= 0 {
			return invalid("%s must be positive", name)
		}
	}

	if cfg.Verifier.URL != "" {
		if err := checkHTTPURL(cfg.Verifier.URL); err != nil {
			return invalid("verifier url: %v", err)
		}
	}

	switch cfg.Nonce.Store {
	case NonceStoreMemory:
	case NonceStoreRedis:
		if cfg.Nonce.RedisURL == "" {
			return invalid("nonce store redis requires OBA_REDIS_URL")
		}
	case NonceStorePostgres:
		if cfg.Nonce.DatabaseURL == "" {
			return invalid("nonce store postgres requires OBA_DATABASE_URL")
		}
	default:
		return invalid("nonce store %q is not memory, redis or postgres", cfg.Nonce.Store)
	}

	switch cfg.CA.Mode {
	case CAModeDisabled:
	case CAModeLocal:
		if cfg.CA.KeyPath == "" || cfg.CA.CertPath == "" {
			return invalid("ca key and cert paths are required in local mode")
		}
	default:
		return invalid("ca mode %q is not local or disabled", cfg.CA.Mode)
	}

	if cfg.CA.ValidityDays <= 0 || cfg.CA.CertValidityDays <= 0 {
		return invalid("ca validity days must be positive")
	}

	if cfg.Admin.AuthFailureLimit <= 0 {
		return invalid("auth failure limit must be positive")
	}

	if _, err := proxy.ParseMode(cfg.Proxy.Mode); err != nil {
		return invalid("%v", err)
	}

	if c == ComponentProxy {
		if cfg.Proxy.UpstreamURL == "" {
			return invalid("OBA_UPSTREAM_URL is required")
		}

		if err := checkHTTPURL(cfg.Proxy.UpstreamURL); err != nil {
			return invalid("upstream url: %v", err)
		}
	}

	return nil
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an absolute http(s) url", raw)
	}

	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...)
}
