package keys

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

const (
	KeyTypeOKP   = "OKP"
	CurveEd25519 = "Ed25519"
	UseSignature = "sig"
	AlgEdDSA     = "EdDSA"
)

// JWK is an Ed25519 JSON Web Key (RFC 7517, RFC 8037).
type JWK struct {
	Kty string   `json:"kty"`
	Crv string   `json:"crv"`
	Kid string   `json:"kid"`
	X   string   `json:"x"`
	Use string   `json:"use,omitempty"`
	Alg string   `json:"alg,omitempty"`
	Nbf int64    `json:"nbf,omitempty"`
	Exp int64    `json:"exp,omitempty"`
	X5c []string `json:"x5c,omitempty"`
	X5u string   `json:"x5u,omitempty"`
}

// JWKS is a JSON Web Key Set. ClientName is a registry extension naming the
// agent that owns the keys.
type JWKS struct {
	Keys       []JWK  `json:"keys"`
	ClientName string `json:"client_name,omitempty"`
}

// NewJWK returns the JWK for an Ed25519 public key.
func NewJWK(kid string, pub ed25519.PublicKey) JWK {
	return JWK{
		Kty: KeyTypeOKP,
		Crv: CurveEd25519,
		Kid: kid,
		X:   base64.RawURLEncoding.EncodeToString(pub),
		Use: UseSignature,
		Alg: AlgEdDSA,
	}
}

// Find returns the key with the given kid.
func (s *JWKS) Find(kid string) (JWK, bool) {
	if s == nil {
		return JWK{}, false
	}

	for _, k := range s.Keys {
		if k.Kid == kid {
			return k, true
		}
	}

	return JWK{}, false
}

// PublicKey decodes x into an Ed25519 public key. Padded and unpadded
// base64url are both accepted; the result must be exactly 32 bytes.
func (k JWK) PublicKey() (ed25519.PublicKey, error) {
	if k.Kty != KeyTypeOKP {
		return nil, fmt.Errorf("%w: kty %q", ErrInvalidJWK, k.Kty)
	}

	if k.Crv != CurveEd25519 {
		return nil, fmt.Errorf("%w: crv %q", ErrInvalidJWK, k.Crv)
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(k.X, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: x is not base64url", ErrInvalidJWK)
	}

	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: x decodes to %d bytes", ErrInvalidJWK, len(raw))
	}

	return ed25519.PublicKey(raw), nil
}

// Validate checks that the key may be used to verify a signature at now.
func (k JWK) Validate(now time.Time) error {
	if _, err := k.PublicKey(); err != nil {
		return err
	}

	if k.Use != "" && k.Use != UseSignature {
		return fmt.Errorf("%w: use %q", ErrInvalidJWK, k.Use)
	}

	switch k.Alg {
	case "", AlgEdDSA, "ed25519", "Ed25519":
	default:
		return fmt.Errorf("%w: alg %q", ErrInvalidJWK, k.Alg)
	}

	if k.Nbf != 0 && now.Before(time.Unix(k.Nbf, 0)) {
		return fmt.Errorf("%w: not before %d", ErrKeyNotActive, k.Nbf)
	}

	if k.Exp != 0 && !now.Before(time.Unix(k.Exp, 0)) {
		return fmt.Errorf("%w: expired at %d", ErrKeyNotActive, k.Exp)
	}

	return nil
}
