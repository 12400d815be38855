package httpsig

import (
	"crypto/ed25519"
	"fmt"
)

// Algorithm is a value of the alg signature parameter.
type Algorithm string

// AlgorithmEd25519 is the only algorithm bot-auth signatures use.
const AlgorithmEd25519 Algorithm = "ed25519"

func (a Algorithm) String() string { return string(a) }

// Signer signs signature bases. KeyID becomes the keyid parameter and must
// equal the kid of the key published in the agent's JWKS.
type Signer interface {
	Sign(base []byte) ([]byte, error)
	Algorithm() Algorithm
	KeyID() string
}

// Verifier checks a signature over a signature base and returns
// ErrSignatureInvalid when it does not match.
type Verifier interface {
	Verify(base, signature []byte) error
	Algorithm() Algorithm
	KeyID() string
}

type ed25519Key struct {
	kid  string
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

func (k *ed25519Key) Algorithm() Algorithm { return AlgorithmEd25519 }
func (k *ed25519Key) KeyID() string        { return k.kid }

func (k *ed25519Key) Sign(base []byte) ([]byte, error) {
	return ed25519.Sign(k.priv, base), nil
}

func (k *ed25519Key) Verify(base, signature []byte) error {
	if len(signature) != ed25519.SignatureSize || !ed25519.Verify(k.pub, base, signature) {
		return ErrSignatureInvalid
	}

	return nil
}

// NewEd25519Signer returns a Signer for priv under kid.
func NewEd25519Signer(kid string, priv ed25519.PrivateKey) (Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: ed25519 private key is %d bytes, want %d", ErrInvalidKey, len(priv), ed25519.PrivateKeySize)
	}

	return &ed25519Key{kid: kid, priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// NewEd25519Verifier returns a Verifier for pub under kid.
func NewEd25519Verifier(kid string, pub ed25519.PublicKey) (Verifier, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: ed25519 public key is %d bytes, want %d", ErrInvalidKey, len(pub), ed25519.PublicKeySize)
	}

	return &ed25519Key{kid: kid, pub: pub}, nil
}
