package httpsig

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEd25519Keys(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signer, err := NewEd25519Signer("agent-1", priv)
	require.NoError(t, err)

	verifier, err := NewEd25519Verifier("agent-1", pub)
	require.NoError(t, err)

	assert.Equal(t, AlgorithmEd25519, signer.Algorithm())
	assert.Equal(t, "agent-1", verifier.KeyID())
	assert.Equal(t, "ed25519", AlgorithmEd25519.String())

	base := []byte(`"@method": GET`)

	sig, err := signer.Sign(base)
	require.NoError(t, err)
	require.Len(t, sig, ed25519.SignatureSize)

	tests := []struct {
		name string
		base []byte
		sig  []byte
		ok   bool
	}{
		{"valid", base, sig, true},
		{"other base", []byte(`"@method": POST`), sig, false},
		{"truncated signature", base, sig[:40], false},
		{"empty signature", base, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifier.Verify(tt.base, tt.sig)
			if tt.ok {
				assert.NoError(t, err)
				return
			}

			assert.ErrorIs(t, err, ErrSignatureInvalid)
		})
	}

	_, err = NewEd25519Signer("k", make(ed25519.PrivateKey, 10))
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewEd25519Verifier("k", make(ed25519.PublicKey, 31))
	assert.ErrorIs(t, err, ErrInvalidKey)

	other, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	wrong, err := NewEd25519Verifier("agent-1", other)
	require.NoError(t, err)
	assert.ErrorIs(t, wrong.Verify(base, sig), ErrSignatureInvalid)
}
