package httpsig

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWKSURL = "https://registry.example.com/jwks/bot.json"

func TestGenerateNonce(t *testing.T) {
	t.Run("returns 22-char base64url string", func(t *testing.T) {
		nonce, err := GenerateNonce()
		require.NoError(t, err)
		assert.Len(t, nonce, 22)
	})

	t.Run("successive calls produce unique values", func(t *testing.T) {
		seen := make(map[string]bool)
		for range 100 {
			nonce, err := GenerateNonce()
			require.NoError(t, err)
			assert.False(t, seen[nonce], "duplicate nonce: %s", nonce)
			seen[nonce] = true
		}
	})
}

type errSigner struct {
	err error
}

func (s errSigner) Sign([]byte) ([]byte, error) { return nil, s.err }
func (s errSigner) Algorithm() Algorithm        { return AlgorithmEd25519 }
func (s errSigner) KeyID() string               { return "err-key" }

func newTestKey(t *testing.T) (Signer, Verifier) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signer, err := NewEd25519Signer("test-key", priv)
	require.NoError(t, err)

	verifier, err := NewEd25519Verifier("test-key", pub)
	require.NoError(t, err)

	return signer, verifier
}

// verifySigned re-parses the signature headers of r, rebuilds the base and
// checks it with v.
func verifySigned(t *testing.T, r *http.Request, v Verifier) (Envelope, error) {
	t.Helper()

	env, err := ParseEnvelope(r.Header.Get("Signature-Input"), r.Header.Get("Signature"), "")
	if err != nil {
		return env, err
	}

	base, err := BuildSignatureBase(env.Params, FactsFromRequest(r))
	if err != nil {
		return env, err
	}

	return env, v.Verify([]byte(base), env.Signature)
}

func TestSignRequest(t *testing.T) {
	signer, verifier := newTestKey(t)
	fixed := time.Unix(1700000000, 0)

	t.Run("default components with dictionary agent", func(t *testing.T) {
		r, err := http.NewRequest(http.MethodGet, "https://example.com/items", nil)
		require.NoError(t, err)

		err = SignRequest(r, SignOptions{
			Signer:  signer,
			JWKSURL: testJWKSURL,
			Nonce:   "fixed-nonce",
			Now:     func() time.Time { return fixed },
		})
		require.NoError(t, err)

		assert.Equal(t, `sig1="`+testJWKSURL+`"`, r.Header.Get("Signature-Agent"))
		assert.Equal(t,
			`sig1=("@method" "@path" "@authority" "signature-agent";key="sig1");created=1700000000;expires=1700000300;nonce="fixed-nonce";keyid="test-key";alg="ed25519";tag="web-bot-auth"`,
			r.Header.Get("Signature-Input"),
		)
		assert.True(t, strings.HasPrefix(r.Header.Get("Signature"), "sig1=:"))

		env, err := verifySigned(t, r, verifier)
		require.NoError(t, err)
		assert.Equal(t, "sig1", env.Label)
		assert.Equal(t, fixed.Add(DefaultTTL).Unix(), env.Params.Expires.Unix())
	})

	t.Run("legacy agent covers bare header", func(t *testing.T) {
		r, err := http.NewRequest(http.MethodGet, "https://example.com/", nil)
		require.NoError(t, err)

		err = SignRequest(r, SignOptions{Signer: signer, JWKSURL: testJWKSURL, AgentFormat: AgentFormatLegacy})
		require.NoError(t, err)

		assert.Equal(t, testJWKSURL, r.Header.Get("Signature-Agent"))
		assert.Contains(t, r.Header.Get("Signature-Input"), `"@authority" "signature-agent");`)

		_, err = verifySigned(t, r, verifier)
		assert.NoError(t, err)
	})

	t.Run("body adds content type and digest", func(t *testing.T) {
		r, err := http.NewRequest(http.MethodPost, "https://example.com/submit", strings.NewReader(`{"a":1}`))
		require.NoError(t, err)

		err = SignRequest(r, SignOptions{
			Signer:          signer,
			JWKSURL:         testJWKSURL,
			ContentType:     "application/json",
			DigestAlgorithm: DigestSHA256,
		})
		require.NoError(t, err)

		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.True(t, strings.HasPrefix(r.Header.Get("Content-Digest"), "sha-256=:"))

		env, err := verifySigned(t, r, verifier)
		require.NoError(t, err)
		assert.True(t, env.Params.Covers(ComponentContentType))
		assert.True(t, env.Params.Covers(ComponentContentDigest))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, `{"a":1}`, string(body))
	})

	t.Run("body without content type uses octet stream", func(t *testing.T) {
		r, err := http.NewRequest(http.MethodPut, "https://example.com/blob", strings.NewReader("x"))
		require.NoError(t, err)

		require.NoError(t, SignRequest(r, SignOptions{Signer: signer, OmitSignatureAgent: true}))
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		assert.Empty(t, r.Header.Get("Signature-Agent"))
		assert.NotContains(t, r.Header.Get("Signature-Input"), "signature-agent")
	})

	t.Run("custom label tag and ttl", func(t *testing.T) {
		r, err := http.NewRequest(http.MethodGet, "https://example.com/", nil)
		require.NoError(t, err)

		err = SignRequest(r, SignOptions{
			Signer:  signer,
			JWKSURL: testJWKSURL,
			Label:   "bot",
			Tag:     "custom",
			TTL:     time.Minute,
			Now:     func() time.Time { return fixed },
		})
		require.NoError(t, err)

		assert.Equal(t, `bot="`+testJWKSURL+`"`, r.Header.Get("Signature-Agent"))

		env, err := verifySigned(t, r, verifier)
		require.NoError(t, err)
		assert.Equal(t, "bot", env.Label)
		assert.Equal(t, "custom", env.Params.Tag)
		assert.Equal(t, fixed.Add(time.Minute).Unix(), env.Params.Expires.Unix())
	})

	t.Run("appends to existing signatures", func(t *testing.T) {
		r, err := http.NewRequest(http.MethodGet, "https://example.com/", nil)
		require.NoError(t, err)

		require.NoError(t, SignRequest(r, SignOptions{Signer: signer, OmitSignatureAgent: true, Label: "a"}))
		require.NoError(t, SignRequest(r, SignOptions{Signer: signer, OmitSignatureAgent: true, Label: "b"}))

		assert.Contains(t, r.Header.Get("Signature-Input"), "a=(")
		assert.Contains(t, r.Header.Get("Signature-Input"), ", b=(")
	})

	t.Run("tampered request fails verification", func(t *testing.T) {
		r, err := http.NewRequest(http.MethodGet, "https://example.com/items", nil)
		require.NoError(t, err)

		require.NoError(t, SignRequest(r, SignOptions{Signer: signer, JWKSURL: testJWKSURL}))

		r.URL.Path = "/other"

		_, err = verifySigned(t, r, verifier)
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("tampered agent fails verification", func(t *testing.T) {
		r, err := http.NewRequest(http.MethodGet, "https://example.com/items", nil)
		require.NoError(t, err)

		require.NoError(t, SignRequest(r, SignOptions{Signer: signer, JWKSURL: testJWKSURL}))

		r.Header.Set("Signature-Agent", `sig1="https://evil.example/jwks"`)

		_, err = verifySigned(t, r, verifier)
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("validation errors", func(t *testing.T) {
		r, err := http.NewRequest(http.MethodGet, "https://example.com/", nil)
		require.NoError(t, err)

		assert.ErrorIs(t, SignRequest(r, SignOptions{}), ErrNoSigner)
		assert.ErrorIs(t, SignRequest(r, SignOptions{Signer: signer}), ErrNoAgentURL)
	})

	t.Run("signer error propagates", func(t *testing.T) {
		r, err := http.NewRequest(http.MethodGet, "https://example.com/", nil)
		require.NoError(t, err)

		boom := errors.New("boom")
		err = SignRequest(r, SignOptions{Signer: errSigner{err: boom}, OmitSignatureAgent: true})
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, r.Header.Get("Signature"))
	})

	t.Run("unsupported digest algorithm", func(t *testing.T) {
		r, err := http.NewRequest(http.MethodPost, "https://example.com/", strings.NewReader("x"))
		require.NoError(t, err)

		err = SignRequest(r, SignOptions{Signer: signer, OmitSignatureAgent: true, DigestAlgorithm: "md5"})
		assert.ErrorIs(t, err, ErrUnsupportedDigest)
	})
}

func TestSign(t *testing.T) {
	signer, verifier := newTestKey(t)

	t.Run("produces verifiable headers", func(t *testing.T) {
		signed, err := Sign(http.MethodPost, "https://example.com/api?x=1", []byte("payload"), SignOptions{
			Signer:          signer,
			JWKSURL:         testJWKSURL,
			DigestAlgorithm: DigestSHA512,
		})
		require.NoError(t, err)
		assert.Equal(t, []byte("payload"), signed.Body)

		r, err := http.NewRequest(http.MethodPost, "https://example.com/api?x=1", strings.NewReader("payload"))
		require.NoError(t, err)
		r.Header = signed.Headers

		_, err = verifySigned(t, r, verifier)
		require.NoError(t, err)
		assert.NoError(t, VerifyContentDigest(r))
	})

	t.Run("no body", func(t *testing.T) {
		signed, err := Sign(http.MethodGet, "https://example.com/", nil, SignOptions{Signer: signer, JWKSURL: testJWKSURL})
		require.NoError(t, err)

		assert.Empty(t, signed.Headers.Get("Content-Type"))
		assert.Empty(t, signed.Headers.Get("Content-Digest"))
	})

	t.Run("invalid url", func(t *testing.T) {
		_, err := Sign(http.MethodGet, "://bad", nil, SignOptions{Signer: signer, JWKSURL: testJWKSURL})
		assert.Error(t, err)
	})
}
