package ca

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalvas/botauth/keys"
)

func newTestAuthority(t *testing.T, dir string, now func() time.Time) *Authority {
	t.Helper()

	a, err := New(Config{
		Storage: FileStorage{
			KeyPath:  filepath.Join(dir, "ca.key"),
			CertPath: filepath.Join(dir, "ca.pem"),
		},
		Now: now,
	})
	require.NoError(t, err)

	return a
}

func newTestJWK(t *testing.T, kid string) (keys.JWK, ed25519.PrivateKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	return keys.NewJWK(kid, pub), priv
}

func decodePEMChain(t *testing.T, data string) []*x509.Certificate {
	t.Helper()

	var certs []*x509.Certificate

	rest := []byte(data)
	for {
		var block *pem.Block

		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		require.NoError(t, err)

		certs = append(certs, cert)
	}

	return certs
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Storage: FileStorage{}, Subject: "CN=a+O=b"})
	assert.ErrorIs(t, err, ErrInvalidSubject)

	_, err = New(Config{Storage: FileStorage{}, LeafValidityDays: 1000})
	assert.ErrorIs(t, err, ErrInvalidValidity)
}

func TestAuthorityRoot(t *testing.T) {
	dir := t.TempDir()
	a := newTestAuthority(t, dir, nil)

	root, err := a.GetOrCreate(context.Background())
	require.NoError(t, err)

	assert.True(t, root.Cert.IsCA)
	assert.True(t, root.Cert.BasicConstraintsValid)
	assert.Equal(t, x509.KeyUsageCertSign|x509.KeyUsageCRLSign, root.Cert.KeyUsage)
	assert.Equal(t, "OpenBotAuth Registry CA", root.Cert.Subject.CommonName)
	assert.Equal(t, []string{"OpenBotAuth"}, root.Cert.Subject.Organization)

	stored, err := os.ReadFile(filepath.Join(dir, "ca.pem"))
	require.NoError(t, err)
	assert.Equal(t, root.CertPEM, stored)

	t.Run("reloaded by a new instance", func(t *testing.T) {
		other := newTestAuthority(t, dir, nil)

		got, err := other.RootPEM(context.Background())
		require.NoError(t, err)
		assert.Equal(t, root.CertPEM, got)
	})

	t.Run("concurrent first use creates one root", func(t *testing.T) {
		dir := t.TempDir()
		a := newTestAuthority(t, dir, nil)

		var wg sync.WaitGroup
		roots := make([][]byte, 16)

		for i := range roots {
			wg.Add(1)
			go func() {
				defer wg.Done()

				p, err := a.RootPEM(context.Background())
				assert.NoError(t, err)
				roots[i] = p
			}()
		}
		wg.Wait()

		for _, r := range roots {
			assert.Equal(t, roots[0], r)
		}
	})
}

func TestAuthorityIssue(t *testing.T) {
	a := newTestAuthority(t, t.TempDir(), nil)
	ctx := context.Background()
	jwk, _ := newTestJWK(t, "bot-key-1")

	issued, err := a.Issue(ctx, IssueRequest{
		JWK:           jwk,
		Subject:       "CN=crawler,O=Example",
		ValidityDays:  90,
		SubjectAltURI: "https://registry.example.com/agents/crawler",
	})
	require.NoError(t, err)

	root, err := a.GetOrCreate(ctx)
	require.NoError(t, err)

	chain := decodePEMChain(t, issued.ChainPEM)
	require.Len(t, chain, 2)
	leaf := chain[0]

	t.Run("leaf profile", func(t *testing.T) {
		assert.False(t, leaf.IsCA)
		assert.Equal(t, x509.KeyUsageDigitalSignature, leaf.KeyUsage)
		assert.Equal(t, []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}, leaf.ExtKeyUsage)
		assert.Equal(t, "crawler", leaf.Subject.CommonName)
		require.Len(t, leaf.URIs, 1)
		assert.Equal(t, "https://registry.example.com/agents/crawler", leaf.URIs[0].String())
		assert.InDelta(t, 90*24*time.Hour, leaf.NotAfter.Sub(leaf.NotBefore), float64(time.Second))

		pub, err := jwk.PublicKey()
		require.NoError(t, err)
		assert.True(t, pub.Equal(leaf.PublicKey))

		assert.NoError(t, leaf.CheckSignatureFrom(root.Cert))
		assert.Equal(t, root.Cert.Raw, chain[1].Raw)
	})

	t.Run("fingerprint is sha256 of der", func(t *testing.T) {
		sum := sha256.Sum256(leaf.Raw)
		assert.Equal(t, hex.EncodeToString(sum[:]), issued.Fingerprint)
	})

	t.Run("x5c is leaf then root", func(t *testing.T) {
		require.Len(t, issued.X5C, 2)
		assert.Equal(t, base64.StdEncoding.EncodeToString(leaf.Raw), issued.X5C[0])
		assert.Equal(t, base64.StdEncoding.EncodeToString(root.Cert.Raw), issued.X5C[1])
	})

	t.Run("chain validates against root", func(t *testing.T) {
		chain, err := keys.ParseX5C(issued.X5C)
		require.NoError(t, err)
		assert.NoError(t, keys.VerifyChain(chain[:1], []*x509.Certificate{root.Cert}, time.Now()))
	})

	t.Run("no san without hint", func(t *testing.T) {
		issued, err := a.Issue(ctx, IssueRequest{JWK: jwk, Subject: "plain"})
		require.NoError(t, err)

		leaf := decodePEMChain(t, issued.CertPEM)[0]
		assert.Empty(t, leaf.URIs)
		assert.Equal(t, "plain", leaf.Subject.CommonName)
		assert.NotEqual(t, issued.Serial, "")
	})

	t.Run("check accepts a valid request", func(t *testing.T) {
		assert.NoError(t, a.CheckIssue(IssueRequest{JWK: jwk, ValidityDays: 30, SubjectAltURI: "https://bot.example.com"}))
	})

	t.Run("subject defaults to kid", func(t *testing.T) {
		issued, err := a.Issue(ctx, IssueRequest{JWK: jwk})
		require.NoError(t, err)
		assert.Equal(t, "CN=bot-key-1", issued.Subject)
	})

	t.Run("serials are unique", func(t *testing.T) {
		seen := map[string]bool{}
		for range 10 {
			issued, err := a.Issue(ctx, IssueRequest{JWK: jwk})
			require.NoError(t, err)
			assert.False(t, seen[issued.Serial])
			seen[issued.Serial] = true
		}
	})

	t.Run("invalid requests", func(t *testing.T) {
		bad := jwk
		bad.X = "short"

		tests := []struct {
			name    string
			req     IssueRequest
			wantErr error
		}{
			{"bad key", IssueRequest{JWK: bad}, ErrInvalidRequest},
			{"validity too long", IssueRequest{JWK: jwk, ValidityDays: 826}, ErrInvalidValidity},
			{"validity negative", IssueRequest{JWK: jwk, ValidityDays: -1}, ErrInvalidValidity},
			{"bad subject", IssueRequest{JWK: jwk, Subject: "CN=a,DC=b"}, ErrInvalidSubject},
			{"relative san", IssueRequest{JWK: jwk, SubjectAltURI: "/relative"}, ErrInvalidRequest},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.ErrorIs(t, a.CheckIssue(tt.req), tt.wantErr)

				_, err := a.Issue(ctx, tt.req)
				assert.ErrorIs(t, err, tt.wantErr)
			})
		}
	})
}

func TestAuthorityStatusAndRevoke(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }

	a := newTestAuthority(t, t.TempDir(), clock)
	ctx := context.Background()
	jwk, _ := newTestJWK(t, "k1")

	issued, err := a.Issue(ctx, IssueRequest{JWK: jwk, ValidityDays: 90})
	require.NoError(t, err)

	st, err := a.StatusByFingerprint(ctx, issued.Fingerprint)
	require.NoError(t, err)
	assert.True(t, st.Valid)
	assert.False(t, st.Revoked)

	st, err = a.StatusByFingerprint(ctx, "sha256:"+issued.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, issued.Serial, st.Serial)

	st, err = a.StatusBySerial(ctx, "0x"+issued.Serial)
	require.NoError(t, err)
	assert.True(t, st.Valid)

	leaf := decodePEMChain(t, issued.CertPEM)[0]

	revoked, err := a.IsRevoked(ctx, leaf)
	require.NoError(t, err)
	assert.False(t, revoked)

	st, err = a.Revoke(ctx, issued.Serial, "rotation")
	require.NoError(t, err)
	assert.True(t, st.Revoked)
	assert.False(t, st.Valid)
	assert.Equal(t, "rotation", st.RevokedReason)
	require.NotNil(t, st.RevokedAt)

	st, err = a.StatusByFingerprint(ctx, issued.Fingerprint)
	require.NoError(t, err)
	assert.False(t, st.Valid, "revoked before notAfter must be invalid")
	assert.True(t, now.Before(st.NotAfter))

	revoked, err = a.IsRevoked(ctx, leaf)
	require.NoError(t, err)
	assert.True(t, revoked)

	t.Run("revocation is irreversible", func(t *testing.T) {
		_, err := a.Revoke(ctx, issued.Serial, "again")
		assert.ErrorIs(t, err, ErrAlreadyRevoked)
	})

	t.Run("unknown certificate", func(t *testing.T) {
		_, err := a.StatusBySerial(ctx, "abcdef")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = a.StatusByFingerprint(ctx, "00")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = a.Revoke(ctx, "abcdef", "")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("expired certificate invalid", func(t *testing.T) {
		issued, err := a.Issue(ctx, IssueRequest{JWK: jwk, ValidityDays: 1})
		require.NoError(t, err)

		now = now.Add(48 * time.Hour)
		defer func() { now = now.Add(-48 * time.Hour) }()

		st, err := a.StatusBySerial(ctx, issued.Serial)
		require.NoError(t, err)
		assert.False(t, st.Valid)
		assert.False(t, st.Revoked)
	})
}

func TestAuthoritySelfHeal(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	jwk, _ := newTestJWK(t, "k1")

	first := newTestAuthority(t, dir, nil)
	_, err := first.Issue(ctx, IssueRequest{JWK: jwk})
	require.NoError(t, err)

	originalPEM, err := first.RootPEM(ctx)
	require.NoError(t, err)

	corruptions := map[string]func(t *testing.T){
		"mismatched key": func(t *testing.T) {
			_, priv, err := ed25519.GenerateKey(rand.Reader)
			require.NoError(t, err)

			pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
			require.NoError(t, err)

			require.NoError(t, os.WriteFile(filepath.Join(dir, "ca.key"),
				pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}), 0o600))
		},
		"garbage key": func(t *testing.T) {
			require.NoError(t, os.WriteFile(filepath.Join(dir, "ca.key"), []byte("garbage"), 0o600))
		},
	}

	for name, corrupt := range corruptions {
		t.Run(name, func(t *testing.T) {
			corrupt(t)

			healed := newTestAuthority(t, dir, nil)

			issued, err := healed.Issue(ctx, IssueRequest{JWK: jwk})
			require.NoError(t, err)

			newRootPEM, err := os.ReadFile(filepath.Join(dir, "ca.pem"))
			require.NoError(t, err)
			assert.NotEqual(t, originalPEM, newRootPEM)

			chain := decodePEMChain(t, issued.ChainPEM)
			require.Len(t, chain, 2)

			persisted := decodePEMChain(t, string(newRootPEM))
			require.Len(t, persisted, 1)
			assert.Equal(t, persisted[0].Raw, chain[1].Raw)

			originalPEM = newRootPEM
		})
	}
}

type failingStorage struct{}

func (failingStorage) Load() ([]byte, []byte, error) { return nil, nil, errors.New("disk on fire") }
func (failingStorage) Save([]byte, []byte) error     { return errors.New("disk on fire") }

func TestAuthorityStorageFailure(t *testing.T) {
	a, err := New(Config{Storage: failingStorage{}})
	require.NoError(t, err)

	_, err = a.GetOrCreate(context.Background())
	assert.ErrorIs(t, err, ErrStorage)
}
