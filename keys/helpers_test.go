package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// jwksServer serves a mutable JWKS document and counts requests.
type jwksServer struct {
	*httptest.Server

	mu    sync.Mutex
	doc   JWKS
	hits  atomic.Int32
	delay time.Duration
}

func newJWKSServer(t *testing.T, doc JWKS) *jwksServer {
	t.Helper()

	s := &jwksServer{doc: doc}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.hits.Add(1)

		if s.delay > 0 {
			time.Sleep(s.delay)
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		w.Header().Set("Content-Type", "application/jwk-set+json")
		_ = json.NewEncoder(w).Encode(s.doc)
	}))
	t.Cleanup(s.Close)

	return s
}

func (s *jwksServer) set(doc JWKS) {
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
}

type testCert struct {
	cert *x509.Certificate
	key  ed25519.PrivateKey
}

func newTestCA(t *testing.T, name string, parent *testCert) *testCert {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}

	issuer, signer := tmpl, priv
	if parent != nil {
		issuer, signer = parent.cert, parent.key
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, issuer, pub, signer)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &testCert{cert: cert, key: priv}
}

func newTestLeaf(t *testing.T, issuer *testCert, pub ed25519.PublicKey, eku []x509.ExtKeyUsage) *x509.Certificate {
	t.Helper()

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: "bot"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           eku,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, issuer.cert, pub, issuer.key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return cert
}
