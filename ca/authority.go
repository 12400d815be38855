// Package ca is a local certificate authority that delegates signing
// authority for Ed25519 agent keys through X.509 client certificates.
package ca

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"

	"github.com/vitalvas/botauth/keys"
	"github.com/vitalvas/botauth/nonce"
)

const (
	DefaultSubject      = "CN=OpenBotAuth Registry CA,O=OpenBotAuth"
	DefaultRootDays     = 3650
	DefaultLeafDays     = 90
	MaxLeafDays         = 825
	serialBits          = 128
	pemTypeCertificate  = "CERTIFICATE"
	pemTypePrivateKey   = "PRIVATE KEY"
	fingerprintSHA256   = "sha256:"
	defaultRevokeReason = "unspecified"
)

// Config configures an Authority.
type Config struct {
	// Storage persists the root pair. Required.
	Storage Storage

	// Subject of the root certificate. Defaults to DefaultSubject.
	Subject string

	// RootValidityDays defaults to 3650.
	RootValidityDays int

	// LeafValidityDays is used when an issuance request does not specify
	// one. Defaults to 90.
	LeafValidityDays int

	// Records keeps issued certificates. Defaults to a memory store.
	Records RecordStore

	// ProofGuard makes proofs of possession single-use. Defaults to a
	// memory store.
	ProofGuard nonce.Guard

	Logger zerolog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Root is the loaded CA key pair.
type Root struct {
	Key     ed25519.PrivateKey
	Cert    *x509.Certificate
	CertPEM []byte
}

// IssuedCertificate is the result of an issuance.
type IssuedCertificate struct {
	ID          string    `json:"id"`
	Serial      string    `json:"serial"`
	Kid         string    `json:"kid"`
	Subject     string    `json:"subject"`
	CertPEM     string    `json:"certPem"`
	ChainPEM    string    `json:"chainPem"`
	X5C         []string  `json:"x5c"`
	NotBefore   time.Time `json:"notBefore"`
	NotAfter    time.Time `json:"notAfter"`
	Fingerprint string    `json:"fingerprintSha256"`
}

// IssueRequest describes a leaf certificate to issue.
type IssueRequest struct {
	JWK     keys.JWK
	Subject string

	// ValidityDays defaults to Config.LeafValidityDays; range 1..825.
	ValidityDays int

	// SubjectAltURI is recorded as a SAN URI hint. It is not verified.
	SubjectAltURI string
}

// Status is the revocation and validity state of an issued certificate.
type Status struct {
	Serial        string     `json:"serial"`
	Fingerprint   string     `json:"fingerprintSha256"`
	Valid         bool       `json:"valid"`
	Revoked       bool       `json:"revoked"`
	NotBefore     time.Time  `json:"notBefore"`
	NotAfter      time.Time  `json:"notAfter"`
	RevokedAt     *time.Time `json:"revokedAt,omitempty"`
	RevokedReason string     `json:"revokedReason,omitempty"`
}

// Authority issues and tracks leaf certificates. The root is created
// lazily on first use; concurrent first use produces a single root.
type Authority struct {
	cfg Config

	mu   sync.Mutex
	root *Root
}

// New validates cfg and returns an Authority. The root is not loaded
// until first use.
func New(cfg Config) (*Authority, error) {
	if cfg.Storage == nil {
		return nil, errors.New("ca: storage is required")
	}

	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}

	if _, err := ParseSubject(cfg.Subject); err != nil {
		return nil, err
	}

	if cfg.RootValidityDays <= 0 {
		cfg.RootValidityDays = DefaultRootDays
	}

	if cfg.LeafValidityDays <= 0 {
		cfg.LeafValidityDays = DefaultLeafDays
	}

	if cfg.LeafValidityDays > MaxLeafDays {
		return nil, fmt.Errorf("%w: default leaf validity %d exceeds %d days", ErrInvalidValidity, cfg.LeafValidityDays, MaxLeafDays)
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if cfg.Records == nil {
		cfg.Records = NewMemoryRecordStore()
	}

	if cfg.ProofGuard == nil {
		cfg.ProofGuard = nonce.NewMemoryStore(cfg.Now)
	}

	return &Authority{cfg: cfg}, nil
}

// GetOrCreate returns the root, loading it from storage or generating and
// persisting a new one. A stored certificate whose public key does not
// match the stored private key, or an unreadable pair, is replaced by a
// freshly generated root.
func (a *Authority) GetOrCreate(_ context.Context) (*Root, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.root != nil {
		return a.root, nil
	}

	keyPEM, certPEM, err := a.cfg.Storage.Load()

	switch {
	case err == nil:
		root, perr := parseRoot(keyPEM, certPEM)
		if perr == nil {
			a.root = root
			return root, nil
		}

		a.cfg.Logger.Warn().Err(perr).Msg("stored ca root is unusable, regenerating; certificates issued under the previous root will no longer verify")

	case errors.Is(err, os.ErrNotExist):
		a.cfg.Logger.Info().Msg("no ca root found, generating")

	default:
		return nil, fmt.Errorf("%w: load root: %v", ErrStorage, err)
	}

	root, keyPEM, err := a.generateRoot()
	if err != nil {
		return nil, err
	}

	if err := a.cfg.Storage.Save(keyPEM, root.CertPEM); err != nil {
		return nil, err
	}

	a.cfg.Logger.Info().
		Str("subject", root.Cert.Subject.String()).
		Time("not_after", root.Cert.NotAfter).
		Msg("ca root created")

	a.root = root

	return root, nil
}

// RootPEM returns the PEM-encoded root certificate.
func (a *Authority) RootPEM(ctx context.Context) ([]byte, error) {
	root, err := a.GetOrCreate(ctx)
	if err != nil {
		return nil, err
	}

	return root.CertPEM, nil
}

// issuePlan is a validated IssueRequest.
type issuePlan struct {
	pub  ed25519.PublicKey
	name pkix.Name
	days int
	san  *url.URL
}

// CheckIssue validates req without signing or recording anything.
func (a *Authority) CheckIssue(req IssueRequest) error {
	_, err := a.plan(req, a.cfg.Now())
	return err
}

func (a *Authority) plan(req IssueRequest, now time.Time) (*issuePlan, error) {
	if err := req.JWK.Validate(now); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	pub, err := req.JWK.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	days := req.ValidityDays
	if days == 0 {
		days = a.cfg.LeafValidityDays
	}

	if days < 1 || days > MaxLeafDays {
		return nil, fmt.Errorf("%w: %d days not in 1..%d", ErrInvalidValidity, days, MaxLeafDays)
	}

	subject := req.Subject
	if subject == "" {
		subject = req.JWK.Kid
	}

	name, err := ParseSubject(subject)
	if err != nil {
		return nil, err
	}

	plan := &issuePlan{pub: pub, name: name, days: days}

	if req.SubjectAltURI != "" {
		u, err := url.Parse(req.SubjectAltURI)
		if err != nil || !u.IsAbs() {
			return nil, fmt.Errorf("%w: subject alt uri must be absolute", ErrInvalidRequest)
		}

		plan.san = u
	}

	return plan, nil
}

// Issue signs a leaf certificate for the request's Ed25519 key.
func (a *Authority) Issue(ctx context.Context, req IssueRequest) (*IssuedCertificate, error) {
	now := a.cfg.Now()

	plan, err := a.plan(req, now)
	if err != nil {
		return nil, err
	}

	root, err := a.GetOrCreate(ctx)
	if err != nil {
		return nil, err
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	notAfter := now.Add(time.Duration(plan.days) * 24 * time.Hour)
	if notAfter.After(root.Cert.NotAfter) {
		notAfter = root.Cert.NotAfter
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               plan.name,
		NotBefore:             now,
		NotAfter:              notAfter,
		BasicConstraintsValid: true,
		IsCA:                  false,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	if plan.san != nil {
		tmpl.URIs = []*url.URL{plan.san}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, root.Cert, plan.pub, root.Key)
	if err != nil {
		return nil, fmt.Errorf("ca: sign leaf: %w", err)
	}

	leafPEM := pem.EncodeToMemory(&pem.Block{Type: pemTypeCertificate, Bytes: der})

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	issued := IssuedCertificate{
		ID:        id.String(),
		Serial:    serialHex(serial),
		Kid:       req.JWK.Kid,
		Subject:   plan.name.String(),
		CertPEM:   string(leafPEM),
		ChainPEM:  string(leafPEM) + string(root.CertPEM),
		X5C:       []string{base64.StdEncoding.EncodeToString(der), base64.StdEncoding.EncodeToString(root.Cert.Raw)},
		NotBefore: tmpl.NotBefore.UTC().Truncate(time.Second),
		NotAfter:  tmpl.NotAfter.UTC().Truncate(time.Second),
		// The fingerprint covers the DER bytes, never the PEM text.
		Fingerprint: Fingerprint(der),
	}

	if err := a.cfg.Records.Put(ctx, &Record{IssuedCertificate: issued}); err != nil {
		return nil, fmt.Errorf("ca: record issuance: %w", err)
	}

	return &issued, nil
}

// Revoke marks serial as revoked. Revocation is irreversible.
func (a *Authority) Revoke(ctx context.Context, serial, reason string) (*Status, error) {
	if reason == "" {
		reason = defaultRevokeReason
	}

	rec, err := a.cfg.Records.Revoke(ctx, normalizeSerial(serial), reason, a.cfg.Now().UTC())
	if err != nil {
		return nil, err
	}

	return a.status(rec), nil
}

// StatusBySerial returns the state of the certificate with the given hex
// serial.
func (a *Authority) StatusBySerial(ctx context.Context, serial string) (*Status, error) {
	rec, err := a.cfg.Records.BySerial(ctx, normalizeSerial(serial))
	if err != nil {
		return nil, err
	}

	return a.status(rec), nil
}

// StatusByFingerprint returns the state of the certificate whose DER
// SHA-256 matches fingerprint (hex, optionally "sha256:" prefixed).
func (a *Authority) StatusByFingerprint(ctx context.Context, fingerprint string) (*Status, error) {
	rec, err := a.cfg.Records.ByFingerprint(ctx, normalizeFingerprint(fingerprint))
	if err != nil {
		return nil, err
	}

	return a.status(rec), nil
}

// IsRevoked reports whether cert was issued here and has been revoked.
// Certificates unknown to the record store are not considered revoked.
func (a *Authority) IsRevoked(ctx context.Context, cert *x509.Certificate) (bool, error) {
	rec, err := a.cfg.Records.BySerial(ctx, serialHex(cert.SerialNumber))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return rec.Revoked(), nil
}

func (a *Authority) status(rec *Record) *Status {
	now := a.cfg.Now()

	s := &Status{
		Serial:        rec.Serial,
		Fingerprint:   rec.Fingerprint,
		Revoked:       rec.Revoked(),
		NotBefore:     rec.NotBefore,
		NotAfter:      rec.NotAfter,
		RevokedAt:     rec.RevokedAt,
		RevokedReason: rec.RevokedReason,
	}

	s.Valid = !s.Revoked && !now.Before(rec.NotBefore) && !now.After(rec.NotAfter)

	return s
}

func (a *Authority) generateRoot() (*Root, []byte, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	name, err := ParseSubject(a.cfg.Subject)
	if err != nil {
		return nil, nil, err
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, nil, err
	}

	now := a.cfg.Now()

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               name,
		NotBefore:             now,
		NotAfter:              now.Add(time.Duration(a.cfg.RootValidityDays) * 24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLenZero:        true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
	if err != nil {
		return nil, nil, fmt.Errorf("ca: sign root: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}

	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, err
	}

	root := &Root{
		Key:     priv,
		Cert:    cert,
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: pemTypeCertificate, Bytes: der}),
	}

	return root, pem.EncodeToMemory(&pem.Block{Type: pemTypePrivateKey, Bytes: pkcs8}), nil
}

// parseRoot decodes a stored pair and checks that the certificate's key
// belongs to the private key.
func parseRoot(keyPEM, certPEM []byte) (*Root, error) {
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil || keyBlock.Type != pemTypePrivateKey {
		return nil, errors.New("root key is not a PKCS#8 PEM block")
	}

	parsed, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse root key: %w", err)
	}

	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("root key is not ed25519")
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil || certBlock.Type != pemTypeCertificate {
		return nil, errors.New("root certificate is not a PEM certificate")
	}

	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse root certificate: %w", err)
	}

	certPub, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok || !bytes.Equal(certPub, priv.Public().(ed25519.PublicKey)) {
		return nil, errors.New("root certificate does not match root key")
	}

	if !cert.IsCA {
		return nil, errors.New("root certificate is not a CA")
	}

	return &Root{
		Key:     priv,
		Cert:    cert,
		CertPEM: pem.EncodeToMemory(certBlock),
	}, nil
}

// Fingerprint returns the hex SHA-256 of a certificate's DER encoding.
func Fingerprint(der []byte) string {
	return digest.FromBytes(der).Encoded()
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), serialBits)

	for {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return nil, err
		}

		if n.Sign() > 0 {
			return n, nil
		}
	}
}

func serialHex(n *big.Int) string {
	return n.Text(16)
}

func normalizeSerial(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, ":", "")
	s = strings.TrimPrefix(s, "0x")

	return strings.TrimLeft(s, "0")
}

func normalizeFingerprint(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, fingerprintSHA256)

	return strings.ReplaceAll(s, ":", "")
}
