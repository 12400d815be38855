package keys

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	corex509 "github.com/notaryproject/notation-core-go/x509"
)

// RevocationChecker reports whether a certificate has been revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, cert *x509.Certificate) (bool, error)
}

// LoadTrustAnchors reads PEM or DER certificates from path. Every
// certificate must be a CA or self-signed.
func LoadTrustAnchors(path string) ([]*x509.Certificate, error) {
	certs, err := corex509.ReadCertificateFile(path)
	if err != nil {
		return nil, fmt.Errorf("error while reading trust anchors from %q: %w", path, err)
	}

	if len(certs) == 0 {
		return nil, fmt.Errorf("trust anchor file %q has no x509 certificates", path)
	}

	for _, cert := range certs {
		if cert.IsCA {
			continue
		}

		if err := cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature); err != nil {
			return nil, fmt.Errorf("certificate with subject %q is not a CA certificate or self-signed", cert.Subject)
		}
	}

	return certs, nil
}

// ParseX5C decodes a JWK x5c member: standard base64 DER certificates,
// leaf first.
func ParseX5C(x5c []string) ([]*x509.Certificate, error) {
	if len(x5c) == 0 {
		return nil, fmt.Errorf("%w: empty x5c", ErrChainInvalid)
	}

	chain := make([]*x509.Certificate, 0, len(x5c))

	for i, s := range x5c {
		der, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: x5c[%d] is not base64", ErrChainInvalid, i)
		}

		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%w: x5c[%d]: %v", ErrChainInvalid, i, err)
		}

		chain = append(chain, cert)
	}

	return chain, nil
}

// ParsePEMChain decodes consecutive CERTIFICATE blocks, as served from an
// x5u URL.
func ParsePEMChain(data []byte) ([]*x509.Certificate, error) {
	var chain []*x509.Certificate

	for {
		var block *pem.Block

		block, data = pem.Decode(data)
		if block == nil {
			break
		}

		if block.Type != "CERTIFICATE" {
			continue
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrChainInvalid, err)
		}

		chain = append(chain, cert)
	}

	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: no certificates in pem", ErrChainInvalid)
	}

	return chain, nil
}

// VerifyChain validates an ordered leaf-first chain against anchors at now.
// Each certificate must be issued by the next one, signing certificates
// must be CAs, the last certificate must be an anchor or be issued by one,
// every certificate must be within its validity window and the leaf must
// carry the clientAuth extended key usage.
//
// The chain is not bound to any Signature-Agent identity.
func VerifyChain(chain, anchors []*x509.Certificate, now time.Time) error {
	if len(chain) == 0 {
		return fmt.Errorf("%w: empty chain", ErrChainInvalid)
	}

	if len(anchors) == 0 {
		return fmt.Errorf("%w: no trust anchors configured", ErrChainInvalid)
	}

	for i, cert := range chain {
		if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
			return fmt.Errorf("%w: certificate %d outside validity window", ErrChainInvalid, i)
		}
	}

	leaf := chain[0]
	if !slices.Contains(leaf.ExtKeyUsage, x509.ExtKeyUsageClientAuth) {
		return fmt.Errorf("%w: leaf lacks clientAuth extended key usage", ErrChainInvalid)
	}

	for i := 0; i < len(chain)-1; i++ {
		if err := checkIssued(chain[i], chain[i+1]); err != nil {
			return fmt.Errorf("%w: certificate %d: %v", ErrChainInvalid, i, err)
		}
	}

	last := chain[len(chain)-1]

	for _, anchor := range anchors {
		if bytes.Equal(last.Raw, anchor.Raw) {
			return nil
		}
	}

	for _, anchor := range anchors {
		if now.Before(anchor.NotBefore) || now.After(anchor.NotAfter) {
			continue
		}

		if checkIssued(last, anchor) == nil {
			return nil
		}
	}

	return fmt.Errorf("%w: chain does not terminate at a trust anchor", ErrChainInvalid)
}

// checkIssued verifies that parent issued child. CheckSignatureFrom
// enforces the CA basic constraint and keyCertSign usage on parent.
func checkIssued(child, parent *x509.Certificate) error {
	if !bytes.Equal(child.RawIssuer, parent.RawSubject) {
		return errors.New("issuer does not match next subject")
	}

	return child.CheckSignatureFrom(parent)
}

func (r *Resolver) fetchX5U(ctx context.Context, url string) ([]*x509.Certificate, error) {
	if err := r.checkSource(url); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	resp, err := r.cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: x5u status %d", ErrFetchFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, defaultMaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	return ParsePEMChain(data)
}
