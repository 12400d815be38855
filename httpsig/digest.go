package httpsig

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"hash"
	"io"
	"net/http"
	"strings"
)

// DigestAlgorithm is an RFC 9530 hash algorithm key.
type DigestAlgorithm string

const (
	DigestSHA256 DigestAlgorithm = "sha-256"
	DigestSHA512 DigestAlgorithm = "sha-512"
)

const headerContentDigest = "Content-Digest"

var digestHashes = map[DigestAlgorithm]func() hash.Hash{
	DigestSHA256: sha256.New,
	DigestSHA512: sha512.New,
}

// ContentDigest returns the Content-Digest field value for body.
func ContentDigest(body []byte, alg DigestAlgorithm) (string, error) {
	sum, err := digestOf(body, alg)
	if err != nil {
		return "", err
	}

	return string(alg) + "=:" + base64.StdEncoding.EncodeToString(sum) + ":", nil
}

// SetContentDigest sets the Content-Digest header of r from its body. The
// body is buffered and replaced so it can be sent afterwards.
func SetContentDigest(r *http.Request, alg DigestAlgorithm) error {
	body, err := bufferBody(r)
	if err != nil {
		return err
	}

	value, err := ContentDigest(body, alg)
	if err != nil {
		return err
	}

	r.Header.Set(headerContentDigest, value)

	return nil
}

// VerifyContentDigest checks the Content-Digest header of r against its
// body, leaving the body readable.
func VerifyContentDigest(r *http.Request) error {
	value := r.Header.Get(headerContentDigest)
	if value == "" {
		return ErrDigestNotFound
	}

	body, err := bufferBody(r)
	if err != nil {
		return err
	}

	return VerifyDigest(value, body)
}

// VerifyDigest checks a Content-Digest field value against body. Every
// member with a supported algorithm must match; members with unknown
// algorithms are skipped. A value with no supported member fails with
// ErrUnsupportedDigest.
func VerifyDigest(value string, body []byte) error {
	if strings.TrimSpace(value) == "" {
		return ErrDigestNotFound
	}

	checked := 0

	for member := range strings.SplitSeq(value, ",") {
		key, raw, ok := strings.Cut(strings.TrimSpace(member), "=")
		if !ok {
			return ErrMalformedHeader
		}

		alg := DigestAlgorithm(strings.ToLower(strings.TrimSpace(key)))
		if _, known := digestHashes[alg]; !known {
			continue
		}

		encoded, ok := byteSequence(strings.TrimSpace(raw))
		if !ok {
			return ErrMalformedHeader
		}

		got, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return ErrMalformedHeader
		}

		want, _ := digestOf(body, alg)
		if subtle.ConstantTimeCompare(got, want) != 1 {
			return ErrDigestMismatch
		}

		checked++
	}

	if checked == 0 {
		return ErrUnsupportedDigest
	}

	return nil
}

func digestOf(body []byte, alg DigestAlgorithm) ([]byte, error) {
	newHash, ok := digestHashes[alg]
	if !ok {
		return nil, ErrUnsupportedDigest
	}

	h := newHash()
	h.Write(body)

	return h.Sum(nil), nil
}

// byteSequence strips the colons of an RFC 8941 byte sequence.
func byteSequence(s string) (string, bool) {
	if len(s) < 2 || s[0] != ':' || s[len(s)-1] != ':' {
		return "", false
	}

	return s[1 : len(s)-1], true
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	body, err := io.ReadAll(r.Body)
	_ = r.Body.Close()

	if err != nil {
		return nil, err
	}

	r.Body = io.NopCloser(bytes.NewReader(body))

	return body, nil
}
