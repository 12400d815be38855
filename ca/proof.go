package ca

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vitalvas/botauth/keys"
)

const (
	proofPrefix = "cert-issue:"
	proofWindow = 5 * time.Minute
)

// Proof is a proof of possession: an Ed25519 signature by the key being
// certified over "cert-issue:<kid>:<unix seconds>".
type Proof struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// ProofMessage returns the message a key holder signs to request a
// certificate for kid at ts.
func ProofMessage(kid string, ts time.Time) string {
	return proofPrefix + kid + ":" + strconv.FormatInt(ts.Unix(), 10)
}

// SignProof produces a Proof for kid with priv at ts.
func SignProof(kid string, priv ed25519.PrivateKey, ts time.Time) Proof {
	msg := ProofMessage(kid, ts)

	return Proof{
		Message:   msg,
		Signature: base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(msg))),
	}
}

// VerifyProof checks that p was produced by the holder of jwk within the
// accepted time window and has not been presented before.
func (a *Authority) VerifyProof(ctx context.Context, jwk keys.JWK, p Proof) error {
	rest, ok := strings.CutPrefix(p.Message, proofPrefix)
	if !ok {
		return fmt.Errorf("%w: message must start with %q", ErrProofInvalid, proofPrefix)
	}

	idx := strings.LastIndexByte(rest, ':')
	if idx < 0 {
		return fmt.Errorf("%w: message lacks timestamp", ErrProofInvalid)
	}

	kid, tsRaw := rest[:idx], rest[idx+1:]

	if kid != jwk.Kid {
		return fmt.Errorf("%w: message kid %q does not match key %q", ErrProofInvalid, kid, jwk.Kid)
	}

	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid timestamp", ErrProofInvalid)
	}

	skew := a.cfg.Now().Sub(time.Unix(ts, 0))
	if skew > proofWindow || skew < -proofWindow {
		return ErrProofExpired
	}

	pub, err := jwk.PublicKey()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProofInvalid, err)
	}

	sig, err := decodeSignature(p.Signature)
	if err != nil {
		return err
	}

	if !ed25519.Verify(pub, []byte(p.Message), sig) {
		return fmt.Errorf("%w: signature mismatch", ErrProofInvalid)
	}

	fresh, err := a.cfg.ProofGuard.CheckAndRecord(ctx, "pop:"+p.Message, 2*proofWindow)
	if err != nil {
		return fmt.Errorf("ca: record proof: %w", err)
	}

	if !fresh {
		return ErrProofReplayed
	}

	return nil
}

// decodeSignature accepts standard or URL-safe base64, padded or not.
func decodeSignature(s string) ([]byte, error) {
	s = strings.TrimSpace(s)

	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil && len(b) == ed25519.SignatureSize {
			return b, nil
		}
	}

	return nil, fmt.Errorf("%w: signature is not a base64 ed25519 signature", ErrProofInvalid)
}
