// Package httpsig implements the HTTP Message Signatures codec (RFC 9421)
// used by web bot authentication, with optional Content-Digest support per
// RFC 9530.
//
// The same signature base builder serves the signing and the verifying
// side, so a request signed by SignRequest or Transport verifies against
// BuildSignatureBase on the receiving end without any re-serialization
// differences.
//
// # Algorithm
//
// Only ed25519 is supported. Keys are raw 32-byte public keys and 64-byte
// private keys from crypto/ed25519.
//
// # Signing Requests
//
//	signer, err := httpsig.NewEd25519Signer("my-key-id", privateKey)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	err = httpsig.SignRequest(req, httpsig.SignOptions{
//	    Signer:  signer,
//	    JWKSURL: "https://registry.example.com/jwks/my-bot.json",
//	})
//
// The request receives Signature-Agent, Signature-Input and Signature
// headers. Covered components default to @method, @path and @authority,
// plus content-type (and content-digest when DigestAlgorithm is set) for
// requests with a body, plus the Signature-Agent component.
//
// # Signature-Agent Formats
//
// Two wire formats are recognized. The legacy format is a bare URL covered
// as "signature-agent". The dictionary format keys the URL by signature
// label, Signature-Agent: sig1="https://...", and is covered as
// "signature-agent";key="sig1". New signatures use the dictionary format
// unless AgentFormatLegacy is requested.
//
// # Verifying
//
// ParseEnvelope extracts the labeled signature and its parameters. The
// verifier rebuilds the base from RequestFacts with BuildSignatureBase and
// checks it with a Verifier. The received parameter string is reused
// verbatim for the @signature-params line.
//
// # Transport
//
// Transport wraps an http.RoundTripper and signs every outgoing request:
//
//	client := &http.Client{
//	    Transport: httpsig.NewTransport(nil, httpsig.SignOptions{
//	        Signer:  signer,
//	        JWKSURL: "https://registry.example.com/jwks/my-bot.json",
//	    }),
//	}
package httpsig
