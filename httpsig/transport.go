package httpsig

import "net/http"

// Transport is an http.RoundTripper that signs outgoing bot requests with
// HTTP Message Signatures and a Signature-Agent header.
type Transport struct {
	base http.RoundTripper
	opts SignOptions
}

// NewTransport creates a signing Transport that delegates to base after
// signing each request. When base is nil, a clone of http.DefaultTransport
// is used.
//
//	client := &http.Client{
//	    Transport: httpsig.NewTransport(nil, httpsig.SignOptions{
//	        Signer:  signer,
//	        JWKSURL: "https://registry.example.com/jwks/my-bot.json",
//	    }),
//	}
func NewTransport(base *http.Transport, opts SignOptions) *Transport {
	var rt http.RoundTripper
	if base != nil {
		rt = base
	} else {
		rt = http.DefaultTransport.(*http.Transport).Clone()
	}

	return &Transport{
		base: rt,
		opts: opts,
	}
}

// RoundTrip signs a clone of the request and delegates to the base
// transport. When GetBody is available, the clone receives its own body
// copy so that digest computation does not consume the caller's body.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())

	if clone.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}

		clone.Body = body
	}

	// Drop signatures from a previous attempt (redirects, retries).
	clone.Header.Del("Signature")
	clone.Header.Del("Signature-Input")

	if err := SignRequest(clone, t.opts); err != nil {
		return nil, err
	}

	return t.base.RoundTrip(clone)
}
