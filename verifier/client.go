package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultClientTimeout = 5 * time.Second
	maxResponseSize      = 1 << 20
)

// ClientConfig configures a remote verifier Client.
type ClientConfig struct {
	// URL is the verifier endpoint, e.g. https://verifier.example.com/verify.
	URL string

	// Timeout bounds one verification call. Defaults to 5s.
	Timeout time.Duration

	// HTTPClient performs calls. Defaults to a new client.
	HTTPClient *http.Client

	Logger zerolog.Logger
}

// Client calls a remote verifier over the JSON verification contract.
// Transport failures and timeouts yield an unverified Result, never an
// error.
type Client struct {
	cfg ClientConfig
}

// NewClient returns a Client for cfg.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("verifier: client url is required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultClientTimeout
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	return &Client{cfg: cfg}, nil
}

// Verify posts req to the verifier and decodes its Result.
func (c *Client) Verify(ctx context.Context, req Request) Result {
	payload, err := json.Marshal(req)
	if err != nil {
		return Failure(CodeInternalError, "")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return Failure(CodeInternalError, "")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		c.cfg.Logger.Warn().Err(err).Str("verifier_url", c.cfg.URL).Msg("verifier call failed")
		return Failure(CodeVerifierUnavailable, "")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.cfg.Logger.Warn().Err(err).Str("verifier_url", c.cfg.URL).Msg("verifier response read failed")
		return Failure(CodeVerifierUnavailable, "")
	}

	var res Result
	if err := json.Unmarshal(body, &res); err != nil {
		return Result{
			Error: fmt.Sprintf("Invalid verifier response: %d", resp.StatusCode),
			Code:  CodeVerifierUnavailable,
		}
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		res.Verified = false
		res.Agent = nil

		if res.Error == "" {
			res.Error = "Verifier service error"
		}

		if res.Code == "" {
			res.Code = CodeVerifierUnavailable
		}
	}

	return res
}
