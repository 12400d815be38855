package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/vitalvas/botauth/ca"
	"github.com/vitalvas/botauth/keys"
	"github.com/vitalvas/botauth/muxhandlers"
	"github.com/vitalvas/botauth/verifier"
)

type healthResponse struct {
	Status string `json:"status"`
}

type issueRequest struct {
	JWK           *keys.JWK `json:"jwk"`
	Subject       string    `json:"subject,omitempty"`
	ValidityDays  int       `json:"validityDays,omitempty"`
	SubjectAltURI string    `json:"subjectAltUri,omitempty"`
	Proof         *ca.Proof `json:"proof"`
}

type revokeRequest struct {
	Serial string `json:"serial"`
	Reason string `json:"reason,omitempty"`
}

type invalidateRequest struct {
	JWKSURL string `json:"jwksUrl"`
}

type invalidateResponse struct {
	JWKSURL     string `json:"jwksUrl"`
	Invalidated bool   `json:"invalidated"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	muxhandlers.ResponseJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifier.Request
	if !s.decode(w, r, &req) {
		return
	}

	if req.Method == "" || req.URL == "" {
		invalidRequest(w, "method and url are required")
		return
	}

	res := s.cfg.Verifier.Verify(r.Context(), req)

	muxhandlers.ResponseJSON(w, http.StatusOK, res)
}

func (s *Server) handleRootPEM(w http.ResponseWriter, r *http.Request) {
	pemBytes, err := s.cfg.Authority.RootPEM(r.Context())
	if err != nil {
		s.internalError(w, r, err, "load ca root")
		return
	}

	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pemBytes)
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if !s.decode(w, r, &req) {
		return
	}

	if req.JWK == nil {
		invalidRequest(w, "jwk is required")
		return
	}

	if req.Proof == nil {
		muxhandlers.ResponseError(w, http.StatusUnauthorized, "proof_required",
			"Proof of possession is required", "")
		return
	}

	issue := ca.IssueRequest{
		JWK:           *req.JWK,
		Subject:       req.Subject,
		ValidityDays:  req.ValidityDays,
		SubjectAltURI: req.SubjectAltURI,
	}

	// Proofs are single use; reject bad input before recording one.
	if err := s.cfg.Authority.CheckIssue(issue); err != nil {
		s.caError(w, r, err, "issue certificate")
		return
	}

	if err := s.cfg.Authority.VerifyProof(r.Context(), *req.JWK, *req.Proof); err != nil {
		switch {
		case errors.Is(err, ca.ErrProofInvalid), errors.Is(err, ca.ErrProofExpired), errors.Is(err, ca.ErrProofReplayed):
			muxhandlers.ResponseError(w, http.StatusUnauthorized, "invalid_proof",
				"Proof of possession rejected", err.Error())
		default:
			s.internalError(w, r, err, "verify proof")
		}

		return
	}

	cert, err := s.cfg.Authority.Issue(r.Context(), issue)
	if err != nil {
		s.caError(w, r, err, "issue certificate")
		return
	}

	muxhandlers.LoggerFrom(r, s.cfg.Logger).Info().
		Str("serial", cert.Serial).
		Str("kid", cert.Kid).
		Time("not_after", cert.NotAfter).
		Msg("certificate issued")

	muxhandlers.ResponseJSON(w, http.StatusCreated, cert)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if !s.decode(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.Serial) == "" {
		invalidRequest(w, "serial is required")
		return
	}

	status, err := s.cfg.Authority.Revoke(r.Context(), req.Serial, req.Reason)
	if err != nil {
		s.caError(w, r, err, "revoke certificate")
		return
	}

	logger := muxhandlers.LoggerFrom(r, s.cfg.Logger).Info().
		Str("serial", status.Serial).
		Str("reason", status.RevokedReason)
	if claims, ok := muxhandlers.ClaimsFromContext(r.Context()); ok {
		logger = logger.Str("admin", claims.Subject)
	}

	logger.Msg("certificate revoked")

	muxhandlers.ResponseJSON(w, http.StatusOK, status)
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if !s.decode(w, r, &req) {
		return
	}

	u, err := url.Parse(req.JWKSURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		invalidRequest(w, "jwksUrl must be an absolute url")
		return
	}

	s.cfg.KeyCache.Invalidate(req.JWKSURL)

	logger := muxhandlers.LoggerFrom(r, s.cfg.Logger).Info().Str("jwks_url", req.JWKSURL)
	if claims, ok := muxhandlers.ClaimsFromContext(r.Context()); ok {
		logger = logger.Str("admin", claims.Subject)
	}

	logger.Msg("jwks invalidated")

	muxhandlers.ResponseJSON(w, http.StatusOK, invalidateResponse{JWKSURL: req.JWKSURL, Invalidated: true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		status *ca.Status
		err    error
	)

	switch {
	case q.Get("serial") != "":
		status, err = s.cfg.Authority.StatusBySerial(r.Context(), q.Get("serial"))
	case q.Get("fingerprint") != "":
		status, err = s.cfg.Authority.StatusByFingerprint(r.Context(), q.Get("fingerprint"))
	default:
		invalidRequest(w, "serial or fingerprint query parameter is required")
		return
	}

	if err != nil {
		s.caError(w, r, err, "certificate status")
		return
	}

	muxhandlers.ResponseJSON(w, http.StatusOK, status)
}

// decode reads a JSON body into v and writes the error response itself
// when it fails.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)

	if err := dec.Decode(v); err != nil {
		switch {
		case muxhandlers.IsBodyTooLarge(err):
			muxhandlers.BodyTooLarge(w, s.cfg.MaxBodySize)
		case errors.Is(err, io.EOF):
			invalidRequest(w, "request body is empty")
		default:
			invalidRequest(w, err.Error())
		}

		return false
	}

	if dec.More() {
		invalidRequest(w, "unexpected data after JSON body")
		return false
	}

	return true
}

func (s *Server) caError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, ca.ErrNotFound):
		muxhandlers.ResponseError(w, http.StatusNotFound, "not_found", "Certificate not found", "")
	case errors.Is(err, ca.ErrAlreadyRevoked):
		muxhandlers.ResponseError(w, http.StatusConflict, "already_revoked", "Certificate is already revoked", "")
	case errors.Is(err, ca.ErrInvalidSubject), errors.Is(err, ca.ErrInvalidValidity),
		errors.Is(err, ca.ErrInvalidRequest), errors.Is(err, keys.ErrInvalidJWK):
		invalidRequest(w, err.Error())
	default:
		s.internalError(w, r, err, op)
	}
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error, op string) {
	muxhandlers.LoggerFrom(r, s.cfg.Logger).Error().Err(err).Str("op", op).Msg("request failed")
	muxhandlers.ResponseError(w, http.StatusInternalServerError, "internal_error", "Internal error", "")
}

func invalidRequest(w http.ResponseWriter, detail string) {
	muxhandlers.ResponseError(w, http.StatusBadRequest, "invalid_request", "Invalid request", detail)
}
