package muxhandlers

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// ErrorBody is the JSON error document written by every HTTP surface.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// ResponseJSON encodes v as JSON and writes it with the given status code.
// If encoding fails, a plain 500 is written instead.
func ResponseJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}

// ResponseError writes an ErrorBody with the given status code.
func ResponseError(w http.ResponseWriter, code int, errCode, message, detail string) {
	ResponseJSON(w, code, ErrorBody{Error: errCode, Message: message, Detail: detail})
}
