package verifier

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Agent identifies a verified signer.
type Agent struct {
	JWKSURL    string `json:"jwksUrl"`
	Kid        string `json:"kid"`
	ClientName string `json:"clientName,omitempty"`
}

// Result is the outcome of a verification. On failure Error carries a
// message and Code the machine-readable reason.
type Result struct {
	Verified bool   `json:"verified"`
	Agent    *Agent `json:"agent,omitempty"`
	Error    string `json:"error,omitempty"`
	Code     Code   `json:"code,omitempty"`
	Created  int64  `json:"created,omitempty"`
	Expires  int64  `json:"expires,omitempty"`
}

// Failure returns an unverified Result for code with an optional detail
// appended to the message.
func Failure(code Code, detail string) Result {
	msg := code.Message()
	if detail != "" {
		msg += ": " + detail
	}

	return Result{Error: msg, Code: code}
}

// Headers is a header set keyed by lowercased name. When decoding JSON a
// value may be a string or an array of strings; arrays are joined with
// ", ".
type Headers map[string]string

// UnmarshalJSON accepts string or string-array values.
func (h *Headers) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(Headers, len(raw))

	for name, value := range raw {
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			out[strings.ToLower(name)] = s
			continue
		}

		var list []string
		if err := json.Unmarshal(value, &list); err != nil {
			return fmt.Errorf("header %q: must be a string or array of strings", name)
		}

		out[strings.ToLower(name)] = strings.Join(list, ", ")
	}

	*h = out

	return nil
}

// HeadersFromHTTP collapses an http.Header into Headers.
func HeadersFromHTTP(h http.Header) Headers {
	out := make(Headers, len(h))
	for name, values := range h {
		out[strings.ToLower(name)] = strings.Join(values, ", ")
	}

	return out
}

// HTTP converts h into an http.Header.
func (h Headers) HTTP() http.Header {
	out := make(http.Header, len(h))
	for name, value := range h {
		out.Set(name, value)
	}

	return out
}

// Names returns the header names in sorted order.
func (h Headers) Names() []string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Request is a verification call: the method, absolute URL and headers of
// the request to verify, plus the body when content-digest is covered.
type Request struct {
	Method  string  `json:"method"`
	URL     string  `json:"url"`
	Headers Headers `json:"headers"`
	Body    *string `json:"body,omitempty"`
}
