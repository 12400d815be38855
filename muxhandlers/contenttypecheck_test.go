package muxhandlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentTypeCheckMiddleware(t *testing.T) {
	_, err := ContentTypeCheckMiddleware(ContentTypeCheckConfig{})
	require.ErrorIs(t, err, ErrNoAllowedTypes)

	mw, err := ContentTypeCheckMiddleware(ContentTypeCheckConfig{AllowedTypes: []string{"application/json"}})
	require.NoError(t, err)

	h := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))

	tests := []struct {
		name        string
		method      string
		contentType string
		wantCode    int
	}{
		{"json", http.MethodPost, "application/json", http.StatusOK},
		{"json with charset", http.MethodPost, "Application/JSON; charset=utf-8", http.StatusOK},
		{"missing", http.MethodPost, "", http.StatusUnsupportedMediaType},
		{"form", http.MethodPost, "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{"malformed", http.MethodPut, "application/", http.StatusUnsupportedMediaType},
		{"unchecked method", http.MethodGet, "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "/", nil)
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}

			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			assert.Equal(t, tt.wantCode, w.Code)

			if tt.wantCode == http.StatusUnsupportedMediaType {
				assert.JSONEq(t, `{"error":"unsupported_media_type","message":"Unsupported Content-Type","detail":"expected application/json"}`, w.Body.String())
			}
		})
	}
}
