package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestAPIKeyAuth_PlainAndHashedKeys(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("agent-key"), bcrypt.MinCost)
	require.NoError(t, err)

	auth := NewAPIKeyAuth("", []string{"operator-key", " ", string(hash)})

	assert.True(t, auth.IsValid("operator-key"))
	assert.True(t, auth.IsValid("agent-key"))
	assert.False(t, auth.IsValid(string(hash)))
	assert.False(t, auth.IsValid("nope"))
}

func TestAPIKeyAuth_Middleware(t *testing.T) {
	auth := NewAPIKeyAuth("X-Control-Key", []string{"k"})
	h := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		value  string
		want   int
		body   string
	}{
		{"missing", "", "", http.StatusUnauthorized, "missing_api_key"},
		{"wrong", "X-Control-Key", "x", http.StatusUnauthorized, "invalid_api_key"},
		{"header", "X-Control-Key", "k", http.StatusNoContent, ""},
		{"bearer", "Authorization", "Bearer k", http.StatusNoContent, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.body != "" {
				assert.Contains(t, rec.Body.String(), tt.body)
			}
		})
	}
}

func TestBodyLimit(t *testing.T) {
	h := Wrap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), SecurityHeadersMiddleware, BodyLimit(4))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too long")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("ok")))
	assert.Equal(t, http.StatusOK, rec.Code)
}
