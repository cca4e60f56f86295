package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Middleware decorates a handler.
type Middleware func(http.Handler) http.Handler

// Wrap applies mws so that the first one sees the request first.
func Wrap(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// ─────────────────────────────────────────────────────────────────────────────
// API keys
// ─────────────────────────────────────────────────────────────────────────────

// APIKeyAuth guards the control endpoints. The key is read from the
// configured header or from "Authorization: Bearer <key>". Configured keys
// may be given in plain text or as bcrypt hashes ("$2a$...", "$2b$...").
type APIKeyAuth struct {
	header string
	keys   [][]byte
	hashes [][]byte
}

func NewAPIKeyAuth(header string, keys []string) *APIKeyAuth {
	if header == "" {
		header = "X-API-Key"
	}
	a := &APIKeyAuth{header: header}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		switch {
		case k == "":
		case isBcryptHash(k):
			a.hashes = append(a.hashes, []byte(k))
		default:
			a.keys = append(a.keys, []byte(k))
		}
	}
	return a
}

func isBcryptHash(s string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

// IsValid compares against every plain key so timing does not reveal which
// matched, then falls back to the hashed keys.
func (a *APIKeyAuth) IsValid(key string) bool {
	candidate := []byte(key)
	match := 0
	for _, k := range a.keys {
		match |= subtle.ConstantTimeCompare(k, candidate)
	}
	if match == 1 {
		return true
	}
	for _, h := range a.hashes {
		if bcrypt.CompareHashAndPassword(h, candidate) == nil {
			return true
		}
	}
	return false
}

func (a *APIKeyAuth) keyOf(r *http.Request) string {
	if key := r.Header.Get(a.header); key != "" {
		return key
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := a.keyOf(r)
		if key == "" {
			reject(w, http.StatusUnauthorized, "missing_api_key", "API key is required")
			return
		}
		if !a.IsValid(key) {
			reject(w, http.StatusUnauthorized, "invalid_api_key", "Invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// hardening
// ─────────────────────────────────────────────────────────────────────────────

var securityHeaders = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"Referrer-Policy":         "no-referrer",
	"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
}

func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range securityHeaders {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}

// BodyLimit caps request bodies at maxBytes. Zero or less disables it.
func BodyLimit(maxBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				reject(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// reject writes the flat error body used before a handler runs.
func reject(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}{code, message})
}
