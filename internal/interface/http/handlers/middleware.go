package handlers

import (
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// APIKeyAuth accepts requests whose Authorization header carries a key
// matching one of the configured bcrypt hashes. The session client sends
// the key verbatim; a "Bearer " prefix is tolerated.
type APIKeyAuth struct {
	hashes [][]byte

	// verified remembers digests of keys that already matched so bcrypt
	// runs once per key.
	mu       sync.RWMutex
	verified map[[sha256.Size]byte]bool
}

// NewAPIKeyAuth creates an authenticator over bcrypt hashes.
func NewAPIKeyAuth(hashes []string) *APIKeyAuth {
	a := &APIKeyAuth{verified: make(map[[sha256.Size]byte]bool)}
	for _, h := range hashes {
		if h != "" {
			a.hashes = append(a.hashes, []byte(h))
		}
	}
	return a
}

// HashKey returns the bcrypt hash to configure for key.
func HashKey(key string, cost int) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// IsValid reports whether key matches a configured hash.
func (a *APIKeyAuth) IsValid(key string) bool {
	if key == "" {
		return false
	}
	digest := sha256.Sum256([]byte(key))

	a.mu.RLock()
	known := a.verified[digest]
	a.mu.RUnlock()
	if known {
		return true
	}

	for _, h := range a.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			a.mu.Lock()
			a.verified[digest] = true
			a.mu.Unlock()
			return true
		}
	}
	return false
}

// Middleware rejects requests without a valid key with 401.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if key == "" {
			writeError(w, http.StatusUnauthorized, `{"error":"missing_api_key","message":"API key is required"}`)
			return
		}
		if !a.IsValid(key) {
			writeError(w, http.StatusUnauthorized, `{"error":"invalid_api_key","message":"Invalid API key"}`)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE CONTROL MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// NoCacheMiddleware prevents caching. State documents change on every
// patch.
func NoCacheMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
		w.Header().Set("Pragma", "no-cache")
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SECURITY HEADERS MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// SecurityHeadersMiddleware adds the headers a JSON-only API wants.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST SIZE LIMIT MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// RequestSizeLimitMiddleware limits the size of request bodies.
func RequestSizeLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeError(w, http.StatusRequestEntityTooLarge,
					`{"error":"payload_too_large","message":"Request body too large"}`)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
