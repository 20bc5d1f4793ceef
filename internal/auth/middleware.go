// Package auth provides authentication middleware for API key and JWT-based
// client authentication.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// APIKeyHeader is the header for API key authentication
	APIKeyHeader = "X-Api-Key"

	// clientContextKey is the context key for storing the client name
	clientContextKey contextKey = "client"
)

// Authenticator validates requests carrying either a configured API key or a
// bearer JWT previously issued by the token endpoint.
type Authenticator struct {
	// apiKeys maps API key values to client names.
	apiKeys map[string]string
	jwt     *JWTManager
}

// NewAuthenticator creates an authenticator over a static key set. The map
// value is the client name stored in request context and token claims.
func NewAuthenticator(apiKeys map[string]string, jwtManager *JWTManager) *Authenticator {
	keys := make(map[string]string, len(apiKeys))
	for key, name := range apiKeys {
		keys[key] = name
	}
	return &Authenticator{apiKeys: keys, jwt: jwtManager}
}

// Middleware authenticates the request and stores the client name in its
// context. Unauthenticated requests get a 401 JSON error.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if client, ok := a.authenticate(r); ok {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientContextKey, client)))
			return
		}
		writeAuthError(w, "missing or invalid credentials")
	})
}

func (a *Authenticator) authenticate(r *http.Request) (string, bool) {
	if apiKey := strings.TrimSpace(r.Header.Get(APIKeyHeader)); apiKey != "" {
		return a.lookupAPIKey(apiKey)
	}

	authHeader := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok && a.jwt != nil {
		claims, err := a.jwt.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			return "", false
		}
		return claims.ClientName, true
	}

	return "", false
}

// lookupAPIKey compares in constant time to avoid leaking key prefixes.
func (a *Authenticator) lookupAPIKey(candidate string) (string, bool) {
	for key, name := range a.apiKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(candidate)) == 1 {
			return name, true
		}
	}
	return "", false
}

// TokenHandler exchanges a valid API key for a JWT. POST only; the key comes
// from the usual header.
func (a *Authenticator) TokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := strings.TrimSpace(r.Header.Get(APIKeyHeader))
		client, ok := a.lookupAPIKey(apiKey)
		if !ok {
			writeAuthError(w, "invalid API key")
			return
		}
		if a.jwt == nil {
			http.Error(w, `{"error":"token issuance not configured"}`, http.StatusNotImplemented)
			return
		}

		token, err := a.jwt.GenerateToken(client)
		if err != nil {
			http.Error(w, `{"error":"failed to issue token"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"token": token})
	}
}

func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// ClientFromContext extracts the authenticated client name from context
func ClientFromContext(ctx context.Context) (string, bool) {
	client, ok := ctx.Value(clientContextKey).(string)
	return client, ok
}
