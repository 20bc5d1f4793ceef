package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	manager := NewJWTManager(DefaultJWTConfig("test-secret"))
	return NewAuthenticator(map[string]string{"key-abc": "portal"}, manager)
}

func protectedHandler(t *testing.T, wantClient string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, ok := ClientFromContext(r.Context())
		if !ok {
			t.Error("client missing from context")
		}
		if client != wantClient {
			t.Errorf("expected client %q, got %q", wantClient, client)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_APIKey(t *testing.T) {
	a := testAuthenticator(t)
	handler := a.Middleware(protectedHandler(t, "portal"))

	req := httptest.NewRequest(http.MethodGet, "/v1/incentives", nil)
	req.Header.Set(APIKeyHeader, "key-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMiddleware_RejectsBadCredentials(t *testing.T) {
	a := testAuthenticator(t)
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run without credentials")
	}))

	tests := []struct {
		name  string
		setup func(*http.Request)
	}{
		{"no credentials", func(*http.Request) {}},
		{"wrong api key", func(r *http.Request) { r.Header.Set(APIKeyHeader, "nope") }},
		{"garbage bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer not.a.jwt") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/incentives", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestTokenHandler_IssuesUsableJWT(t *testing.T) {
	a := testAuthenticator(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/token", nil)
	req.Header.Set(APIKeyHeader, "key-abc")
	rec := httptest.NewRecorder()
	a.TokenHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding token response: %v", err)
	}

	// The issued token must pass the middleware.
	handler := a.Middleware(protectedHandler(t, "portal"))
	authed := httptest.NewRequest(http.MethodGet, "/v1/incentives", nil)
	authed.Header.Set("Authorization", "Bearer "+body["token"])
	authedRec := httptest.NewRecorder()
	handler.ServeHTTP(authedRec, authed)

	if authedRec.Code != http.StatusOK {
		t.Errorf("issued token rejected: %d", authedRec.Code)
	}
}

func TestJWTManager_ExpiredToken(t *testing.T) {
	expiredCfg := DefaultJWTConfig("test-secret")
	expiredCfg.Expiry = -time.Minute
	expired := NewJWTManager(expiredCfg)

	token, err := expired.GenerateToken("portal")
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}

	if _, err := expired.ValidateToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}

	// Expired tokens may still be refreshed through a manager with a
	// normal expiry.
	fresh := NewJWTManager(DefaultJWTConfig("test-secret"))
	refreshed, err := fresh.RefreshToken(token)
	if err != nil {
		t.Fatalf("refreshing expired token: %v", err)
	}
	claims, err := fresh.ValidateToken(refreshed)
	if err != nil {
		t.Fatalf("validating refreshed token: %v", err)
	}
	if claims.ClientName != "portal" {
		t.Errorf("expected client name carried through refresh, got %q", claims.ClientName)
	}
}
