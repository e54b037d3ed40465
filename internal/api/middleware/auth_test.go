package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letterforge/letterforge/internal/api/middleware"
	"github.com/letterforge/letterforge/internal/auth"
)

func testValidator() *auth.TokenValidator {
	return auth.NewTokenValidator(auth.TokenConfig{
		SigningKey: "test-secret-key-for-testing-only",
		Issuer:     "https://auth.letterforge.test",
		Audience:   "authenticated",
	})
}

func TestAuth_Rejects(t *testing.T) {
	validator := testValidator()
	expired, err := validator.Issue("usr_1", "ada@example.com", -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		detail string
	}{
		{"missing header", "", "missing authorization header"},
		{"no scheme", "token123", "invalid authorization header format"},
		{"basic auth", "Basic dXNlcjpwYXNz", "invalid authorization header format"},
		{"bare scheme", "Bearer", "invalid authorization header format"},
		{"empty token", "Bearer   ", "missing bearer token"},
		{"garbage token", "Bearer invalid.jwt.token", "invalid access token"},
		{"expired", "Bearer " + expired, "access token has expired"},
	}

	handler := middleware.Auth(validator)(okHandler)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/me/quota", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.detail)
			assert.Equal(t, `Bearer realm="letterforge"`, rec.Header().Get("WWW-Authenticate"))
		})
	}
}

func TestAuth_ValidToken(t *testing.T) {
	validator := testValidator()
	token, err := validator.Issue("usr_1", "ada@example.com", time.Hour)
	require.NoError(t, err)

	var session *auth.Session
	handler := middleware.Auth(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session = middleware.GetSession(r.Context())
		assert.Equal(t, "usr_1", middleware.GetUserID(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))

	for _, scheme := range []string{"Bearer", "bearer", "BEARER"} {
		t.Run(scheme, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/me/quota", http.NoBody)
			req.Header.Set("Authorization", scheme+" "+token)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			require.NotNil(t, session)
			assert.Equal(t, "ada@example.com", session.Email)
		})
	}
}

func TestGetSession_NoAuth(t *testing.T) {
	ctx := httptest.NewRequest(http.MethodGet, "/", http.NoBody).Context()
	assert.Nil(t, middleware.GetSession(ctx))
	assert.Empty(t, middleware.GetUserID(ctx))
}
