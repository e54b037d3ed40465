package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letterforge/letterforge/internal/api/middleware"
	"github.com/letterforge/letterforge/internal/api/models"
	"github.com/letterforge/letterforge/internal/auth"
)

func hit(h http.Handler, addr string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/gdpr/deletion-confirmations", http.NoBody)
	req.RemoteAddr = addr
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitByIP(t *testing.T) {
	handler := middleware.RequestID(middleware.RateLimitByIP(middleware.RateLimit{Requests: 2, Window: time.Minute})(okHandler))

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, hit(handler, "10.0.0.1:1234").Code, "request %d", i+1)
	}

	rec := hit(handler, "10.0.0.1:5678")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), models.ProblemTypeTooManyRequests)
	assert.Contains(t, rec.Body.String(), "/v1/gdpr/deletion-confirmations")

	assert.Equal(t, http.StatusOK, hit(handler, "10.0.0.2:1234").Code, "other addresses keep their own budget")
}

func TestRateLimitByUser(t *testing.T) {
	handler := middleware.RateLimitByUser(middleware.RateLimit{Requests: 1, Window: time.Minute})(okHandler)
	as := func(userID string) func(*http.Request) {
		return func(r *http.Request) {
			*r = *r.WithContext(middleware.WithSession(r.Context(), &auth.Session{UserID: userID}))
		}
	}

	require.Equal(t, http.StatusOK, hit(handler, "198.51.100.1:1000", as("usr_1")).Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(handler, "198.51.100.2:1000", as("usr_1")).Code,
		"one user shares a budget across addresses")
	assert.Equal(t, http.StatusOK, hit(handler, "198.51.100.1:1000", as("usr_2")).Code)

	assert.Equal(t, http.StatusOK, hit(handler, "198.51.100.9:1000").Code, "anonymous callers fall back to the address")
	assert.Equal(t, http.StatusTooManyRequests, hit(handler, "198.51.100.9:1000").Code)
}

func TestRouteBudgets(t *testing.T) {
	assert.Equal(t, middleware.RateLimit{Requests: 10, Window: time.Minute}, middleware.ConfirmRateLimit)
	assert.Equal(t, middleware.RateLimit{Requests: 20, Window: time.Minute}, middleware.AdminRateLimit)
	assert.Equal(t, middleware.RateLimit{Requests: 100, Window: time.Minute}, middleware.StandardRateLimit)
}
