package middleware_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letterforge/letterforge/internal/api/middleware"
)

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "info"},
		{http.StatusForbidden, "warn"},
		{http.StatusGatewayTimeout, "error"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var buf bytes.Buffer
			handler := middleware.Logger(zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("body"))
			}))

			req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/billing", http.NoBody)
			req.Header.Set("User-Agent", "Stripe/1.0")
			handler.ServeHTTP(httptest.NewRecorder(), req)

			lines := logLines(t, &buf)
			require.Len(t, lines, 1)
			entry := lines[0]
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, "request completed", entry["message"])
			assert.Equal(t, "POST", entry["method"])
			assert.Equal(t, "/v1/webhooks/billing", entry["path"])
			assert.Equal(t, float64(tt.status), entry["status"])
			assert.Equal(t, float64(4), entry["bytes"])
			assert.Equal(t, "Stripe/1.0", entry["user_agent"])
			assert.NotContains(t, entry, "trace_id", "no span, no trace id")
		})
	}
}

func TestLogger_ImplicitOK(t *testing.T) {
	var buf bytes.Buffer
	middleware.Logger(zerolog.New(&buf))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	lines := logLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, float64(200), lines[0]["status"])
}

func TestLogger_QuietPaths(t *testing.T) {
	var buf bytes.Buffer
	status := http.StatusOK
	handler := middleware.Logger(zerolog.New(&buf), "/v1/ops/health")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/ops/health", nil))
	assert.Zero(t, buf.Len(), "healthy probes are not logged")

	status = http.StatusServiceUnavailable
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/ops/health", nil))
	assert.Len(t, logLines(t, &buf), 1, "failing probes are")
}

func TestLogger_RequestContext(t *testing.T) {
	var buf bytes.Buffer
	tp, _ := newTracer(t)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(tp))
	r.Use(middleware.Logger(zerolog.New(&buf)))
	r.Get("/v1/me/quota", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/me/quota?debug=1", nil)
	req.Header.Set("X-Request-Id", "req_ctx")
	r.ServeHTTP(httptest.NewRecorder(), req)

	lines := logLines(t, &buf)
	require.Len(t, lines, 1)
	entry := lines[0]
	assert.Equal(t, "req_ctx", entry["request_id"])
	assert.Equal(t, "/v1/me/quota", entry["route"])
	assert.Equal(t, "/v1/me/quota", entry["path"])
	assert.Len(t, entry["trace_id"], 32)
	assert.Len(t, entry["span_id"], 16)
}
