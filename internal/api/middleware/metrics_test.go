package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/letterforge/letterforge/internal/api/middleware"
)

func requestCounts(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "http.server.request.total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				route, _ := dp.Attributes.Value("http.route")
				status, _ := dp.Attributes.Value("http.response.status_code")
				counts[route.AsString()+" "+status.AsString()] += dp.Value
			}
		}
	}
	return counts
}

func TestMetrics_LabelsByRoute(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := middleware.NewMetrics(mp)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(m.Middleware())
	r.Get("/v1/me/quota", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	r.Post("/v1/webhooks/billing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
	})

	for _, target := range []string{"/v1/me/quota", "/v1/me/quota?x=1", "/v1/nope/tok_abc"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/webhooks/billing", nil))

	assert.Equal(t, map[string]int64{
		"/v1/me/quota 200":         2,
		"/v1/webhooks/billing 504": 1,
		"unmatched 404":            1,
	}, requestCounts(t, reader))
}

func TestNewMetrics_GlobalProvider(t *testing.T) {
	m, err := middleware.NewMetrics(nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	m.Middleware()(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
