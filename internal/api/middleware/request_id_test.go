package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/letterforge/letterforge/internal/api/middleware"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "generated when absent", incoming: "", keep: false},
		{name: "propagated", incoming: "lb-7f3a_91.2", keep: true},
		{name: "too long", incoming: strings.Repeat("a", 65), keep: false},
		{name: "unsafe characters", incoming: "abc\r\nX-Admin: 1", keep: false},
		{name: "spaces", incoming: "two words", keep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = middleware.GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", nil)
			if tt.incoming != "" {
				req.Header.Set(middleware.HeaderRequestID, tt.incoming)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, seen, w.Header().Get(middleware.HeaderRequestID))
			if tt.keep {
				assert.Equal(t, tt.incoming, seen)
			} else {
				assert.True(t, strings.HasPrefix(seen, "req_"), seen)
				assert.Len(t, seen, 36)
			}
		})
	}
}

func TestNewRequestID_Unique(t *testing.T) {
	ids := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		id := middleware.NewRequestID()
		_, dup := ids[id]
		assert.False(t, dup, "duplicate request ID %s", id)
		ids[id] = struct{}{}
	}
}

func TestGetRequestID_Empty(t *testing.T) {
	assert.Empty(t, middleware.GetRequestID(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}
