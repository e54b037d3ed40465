package models_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letterforge/letterforge/internal/api/models"
)

func TestNewProblem(t *testing.T) {
	tests := []struct {
		status    int
		wantType  string
		wantTitle string
	}{
		{http.StatusBadRequest, models.ProblemTypeValidation, "Validation error"},
		{http.StatusUnauthorized, models.ProblemTypeUnauthorized, "Unauthorized"},
		{http.StatusForbidden, models.ProblemTypeForbidden, "Forbidden"},
		{http.StatusNotFound, models.ProblemTypeNotFound, "Not found"},
		{http.StatusConflict, models.ProblemTypeConflict, "Conflict"},
		{http.StatusUnsupportedMediaType, models.ProblemTypeUnsupportedMedia, "Unsupported media type"},
		{http.StatusTooManyRequests, models.ProblemTypeTooManyRequests, "Too many requests"},
		{http.StatusServiceUnavailable, models.ProblemTypeUnavailable, "Service unavailable"},
		{http.StatusGatewayTimeout, models.ProblemTypeTimeout, "Gateway timeout"},
		{http.StatusTeapot, models.ProblemTypeGeneric, "I'm a teapot"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			p := models.NewProblem(tt.status, "req_123", "detail")
			assert.Equal(t, tt.wantType, p.Type)
			assert.Equal(t, tt.wantTitle, p.Title)
			assert.Equal(t, tt.status, p.Status)
			assert.Equal(t, "detail", p.Detail)
			assert.Equal(t, "req_123", p.RequestID)
		})
	}
}

func TestProblem_Write(t *testing.T) {
	p := models.NewProblem(http.StatusBadRequest, "req_test123", "invalid input")
	p.Errors = []models.FieldError{
		{Field: "deletion_type", Message: "must be one of soft hard", Code: "oneof"},
	}

	w := httptest.NewRecorder()
	p.Write(w, httptest.NewRequest(http.MethodPost, "/v1/gdpr/deletion-requests", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, "req_test123", w.Header().Get("X-Request-Id"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "/v1/gdpr/deletion-requests", body["instance"])
	assert.Equal(t, "req_test123", body["request_id"])
	assert.Equal(t, float64(400), body["status"])
	require.Len(t, body["errors"], 1)
	assert.Equal(t, "deletion_type", body["errors"].([]interface{})[0].(map[string]interface{})["field"])
}

func TestProblem_WriteWithoutRequestID(t *testing.T) {
	p := models.NewProblem(http.StatusNotFound, "", "")

	w := httptest.NewRecorder()
	p.Write(w, httptest.NewRequest(http.MethodGet, "/v1/nope", nil))

	assert.Empty(t, w.Header().Get("X-Request-Id"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotContains(t, body, "detail")
	assert.NotContains(t, body, "request_id")
	assert.NotContains(t, body, "errors")
}
