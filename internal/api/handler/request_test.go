package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/letterforge/letterforge/internal/api/models"
)

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		optional   bool
		wantMsg    string
		wantFields []string
	}{
		{name: "valid", body: `{"confirmation_token":"abc"}`},
		{name: "empty required", body: "", wantMsg: "request body is required"},
		{name: "empty optional", body: "", optional: true},
		{name: "malformed", body: `{"confirmation_token":`, wantMsg: "invalid JSON body"},
		{name: "unknown field", body: `{"confirmation_token":"abc","extra":1}`, wantMsg: "invalid JSON body"},
		{
			name:       "too long",
			body:       `{"confirmation_token":"` + strings.Repeat("a", 129) + `"}`,
			wantMsg:    "validation failed",
			wantFields: []string{"confirmation_token"},
		},
		{
			name:    "too large",
			body:    `{"confirmation_token":"` + strings.Repeat("a", maxBodyBytes) + `"}`,
			wantMsg: "request body too large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			var dst models.DeletionCancel
			msg, fields := decodeJSON(w, r, &dst, tt.optional)

			assert.Equal(t, tt.wantMsg, msg)
			got := make([]string, 0, len(fields))
			for _, f := range fields {
				got = append(got, f.Field)
			}
			assert.ElementsMatch(t, tt.wantFields, got)
		})
	}
}

func TestDecodeJSON_NestedFieldPath(t *testing.T) {
	body := `{"updates":[{"key":"refund_at_confirm","value":true},{"value":false}]}`
	r := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))

	var dst models.FeatureFlagUpdateRequest
	msg, fields := decodeJSON(httptest.NewRecorder(), r, &dst, false)

	assert.Equal(t, "validation failed", msg)
	if assert.Len(t, fields, 1) {
		assert.Equal(t, "updates[1].key", fields[0].Field)
		assert.Equal(t, "is required", fields[0].Message)
		assert.Equal(t, "required", fields[0].Code)
	}
}

func TestSecretMatches(t *testing.T) {
	assert.True(t, secretMatches("abc", "abc"))
	assert.False(t, secretMatches("abc", "abd"))
	assert.False(t, secretMatches("abc", ""))
	assert.False(t, secretMatches("", ""), "an unset secret never matches")
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.RemoteAddr = "203.0.113.9:4411"
	assert.Equal(t, "203.0.113.9", clientIP(r))

	r.RemoteAddr = "203.0.113.9"
	assert.Equal(t, "203.0.113.9", clientIP(r))
}
