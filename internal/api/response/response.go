// Package response writes JSON and RFC 7807 problem responses.
package response

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/letterforge/letterforge/internal/api/middleware"
	"github.com/letterforge/letterforge/internal/api/models"
)

// JSON writes data with the given status.
func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	setRequestID(w, r)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Created writes a 201 pointing at location.
func Created(w http.ResponseWriter, r *http.Request, location string, data interface{}) {
	if location != "" {
		w.Header().Set("Location", location)
	}
	JSON(w, r, http.StatusCreated, data)
}

// NoContent writes a 204.
func NoContent(w http.ResponseWriter, r *http.Request) {
	setRequestID(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// BadRequest writes a 400 with optional field errors.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errs []models.FieldError) {
	p := models.NewProblem(http.StatusBadRequest, middleware.GetRequestID(r.Context()), detail)
	p.Errors = errs
	p.Write(w, r)
}

// Unauthorized writes a 401.
func Unauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	problem(w, r, http.StatusUnauthorized, detail)
}

// Forbidden writes a 403.
func Forbidden(w http.ResponseWriter, r *http.Request, detail string) {
	problem(w, r, http.StatusForbidden, detail)
}

// NotFound writes a 404.
func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	problem(w, r, http.StatusNotFound, detail)
}

// Conflict writes a 409.
func Conflict(w http.ResponseWriter, r *http.Request, detail string) {
	problem(w, r, http.StatusConflict, detail)
}

// InternalError writes a 500. detail goes to the client, so keep internals
// out of it.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	problem(w, r, http.StatusInternalServerError, detail)
}

// ServiceUnavailable writes a 503.
func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	problem(w, r, http.StatusServiceUnavailable, detail)
}

// GatewayTimeout writes a 504.
func GatewayTimeout(w http.ResponseWriter, r *http.Request, detail string) {
	problem(w, r, http.StatusGatewayTimeout, detail)
}

// RateLimitInfo describes the caller's remaining budget.
type RateLimitInfo struct {
	Limit     int
	Remaining int
	// RetryAfter is in seconds; zero omits the header.
	RetryAfter int
}

// RateLimited writes a 403 for an exhausted business limit, with rate limit
// headers when info is given. Transport-level throttling answers 429 from the
// rate limit middleware instead.
func RateLimited(w http.ResponseWriter, r *http.Request, detail string, info *RateLimitInfo) {
	if info != nil {
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		if info.RetryAfter > 0 {
			h.Set("Retry-After", strconv.Itoa(info.RetryAfter))
		}
	}
	Forbidden(w, r, detail)
}

func problem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	models.NewProblem(status, middleware.GetRequestID(r.Context()), detail).Write(w, r)
}

func setRequestID(w http.ResponseWriter, r *http.Request) {
	if id := middleware.GetRequestID(r.Context()); id != "" {
		w.Header().Set("X-Request-Id", id)
	}
}
