package middleware

import (
	"mime"
	"net/http"

	"github.com/letterforge/letterforge/internal/api/models"
)

// ContentTypeJSON defaults the response Content-Type to application/json.
// Handlers that set their own keep it.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// RequireJSON answers 415 when a POST, PUT, or PATCH declares a body type
// other than application/json. A missing Content-Type passes so bodiless
// admin calls keep working.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			if ct := r.Header.Get("Content-Type"); ct != "" {
				if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
					models.NewProblem(http.StatusUnsupportedMediaType, GetRequestID(r.Context()),
						"Content-Type must be application/json").Write(w, r)
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}
