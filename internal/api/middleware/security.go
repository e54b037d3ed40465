package middleware

import (
	"net/http"

	"github.com/letterforge/letterforge/internal/api/models"
)

// securityHeaders suit a JSON-only API: nothing is framed, sniffed,
// or rendered.
var securityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "no-referrer"},
	{"Cache-Control", "no-store"},
}

// SecurityHeaders sets securityHeaders on every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range securityHeaders {
			h.Set(kv[0], kv[1])
		}
		next.ServeHTTP(w, r)
	})
}

// RequireTLS rejects plain-HTTP requests when enabled. It trusts the
// X-Forwarded-Proto header set by the load balancer; requests without it are
// direct connections and pass.
func RequireTLS(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" && proto != "https" {
				p := models.NewProblem(http.StatusForbidden, GetRequestID(r.Context()), "this endpoint requires HTTPS")
				p.Type = models.ProblemTypeTLSRequired
				p.Title = "TLS required"
				p.Write(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
