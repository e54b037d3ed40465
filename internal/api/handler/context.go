// Package handler provides HTTP handlers for the LetterForge API.
package handler

import (
	"context"
	"net"
	"net/http"

	"github.com/letterforge/letterforge/internal/api/middleware"
)

// GetUserID retrieves the authenticated user ID from the context.
// This is a convenience wrapper around middleware.GetUserID.
func GetUserID(ctx context.Context) string {
	return middleware.GetUserID(ctx)
}

// clientIP returns the caller's address. chi's RealIP middleware has already
// replaced RemoteAddr with the forwarded address when one was present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
