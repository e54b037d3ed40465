package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/letterforge/letterforge/internal/api/models"
	"github.com/letterforge/letterforge/internal/auth"
)

type sessionKey struct{}

// TokenValidator verifies bearer tokens issued by the identity provider.
type TokenValidator interface {
	Validate(token string) (*auth.Session, error)
}

// Auth requires a valid bearer token and stores the resulting session in
// the request context. The scheme name is matched case-insensitively.
func Auth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, detail := bearerToken(r.Header.Get("Authorization"))
			if detail != "" {
				unauthorized(w, r, detail)
				return
			}

			session, err := validator.Validate(token)
			switch {
			case errors.Is(err, auth.ErrAccessTokenExpired):
				unauthorized(w, r, "access token has expired")
				return
			case err != nil:
				unauthorized(w, r, "invalid access token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
		})
	}
}

// bearerToken extracts the token from an Authorization header value. A
// non-empty detail explains why there is none.
func bearerToken(header string) (token, detail string) {
	if header == "" {
		return "", "missing authorization header"
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", "invalid authorization header format"
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", "missing bearer token"
	}
	return token, ""
}

func unauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="letterforge"`)
	models.NewProblem(http.StatusUnauthorized, GetRequestID(r.Context()), detail).Write(w, r)
}

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s *auth.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// GetSession returns the authenticated session, or nil.
func GetSession(ctx context.Context) *auth.Session {
	s, _ := ctx.Value(sessionKey{}).(*auth.Session)
	return s
}

// GetUserID returns the authenticated user id, or "".
func GetUserID(ctx context.Context) string {
	if s := GetSession(ctx); s != nil {
		return s.UserID
	}
	return ""
}
