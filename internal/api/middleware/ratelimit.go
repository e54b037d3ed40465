package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/letterforge/letterforge/internal/api/models"
)

// RateLimit is a transport-level request budget. Exceeding it answers 429;
// business limits such as deletion attempts answer 403 from their handlers.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// Route budgets.
var (
	// ConfirmRateLimit guards the unauthenticated confirmation endpoint,
	// where the token is the only credential.
	ConfirmRateLimit = RateLimit{Requests: 10, Window: time.Minute}

	// AdminRateLimit guards the shared-secret admin and maintenance routes.
	AdminRateLimit = RateLimit{Requests: 20, Window: time.Minute}

	// StandardRateLimit applies to authenticated user routes.
	StandardRateLimit = RateLimit{Requests: 100, Window: time.Minute}
)

// RateLimitByIP budgets requests per client address. chi's RealIP has
// already resolved forwarded addresses.
func RateLimitByIP(rl RateLimit) func(http.Handler) http.Handler {
	return rl.limiter(httprate.KeyByRealIP)
}

// RateLimitByUser budgets requests per authenticated user, falling back to
// the client address when there is no session.
func RateLimitByUser(rl RateLimit) func(http.Handler) http.Handler {
	return rl.limiter(func(r *http.Request) (string, error) {
		if id := GetUserID(r.Context()); id != "" {
			return "user:" + id, nil
		}
		return httprate.KeyByRealIP(r)
	})
}

func (rl RateLimit) limiter(key httprate.KeyFunc) func(http.Handler) http.Handler {
	window := strconv.Itoa(int(rl.Window.Seconds()))
	return httprate.Limit(
		rl.Requests,
		rl.Window,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if w.Header().Get("Retry-After") == "" {
				w.Header().Set("Retry-After", window)
			}
			models.NewProblem(http.StatusTooManyRequests, GetRequestID(r.Context()),
				"rate limit exceeded, retry later").Write(w, r)
		}),
	)
}
