package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/crypto-ledger/internal/api/problem"
	"github.com/go-chi/httprate"
)

// PublicRateLimiter throttles unauthenticated routes per client IP.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(tooManyRequests(rps, "IP")),
	)
}

// AuthRateLimiter throttles authenticated routes per wallet owner. It must
// run after Authenticator.Middleware.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if p, ok := PrincipalFromContext(r.Context()); ok {
				return "user:" + p.UserID.String(), nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(tooManyRequests(rps, "user")),
	)
}

func tooManyRequests(rps int, scope string) http.HandlerFunc {
	detail := fmt.Sprintf("more than %d requests per second from this %s", rps, scope)
	return func(w http.ResponseWriter, r *http.Request) {
		problem.Write(w, r, http.StatusTooManyRequests, problem.Type("rate-limit-exceeded"),
			http.StatusText(http.StatusTooManyRequests), detail)
	}
}
