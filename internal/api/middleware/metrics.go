package middleware

import (
	"net/http"
	"time"

	"github.com/ayo6706/crypto-ledger/internal/observability"
	"github.com/go-chi/chi/v5"
)

// MetricsMiddleware feeds the HTTP latency histogram. Unmatched requests
// are grouped under one label so scanners cannot blow up cardinality.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		observability.ObserveHTTP(r.Method, routePattern(r), rec.code(), time.Since(start))
	})
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
		return rc.RoutePattern()
	}
	return "unmatched"
}
