package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const (
	traceHeader   = "X-Trace-ID"
	requestHeader = "X-Request-ID"
	maxTraceLen   = 128
)

// TraceMiddleware tags every request with a trace id. A caller supplied
// X-Trace-ID or X-Request-ID is reused so indexer and client logs line up
// with ours; anything missing or oversized is replaced with a fresh uuid.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := inboundTraceID(r)
		w.Header().Set(traceHeader, id)
		ctx := context.WithValue(r.Context(), traceKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func inboundTraceID(r *http.Request) string {
	for _, h := range []string{traceHeader, requestHeader} {
		if v := r.Header.Get(h); v != "" && len(v) <= maxTraceLen {
			return v
		}
	}
	return uuid.NewString()
}

// TraceIDFromContext returns the id set by TraceMiddleware, or "".
func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceKey).(string)
	return id
}
