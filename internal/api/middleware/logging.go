package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingMiddleware writes one access log line per request. Server errors
// log at error level and client errors at warn. Authenticated requests carry
// the caller's user_id, filled in by Authenticator.Middleware further down
// the chain.
func LoggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			caller := new(Principal)
			r = r.WithContext(context.WithValue(r.Context(), callerSlotKey, caller))
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			level := zapcore.InfoLevel
			switch {
			case rec.code() >= http.StatusInternalServerError:
				level = zapcore.ErrorLevel
			case rec.code() >= http.StatusBadRequest:
				level = zapcore.WarnLevel
			}
			if ce := logger.Check(level, "http request"); ce != nil {
				fields := append(requestFields(r),
					zap.String("route", routePattern(r)),
					zap.Int("status", rec.code()),
					zap.Duration("duration", time.Since(start)),
				)
				if caller.UserID != uuid.Nil {
					fields = append(fields, zap.Stringer("user_id", caller.UserID))
				}
				ce.Write(fields...)
			}
		})
	}
}

// requestFields are the log fields shared by access and panic logs.
func requestFields(r *http.Request) []zap.Field {
	return []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("trace_id", TraceIDFromContext(r.Context())),
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) code() int {
	if sr.status == 0 {
		return http.StatusOK
	}
	return sr.status
}
