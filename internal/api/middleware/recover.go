package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/ayo6706/crypto-ledger/internal/api/problem"
	"go.uber.org/zap"
)

// RecoverMiddleware turns a handler panic into a 500 problem response.
// Balance mutations run inside database transactions, so a panic mid-request
// leaves no partial ledger writes behind.
func RecoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				fields := append(requestFields(r),
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()),
				)
				logger.Error("handler panicked", fields...)
				problem.Write(w, r, http.StatusInternalServerError, problem.Type("internal-server-error"),
					http.StatusText(http.StatusInternalServerError), "unexpected server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
