package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/crypto-ledger/internal/api/problem"
	"github.com/ayo6706/crypto-ledger/internal/idempotency"
	"github.com/ayo6706/crypto-ledger/internal/observability"
	"go.uber.org/zap"
)

const (
	idempotencyHeader = "Idempotency-Key"
	maxIdempotentBody = 1 << 20
)

// IdempotencyMiddleware makes deposit, withdrawal, conversion and admin
// actions safe to retry. The first request with a key runs; later requests
// with the same key and body get the stored response, and a different body
// under the same key is a 409.
func IdempotencyMiddleware(store *idempotency.Store, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get(idempotencyHeader)
			if key == "" {
				observability.IncrementIdempotencyEvent("missing_key")
				idemProblem(w, r, http.StatusBadRequest, "idempotency/missing-key", idempotencyHeader+" header is required")
				return
			}
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIdempotentBody))
			if err != nil {
				idemProblem(w, r, http.StatusBadRequest, "request/invalid-body", "request body could not be read")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			g := &idemGuard{store: store, logger: logger, key: callerScopedKey(r, key), hash: requestHash(r, body)}
			if g.answered(w, r) {
				return
			}
			g.run(next, w, r)
		})
	}
}

type idemGuard struct {
	store  *idempotency.Store
	logger *zap.Logger
	key    string
	hash   string
}

// answered writes a stored or conflict response and reports true, or
// reserves the key for this request and reports false.
func (g *idemGuard) answered(w http.ResponseWriter, r *http.Request) bool {
	ctx := r.Context()
	rec, err := g.store.Lookup(ctx, g.key, g.hash)
	switch {
	case err == nil:
		return g.replay(w, rec, "replay")
	case errors.Is(err, idempotency.ErrHashMismatch):
		observability.IncrementIdempotencyEvent("hash_mismatch")
		idemProblem(w, r, http.StatusConflict, "idempotency/key-conflict", "key was already used with a different request")
		return true
	case errors.Is(err, idempotency.ErrInProgress):
		return g.await(w, r, "replay_after_wait")
	case !errors.Is(err, idempotency.ErrNotFound):
		observability.IncrementIdempotencyEvent("lookup_error")
		g.logger.Warn("idempotency lookup failed", zap.Error(err))
	}

	reserved, err := g.store.Reserve(ctx, g.key, g.hash, r.Method, r.URL.Path)
	if err != nil {
		observability.IncrementIdempotencyEvent("reserve_error")
		g.logger.Error("idempotency reserve failed", zap.Error(err))
		idemProblem(w, r, http.StatusInternalServerError, "idempotency/unavailable", "idempotency store unavailable")
		return true
	}
	if !reserved {
		return g.await(w, r, "replay_after_reserve")
	}
	observability.IncrementIdempotencyEvent("reserved")
	return false
}

func (g *idemGuard) await(w http.ResponseWriter, r *http.Request, event string) bool {
	rec, err := g.store.WaitForCompletion(r.Context(), g.key, g.hash)
	if err == nil {
		return g.replay(w, rec, event)
	}
	observability.IncrementIdempotencyEvent("in_progress_conflict")
	g.logger.Warn("idempotency wait failed", zap.Error(err))
	idemProblem(w, r, http.StatusConflict, "idempotency/in-progress", "a request with this key is still running")
	return true
}

func (g *idemGuard) replay(w http.ResponseWriter, rec *idempotency.Record, event string) bool {
	observability.IncrementIdempotencyEvent(event)
	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set("X-Idempotent-Replay", rec.ServedBy)
	w.WriteHeader(rec.Status)
	_, _ = w.Write(rec.Body)
	return true
}

// run executes the handler and stores its response. 5xx responses release
// the key so the client may retry.
func (g *idemGuard) run(next http.Handler, w http.ResponseWriter, r *http.Request) {
	rec := &bodyRecorder{statusRecorder: statusRecorder{ResponseWriter: w}}
	next.ServeHTTP(rec, r)

	ctx := r.Context()
	if rec.code() >= http.StatusInternalServerError {
		if err := g.store.Release(ctx, g.key, g.hash); err != nil {
			g.logger.Warn("idempotency release failed", zap.Error(err), zap.String("key", g.key))
		}
		observability.IncrementIdempotencyEvent("released")
		return
	}
	contentType := rec.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	if _, err := g.store.Finalize(ctx, g.key, g.hash, rec.code(), rec.body.Bytes(), contentType); err != nil {
		observability.IncrementIdempotencyEvent("finalize_error")
		g.logger.Warn("idempotency finalize failed", zap.Error(err), zap.String("key", g.key))
		return
	}
	observability.IncrementIdempotencyEvent("finalized")
}

// callerScopedKey prefixes key with the caller's user id so one wallet owner
// can never receive another's stored response.
func callerScopedKey(r *http.Request, key string) string {
	if p, ok := PrincipalFromContext(r.Context()); ok {
		return p.UserID.String() + ":" + key
	}
	return key
}

func requestHash(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method + " " + r.URL.Path + "\n"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func idemProblem(w http.ResponseWriter, r *http.Request, status int, typ, detail string) {
	problem.Write(w, r, status, problem.Type(typ), http.StatusText(status), detail)
}

type bodyRecorder struct {
	statusRecorder
	body bytes.Buffer
}

func (br *bodyRecorder) Write(b []byte) (int, error) {
	br.body.Write(b)
	return br.ResponseWriter.Write(b)
}
