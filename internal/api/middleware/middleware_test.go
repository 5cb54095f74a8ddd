package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const (
	testSecret   = "middleware-secret-0123456789-abcdef"
	testIssuer   = "crypto-ledger-test"
	testAudience = "crypto-ledger-api-test"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	now := time.Now()
	base := jwt.MapClaims{
		"iss": testIssuer,
		"aud": testAudience,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	for k, v := range claims {
		base[k] = v
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, base).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return tok
}

func authed(t *testing.T, h http.Handler, token string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/v1/balances", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestAuthenticatorResolvesPrincipal(t *testing.T) {
	auth := NewAuthenticator(testSecret, testIssuer, testAudience)
	userID := uuid.New()

	var got Principal
	h := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		require.True(t, ok)
		got = p
	}))

	w := authed(t, h, signed(t, jwt.MapClaims{"user_id": userID.String(), "sub": userID.String(), "role": RoleAdmin}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, userID, got.UserID)
	assert.True(t, got.IsAdmin())
}

func TestAuthenticatorRejects(t *testing.T) {
	auth := NewAuthenticator(testSecret, testIssuer, testAudience)
	h := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	userID := uuid.NewString()

	cases := map[string]string{
		"no token":         "",
		"non-uuid user_id": signed(t, jwt.MapClaims{"user_id": "alice", "role": "user"}),
		"missing user_id":  signed(t, jwt.MapClaims{"role": "user"}),
		"subject mismatch": signed(t, jwt.MapClaims{"user_id": userID, "sub": uuid.NewString()}),
		"wrong audience":   signed(t, jwt.MapClaims{"user_id": userID, "aud": "someone-else"}),
		"garbage":          "not-a-jwt",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			w := authed(t, h, token)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")
		})
	}
}

func TestRequireAdminRole(t *testing.T) {
	auth := NewAuthenticator(testSecret, testIssuer, testAudience)
	h := auth.Middleware(RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))
	userID := uuid.NewString()

	w := authed(t, h, signed(t, jwt.MapClaims{"user_id": userID, "role": "user"}))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = authed(t, h, signed(t, jwt.MapClaims{"user_id": userID, "role": RoleAdmin}))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestTraceMiddlewareReusesInboundID(t *testing.T) {
	var seen string
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.Header.Set("X-Request-ID", "indexer-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, "indexer-42", seen)
	assert.Equal(t, "indexer-42", w.Header().Get("X-Trace-ID"))

	r = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.Header.Set("X-Trace-ID", strings.Repeat("x", maxTraceLen+1))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	_, err := uuid.Parse(seen)
	assert.NoError(t, err)
}

func TestLoggingMiddlewareRecordsCaller(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	auth := NewAuthenticator(testSecret, testIssuer, testAudience)
	h := TraceMiddleware(LoggingMiddleware(zap.New(core))(auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))))

	userID := uuid.New()
	w := authed(t, h, signed(t, jwt.MapClaims{"user_id": userID.String()}))
	require.Equal(t, http.StatusAccepted, w.Code)

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, userID.String(), fields["user_id"])
	assert.EqualValues(t, http.StatusAccepted, fields["status"])
	assert.NotEmpty(t, fields["trace_id"])

	w = authed(t, h, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	entries = logs.FilterMessage("http request").All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.NotContains(t, entries[1].ContextMap(), "user_id")
}
