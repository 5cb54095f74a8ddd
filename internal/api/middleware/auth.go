package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ayo6706/crypto-ledger/internal/api/problem"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RoleAdmin is the token role allowed to approve, reject and list pending
// manual transactions.
const RoleAdmin = "admin"

type contextKey int

const (
	principalKey contextKey = iota
	callerSlotKey
	traceKey
)

// Principal is the caller resolved from a bearer token.
type Principal struct {
	UserID uuid.UUID
	Role   string
}

// IsAdmin reports whether the caller holds RoleAdmin.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

type ledgerClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator validates HS256 bearer tokens for the wallet API.
type Authenticator struct {
	secret []byte
	opts   []jwt.ParserOption
}

// NewAuthenticator builds an Authenticator. Empty issuer or audience
// disables that check.
func NewAuthenticator(secret, issuer, audience string) *Authenticator {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &Authenticator{secret: []byte(secret), opts: opts}
}

// Middleware rejects requests without a valid token and stores the
// resulting Principal in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.principal(r.Header.Get("Authorization"))
		if err != nil {
			unauthorized(w, r, err.Error())
			return
		}
		if slot, ok := r.Context().Value(callerSlotKey).(*Principal); ok {
			*slot = p
		}
		ctx := context.WithValue(r.Context(), principalKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) principal(header string) (Principal, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return Principal{}, errors.New("bearer token required")
	}

	var claims ledgerClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, a.opts...)
	if err != nil || !token.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject != "" && claims.Subject != claims.UserID {
		return Principal{}, errors.New("token subject does not match user_id")
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return Principal{}, errors.New("token user_id must be a uuid")
	}
	return Principal{UserID: userID, Role: claims.Role}, nil
}

// RequireRole lets through only callers whose token carries role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok || p.Role != role {
				problem.Write(w, r, http.StatusForbidden, problem.Type("auth/forbidden"), http.StatusText(http.StatusForbidden), "role "+role+" required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalFromContext returns the caller set by Authenticator.Middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

func unauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/unauthorized"), http.StatusText(http.StatusUnauthorized), detail)
}
