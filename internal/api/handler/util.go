package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/ayo6706/crypto-ledger/internal/api/middleware"
	"github.com/ayo6706/crypto-ledger/internal/api/problem"
	"github.com/ayo6706/crypto-ledger/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// RespondServiceError maps domain errors to problem responses and logs
// anything else as an internal failure of op.
func RespondServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if status, typ, ok := problem.Lookup(err); ok {
		problem.Write(w, r, status, typ, http.StatusText(status), err.Error())
		return
	}
	zap.L().Error(op+" failed", zap.Error(err), zap.String("trace_id", middleware.TraceIDFromContext(r.Context())))
	RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "unexpected server error")
}

// requestActor returns the authenticated caller and whether they are an admin.
func requestActor(r *http.Request) (uuid.UUID, bool, error) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		return uuid.Nil, false, errors.New("missing user in auth context")
	}
	return p.UserID, p.IsAdmin(), nil
}

// decodeBody reads a JSON body into dst and runs its validation tags.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/validation-failed", validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// pageParams reads limit/offset query parameters.
func pageParams(w http.ResponseWriter, r *http.Request, defaultLimit int) (int, int, bool) {
	limit, offset := defaultLimit, 0
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", "limit must be a positive integer")
			return 0, 0, false
		}
		limit = parsed
	}
	if v := strings.TrimSpace(r.URL.Query().Get("offset")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-offset", "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = parsed
	}
	return limit, offset, true
}

// parseAmount converts a decimal string into minor units of code.
func parseAmount(decimals int32, s string) (int64, error) {
	amount, err := domain.ParseAmount(strings.TrimSpace(s), decimals)
	if err != nil {
		return 0, err
	}
	return amount, nil
}
