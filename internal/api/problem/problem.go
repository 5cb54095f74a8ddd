package problem

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayo6706/crypto-ledger/internal/domain"
)

const contentType = "application/problem+json"
const baseTypeURL = "https://errors.crypto-ledger.dev/"

// Details represents RFC 7807 Problem Details.
type Details struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Instance  string `json:"instance"`
	RequestID string `json:"request_id"`
}

func Type(slug string) string {
	return baseTypeURL + slug
}

// Write sends RFC 7807-compliant errors.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	if title == "" {
		title = http.StatusText(status)
	}
	if problemType == "" {
		problemType = "about:blank"
	}
	instance := ""
	requestID := ""
	if r != nil {
		instance = r.URL.Path
		requestID = r.Header.Get("X-Trace-ID")
	}
	if requestID == "" {
		requestID = w.Header().Get("X-Trace-ID")
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Details{
		Type:      problemType,
		Title:     title,
		Status:    status,
		Detail:    detail,
		Instance:  instance,
		RequestID: requestID,
	})
}

type mapping struct {
	target error
	status int
	slug   string
}

var domainErrors = []mapping{
	{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity, "ledger/insufficient-funds"},
	{domain.ErrAmountOutOfRange, http.StatusUnprocessableEntity, "request/amount-out-of-range"},
	{domain.ErrInvalidAmount, http.StatusBadRequest, "request/invalid-amount"},
	{domain.ErrUnsupportedNetwork, http.StatusBadRequest, "request/unsupported-network"},
	{domain.ErrInvalidAddress, http.StatusBadRequest, "request/invalid-address"},
	{domain.ErrInvalidStateTransition, http.StatusConflict, "transaction/invalid-state-transition"},
	{domain.ErrDuplicateChainHash, http.StatusConflict, "transaction/duplicate-chain-hash"},
	{domain.ErrTransactionNotFound, http.StatusNotFound, "transaction/not-found"},
	{domain.ErrUnknownTransaction, http.StatusNotFound, "confirmation/unknown-transaction"},
	{domain.ErrRateUnavailable, http.StatusServiceUnavailable, "rate/unavailable"},
}

// Lookup maps a domain error to its HTTP status and problem type.
func Lookup(err error) (int, string, bool) {
	for _, m := range domainErrors {
		if errors.Is(err, m.target) {
			return m.status, Type(m.slug), true
		}
	}
	return 0, "", false
}
