package handler

import (
	"net/http"

	"github.com/ayo6706/crypto-ledger/internal/network"
	"github.com/ayo6706/crypto-ledger/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// WithdrawalHandler handles HTTP requests for withdrawals.
type WithdrawalHandler struct {
	svc      *service.WithdrawalService
	registry *network.Registry
	presenter
}

func NewWithdrawalHandler(svc *service.WithdrawalService, registry *network.Registry) *WithdrawalHandler {
	return &WithdrawalHandler{svc: svc, registry: registry, presenter: presenter{registry: registry}}
}

type createWithdrawalRequest struct {
	Network            string `json:"network" validate:"required,alphanum,max=10"`
	Amount             string `json:"amount" validate:"required,numeric"`
	DestinationAddress string `json:"destination_address" validate:"required,max=128"`
}

func (h *WithdrawalHandler) parse(w http.ResponseWriter, r *http.Request) (service.WithdrawalRequest, bool) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return service.WithdrawalRequest{}, false
	}
	var req createWithdrawalRequest
	if !decodeBody(w, r, &req) {
		return service.WithdrawalRequest{}, false
	}
	net, err := h.registry.Get(req.Network)
	if err != nil {
		RespondServiceError(w, r, "create withdrawal", err)
		return service.WithdrawalRequest{}, false
	}
	amount, err := parseAmount(net.Decimals, req.Amount)
	if err != nil {
		RespondServiceError(w, r, "create withdrawal", err)
		return service.WithdrawalRequest{}, false
	}
	return service.WithdrawalRequest{
		UserID:      actorID,
		Network:     net.Code,
		Amount:      amount,
		Destination: req.DestinationAddress,
	}, true
}

// CreateWithdrawal handles POST /v1/withdrawals and returns 202 Accepted. A
// broadcast rejection still returns the reserved transaction, now FAILED.
func (h *WithdrawalHandler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parse(w, r)
	if !ok {
		return
	}
	tx, err := h.svc.RequestWithdrawal(r.Context(), req)
	if err != nil {
		RespondServiceError(w, r, "create withdrawal", err)
		return
	}
	RespondJSON(w, http.StatusAccepted, map[string]any{"transaction": h.transaction(tx)})
}

// CreateManualWithdrawal handles POST /v1/withdrawals/manual.
func (h *WithdrawalHandler) CreateManualWithdrawal(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parse(w, r)
	if !ok {
		return
	}
	tx, err := h.svc.SubmitManualWithdrawal(r.Context(), req)
	if err != nil {
		RespondServiceError(w, r, "manual withdrawal", err)
		return
	}
	RespondJSON(w, http.StatusAccepted, map[string]any{"transaction": h.transaction(tx)})
}

// CancelWithdrawal handles POST /v1/withdrawals/{id}/cancel.
func (h *WithdrawalHandler) CancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	txID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-transaction-id", "Invalid transaction ID")
		return
	}

	tx, err := h.svc.CancelWithdrawal(r.Context(), actorID, txID)
	if err != nil {
		RespondServiceError(w, r, "cancel withdrawal", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"transaction": h.transaction(tx)})
}
