package handler

import (
	"net/http"

	"github.com/ayo6706/crypto-ledger/internal/network"
	"github.com/ayo6706/crypto-ledger/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// AdminHandler exposes the manual approval queue.
type AdminHandler struct {
	svc *service.AdminService
	presenter
}

func NewAdminHandler(svc *service.AdminService, registry *network.Registry) *AdminHandler {
	return &AdminHandler{svc: svc, presenter: presenter{registry: registry}}
}

// ListPending handles GET /v1/admin/transactions/pending?limit=&offset=.
func (h *AdminHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pageParams(w, r, 50)
	if !ok {
		return
	}
	txs, total, err := h.svc.ListPending(r.Context(), limit, offset)
	if err != nil {
		RespondServiceError(w, r, "list pending", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"transactions": h.transactions(txs),
		"total":        total,
		"limit":        limit,
		"offset":       offset,
	})
}

type approveRequest struct {
	ChainHash string `json:"chain_hash,omitempty" validate:"omitempty,max=128"`
}

// Approve handles POST /v1/admin/transactions/{id}/approve.
func (h *AdminHandler) Approve(w http.ResponseWriter, r *http.Request) {
	actorID, txID, ok := h.target(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	tx, err := h.svc.Approve(r.Context(), service.ApproveRequest{
		TransactionID: txID,
		ActorID:       actorID,
		ChainHash:     req.ChainHash,
	})
	if err != nil {
		RespondServiceError(w, r, "approve transaction", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"transaction": h.transaction(tx)})
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=512"`
}

// Reject handles POST /v1/admin/transactions/{id}/reject.
func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	actorID, txID, ok := h.target(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if !decodeBody(w, r, &req) {
		return
	}

	tx, err := h.svc.Reject(r.Context(), txID, actorID, req.Reason)
	if err != nil {
		RespondServiceError(w, r, "reject transaction", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"transaction": h.transaction(tx)})
}

func (h *AdminHandler) target(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return uuid.Nil, uuid.Nil, false
	}
	txID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-transaction-id", "Invalid transaction ID")
		return uuid.Nil, uuid.Nil, false
	}
	return actorID, txID, true
}
