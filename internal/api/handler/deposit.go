package handler

import (
	"net/http"

	"github.com/ayo6706/crypto-ledger/internal/network"
	"github.com/ayo6706/crypto-ledger/internal/service"
)

type DepositHandler struct {
	svc      *service.DepositService
	registry *network.Registry
	presenter
}

func NewDepositHandler(svc *service.DepositService, registry *network.Registry) *DepositHandler {
	return &DepositHandler{svc: svc, registry: registry, presenter: presenter{registry: registry}}
}

type createDepositRequest struct {
	Network string `json:"network" validate:"required,alphanum,max=10"`
	Amount  string `json:"amount" validate:"required,numeric"`
}

// CreateDeposit handles POST /v1/deposits. It returns the deposit address and
// the PENDING transaction the incoming transfer will settle.
func (h *DepositHandler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req createDepositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	net, err := h.registry.Get(req.Network)
	if err != nil {
		RespondServiceError(w, r, "create deposit", err)
		return
	}
	amount, err := parseAmount(net.Decimals, req.Amount)
	if err != nil {
		RespondServiceError(w, r, "create deposit", err)
		return
	}

	res, err := h.svc.RequestDeposit(r.Context(), service.DepositRequest{
		UserID:  actorID,
		Network: net.Code,
		Amount:  amount,
	})
	if err != nil {
		RespondServiceError(w, r, "create deposit", err)
		return
	}
	RespondJSON(w, http.StatusCreated, map[string]any{
		"address":     res.Address,
		"transaction": h.transaction(res.Transaction),
	})
}

type manualDepositRequest struct {
	Network     string `json:"network" validate:"required,alphanum,max=10"`
	Amount      string `json:"amount" validate:"required,numeric"`
	FromAddress string `json:"from_address" validate:"required,max=128"`
	TxHash      string `json:"tx_hash,omitempty" validate:"omitempty,max=128"`
}

// CreateManualDeposit handles POST /v1/deposits/manual. The claim waits for
// an admin in PENDING_ADMIN_APPROVAL.
func (h *DepositHandler) CreateManualDeposit(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req manualDepositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	net, err := h.registry.Get(req.Network)
	if err != nil {
		RespondServiceError(w, r, "manual deposit", err)
		return
	}
	amount, err := parseAmount(net.Decimals, req.Amount)
	if err != nil {
		RespondServiceError(w, r, "manual deposit", err)
		return
	}

	tx, err := h.svc.SubmitManualDeposit(r.Context(), service.ManualDepositRequest{
		UserID:      actorID,
		Network:     net.Code,
		Amount:      amount,
		FromAddress: req.FromAddress,
		TxHash:      req.TxHash,
	})
	if err != nil {
		RespondServiceError(w, r, "manual deposit", err)
		return
	}
	RespondJSON(w, http.StatusAccepted, map[string]any{"transaction": h.transaction(tx)})
}
