package handler

import (
	"net/http"
	"strconv"

	"github.com/ayo6706/crypto-ledger/internal/network"
	"github.com/ayo6706/crypto-ledger/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type AccountHandler struct {
	svc *service.AccountService
	presenter
}

func NewAccountHandler(svc *service.AccountService, registry *network.Registry) *AccountHandler {
	return &AccountHandler{svc: svc, presenter: presenter{registry: registry}}
}

// GetBalances handles GET /v1/balances.
func (h *AccountHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	balances, err := h.svc.GetBalances(r.Context(), actorID)
	if err != nil {
		RespondServiceError(w, r, "get balances", err)
		return
	}
	out := make([]balanceView, 0, len(balances))
	for _, b := range balances {
		out = append(out, h.balance(b))
	}
	RespondJSON(w, http.StatusOK, map[string]any{"balances": out})
}

// GetWallets handles GET /v1/wallets.
func (h *AccountHandler) GetWallets(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	wallets, err := h.svc.GetWallets(r.Context(), actorID)
	if err != nil {
		RespondServiceError(w, r, "get wallets", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"wallets": wallets})
}

// ListTransactions handles GET /v1/transactions?network=&page=&page_size=.
func (h *AccountHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))

	txs, err := h.svc.GetStatement(r.Context(), actorID, q.Get("network"), page, pageSize)
	if err != nil {
		RespondServiceError(w, r, "list transactions", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"transactions": h.transactions(txs)})
}

// GetTransaction handles GET /v1/transactions/{id}. Admins may read any
// transaction.
func (h *AccountHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	txID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-transaction-id", "Invalid transaction ID")
		return
	}

	detail, err := h.svc.GetTransaction(r.Context(), actorID, txID, isAdmin)
	if err != nil {
		RespondServiceError(w, r, "get transaction", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"transaction": h.transaction(detail.Transaction),
		"history":     detail.History,
	})
}
