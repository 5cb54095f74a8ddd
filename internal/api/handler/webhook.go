package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/crypto-ledger/internal/api/problem"
	"github.com/ayo6706/crypto-ledger/internal/network"
	"github.com/ayo6706/crypto-ledger/internal/service"
	"go.uber.org/zap"
)

// WebhookHandler receives confirmation callbacks from chain indexers.
type WebhookHandler struct {
	webhookSvc *service.WebhookService
	presenter
}

// NewWebhookHandler creates a new WebhookHandler instance.
func NewWebhookHandler(webhookSvc *service.WebhookService, registry *network.Registry) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc, presenter: presenter{registry: registry}}
}

// HandleConfirmation handles POST /v1/internal/confirmations.
// The body must be signed with X-Webhook-Signature.
func (h *WebhookHandler) HandleConfirmation(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		zap.L().Error("read webhook body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	res, err := h.webhookSvc.HandleConfirmation(r.Context(), body, r.Header.Get("X-Webhook-Signature"))
	if err != nil {
		if errors.Is(err, service.ErrInvalidSignature) {
			RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "Invalid signature")
			return
		}
		if _, _, ok := problem.Lookup(err); ok {
			RespondServiceError(w, r, "handle confirmation", err)
			return
		}
		zap.L().Warn("confirmation rejected", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "webhook/invalid-payload", err.Error())
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"outcome":     res.Outcome,
		"transaction": h.transaction(res.Transaction),
	})
}
