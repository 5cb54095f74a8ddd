package handler

import (
	"net/http"

	"github.com/ayo6706/crypto-ledger/internal/network"
)

type NetworkHandler struct {
	registry *network.Registry
	presenter
}

func NewNetworkHandler(registry *network.Registry) *NetworkHandler {
	return &NetworkHandler{registry: registry, presenter: presenter{registry: registry}}
}

// List handles GET /v1/networks. Only active networks are listed.
func (h *NetworkHandler) List(w http.ResponseWriter, r *http.Request) {
	active := h.registry.Active()
	out := make([]networkView, 0, len(active))
	for _, n := range active {
		out = append(out, h.network(n))
	}
	fiat := h.registry.Fiat()
	RespondJSON(w, http.StatusOK, map[string]any{
		"networks": out,
		"fiat":     map[string]any{"code": fiat.Code, "decimals": fiat.Decimals},
	})
}
