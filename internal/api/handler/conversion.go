package handler

import (
	"net/http"

	"github.com/ayo6706/crypto-ledger/internal/domain"
	"github.com/ayo6706/crypto-ledger/internal/network"
	"github.com/ayo6706/crypto-ledger/internal/service"
)

type ConversionHandler struct {
	svc      *service.ConversionService
	registry *network.Registry
	presenter
}

func NewConversionHandler(svc *service.ConversionService, registry *network.Registry) *ConversionHandler {
	return &ConversionHandler{svc: svc, registry: registry, presenter: presenter{registry: registry}}
}

type toFiatRequest struct {
	Network string `json:"network" validate:"required,alphanum,max=10"`
	Amount  string `json:"amount" validate:"required,numeric"`
}

// ToFiat handles POST /v1/conversions/to-fiat.
func (h *ConversionHandler) ToFiat(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req toFiatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	net, err := h.registry.Get(req.Network)
	if err != nil {
		RespondServiceError(w, r, "convert to fiat", err)
		return
	}
	amount, err := parseAmount(net.Decimals, req.Amount)
	if err != nil {
		RespondServiceError(w, r, "convert to fiat", err)
		return
	}

	res, err := h.svc.ConvertToFiat(r.Context(), service.ConversionRequest{UserID: actorID, Network: net.Code, Amount: amount})
	if err != nil {
		RespondServiceError(w, r, "convert to fiat", err)
		return
	}
	fiat := h.registry.Fiat()
	RespondJSON(w, http.StatusCreated, map[string]any{
		"fiat_amount_added": domain.FormatAmount(res.FiatAmount, fiat.Decimals),
		"fiat_currency":     fiat.Code,
		"rate":              res.Rate.String(),
		"transaction":       h.transaction(res.Transaction),
	})
}

type fromFiatRequest struct {
	Network    string `json:"network" validate:"required,alphanum,max=10"`
	FiatAmount string `json:"fiat_amount" validate:"required,numeric"`
}

// FromFiat handles POST /v1/conversions/from-fiat.
func (h *ConversionHandler) FromFiat(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req fromFiatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	net, err := h.registry.Get(req.Network)
	if err != nil {
		RespondServiceError(w, r, "convert from fiat", err)
		return
	}
	fiatAmount, err := parseAmount(h.registry.Fiat().Decimals, req.FiatAmount)
	if err != nil {
		RespondServiceError(w, r, "convert from fiat", err)
		return
	}

	res, err := h.svc.ConvertFromFiat(r.Context(), service.ConversionRequest{UserID: actorID, Network: net.Code, Amount: fiatAmount})
	if err != nil {
		RespondServiceError(w, r, "convert from fiat", err)
		return
	}
	RespondJSON(w, http.StatusCreated, map[string]any{
		"crypto_amount_added": domain.FormatAmount(res.CryptoAmount, net.Decimals),
		"rate":                res.Rate.String(),
		"transaction":         h.transaction(res.Transaction),
	})
}
