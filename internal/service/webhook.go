package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/crypto-ledger/internal/domain"
	"github.com/ayo6706/crypto-ledger/internal/models"
	"github.com/ayo6706/crypto-ledger/internal/network"
)

var ErrInvalidSignature = errors.New("invalid signature")

// WebhookService accepts signed confirmation callbacks from external chain
// indexers.
type WebhookService struct {
	reconciler *Reconciler
	registry   *network.Registry
	hmacKey    []byte
	skipSig    bool
}

// NewWebhookService creates a new WebhookService instance.
func NewWebhookService(reconciler *Reconciler, registry *network.Registry, hmacKey string, skipSignature bool) *WebhookService {
	return &WebhookService{
		reconciler: reconciler,
		registry:   registry,
		hmacKey:    []byte(hmacKey),
		skipSig:    skipSignature,
	}
}

// ConfirmationPayload is the callback body. Amount is a decimal string in
// whole network units.
type ConfirmationPayload struct {
	Network       string `json:"network"`
	TxHash        string `json:"tx_hash"`
	Confirmations int    `json:"confirmations"`
	ToAddress     string `json:"to_address,omitempty"`
	Amount        string `json:"amount,omitempty"`
	Invalidated   bool   `json:"invalidated,omitempty"`
}

// HandleConfirmation verifies the HMAC signature of payload and applies the
// event it carries.
func (s *WebhookService) HandleConfirmation(ctx context.Context, payload []byte, signature string) (*ApplyResult, error) {
	if !s.verifyHMAC(payload, signature) {
		return nil, ErrInvalidSignature
	}

	var body ConfirmationPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	ev, err := s.toEvent(body)
	if err != nil {
		return nil, err
	}
	return s.reconciler.Apply(ctx, ev)
}

func (s *WebhookService) toEvent(body ConfirmationPayload) (models.ConfirmationEvent, error) {
	code := strings.ToUpper(strings.TrimSpace(body.Network))
	net, ok := s.registry.Lookup(code)
	if !ok {
		return models.ConfirmationEvent{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedNetwork, body.Network)
	}
	ev := models.ConfirmationEvent{
		Network:       net.Code,
		TxHash:        strings.TrimSpace(body.TxHash),
		Confirmations: body.Confirmations,
		ToAddress:     strings.TrimSpace(body.ToAddress),
		Invalidated:   body.Invalidated,
	}
	if amount := strings.TrimSpace(body.Amount); amount != "" {
		minor, err := domain.ParseAmount(amount, net.Decimals)
		if err != nil {
			return models.ConfirmationEvent{}, err
		}
		ev.Amount = &minor
	}
	return ev, nil
}

// verifyHMAC verifies the HMAC signature of the payload.
func (s *WebhookService) verifyHMAC(payload []byte, signature string) bool {
	if s.skipSig {
		return true
	}
	if len(s.hmacKey) == 0 {
		return false
	}

	h := hmac.New(sha256.New, s.hmacKey)
	h.Write(payload)
	expectedSig := "sha256=" + hex.EncodeToString(h.Sum(nil))

	// hmac.Equal runs in constant time
	return hmac.Equal([]byte(signature), []byte(expectedSig))
}
