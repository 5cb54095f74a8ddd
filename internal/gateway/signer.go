package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPSigner forwards broadcast requests to an external signing service.
type HTTPSigner struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPSigner(baseURL, token string, timeout time.Duration) *HTTPSigner {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPSigner{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type signRequest struct {
	RequestID   string `json:"request_id"`
	Network     string `json:"network"`
	Destination string `json:"destination"`
	AmountMinor int64  `json:"amount_minor"`
}

type signResponse struct {
	TxHash string `json:"tx_hash"`
	Error  string `json:"error"`
}

// Broadcast posts the request and returns the signer's chain hash. A 4xx
// answer is a rejection; 5xx and transport errors are failures too, since
// the withdrawal cannot be retried once funds may have moved.
func (s *HTTPSigner) Broadcast(ctx context.Context, req BroadcastRequest) (string, error) {
	payload, err := json.Marshal(signRequest{
		RequestID:   req.TransactionID.String(),
		Network:     req.Network,
		Destination: req.Destination,
		AmountMinor: req.Amount,
	})
	if err != nil {
		return "", fmt.Errorf("encode sign request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/broadcast", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build sign request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.TransactionID.String())
	if s.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("signer unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read signer response: %w", err)
	}
	var out signResponse
	_ = json.Unmarshal(body, &out)

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", fmt.Errorf("%w: %s", ErrRejected, strings.TrimSpace(out.Error))
	case resp.StatusCode >= 300:
		return "", fmt.Errorf("signer returned %d", resp.StatusCode)
	}
	if strings.TrimSpace(out.TxHash) == "" {
		return "", fmt.Errorf("%w: signer returned no hash", ErrRejected)
	}
	return out.TxHash, nil
}

var (
	_ Broadcaster = (*HTTPSigner)(nil)
	_ Broadcaster = (*MockBroadcaster)(nil)
)
