package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSigner_Success(t *testing.T) {
	txID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/broadcast", r.URL.Path)
		assert.Equal(t, txID.String(), r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body signRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(1_000_000), body.AmountMinor)
		assert.Equal(t, "BTC", body.Network)

		_ = json.NewEncoder(w).Encode(signResponse{TxHash: "abc123"})
	}))
	defer srv.Close()

	signer := NewHTTPSigner(srv.URL+"/", "secret", 0)
	hash, err := signer.Broadcast(context.Background(), BroadcastRequest{
		TransactionID: txID,
		Network:       "BTC",
		Destination:   "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa",
		Amount:        1_000_000,
	})
	require.NoError(t, err)
	assert.Equal(t, "abc123", hash)
}

func TestHTTPSigner_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(signResponse{Error: "destination blocked"})
	}))
	defer srv.Close()

	_, err := NewHTTPSigner(srv.URL, "", 0).Broadcast(context.Background(), BroadcastRequest{TransactionID: uuid.New()})
	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "destination blocked")
}

func TestHTTPSigner_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPSigner(srv.URL, "", 0).Broadcast(context.Background(), BroadcastRequest{TransactionID: uuid.New()})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRejected)
}

func TestMockBroadcaster(t *testing.T) {
	always := &MockBroadcaster{FailureRate: 1}
	_, err := always.Broadcast(context.Background(), BroadcastRequest{Network: "ETH"})
	assert.ErrorIs(t, err, ErrRejected)

	never := &MockBroadcaster{}
	hash, err := never.Broadcast(context.Background(), BroadcastRequest{Network: "ETH"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "0x"))
	assert.Len(t, hash, 66)

	hash, err = never.Broadcast(context.Background(), BroadcastRequest{Network: "BTC"})
	require.NoError(t, err)
	assert.Len(t, hash, 64)

	hash, err = never.Broadcast(context.Background(), BroadcastRequest{Network: "SOL"})
	require.NoError(t, err)
	_, err = solana.SignatureFromBase58(hash)
	assert.NoError(t, err)
}
