package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegrityRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := uuid.New()

	h.fund(t, user, "BTC", 1_000_000)
	_, err := h.deposits.RequestDeposit(ctx, DepositRequest{UserID: user, Network: "BTC", Amount: 40_000})
	require.NoError(t, err)
	_, err = h.withdrawals.RequestWithdrawal(ctx, WithdrawalRequest{
		UserID: user, Network: "BTC", Amount: 100_000, Destination: btcDestination,
	})
	require.NoError(t, err)
	_, err = h.conversions.ConvertToFiat(ctx, ConversionRequest{UserID: user, Network: "BTC", Amount: 200_000})
	require.NoError(t, err)
	h.requireBalanced(t)

	_, err = h.store.DB().ExecContext(ctx, "UPDATE balances SET available = available + 5 WHERE network = 'BTC'")
	require.NoError(t, err)

	mismatches, err := h.integrity.Run(ctx)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, "BTC", mismatches[0].Network)
	assert.Equal(t, user, mismatches[0].UserID)
	assert.Equal(t, mismatches[0].Expected.Available+5, mismatches[0].Stored.Available)
}
