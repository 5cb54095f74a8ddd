package service

import (
	"context"
	"testing"

	"github.com/ayo6706/crypto-ledger/internal/domain"
	"github.com/ayo6706/crypto-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitcoinDepositCompletesAfterThreeConfirmations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := uuid.New()

	res, err := h.deposits.RequestDeposit(ctx, DepositRequest{UserID: user, Network: "BTC", Amount: 1_000_000})
	require.NoError(t, err)
	btc, err := h.registry.Get("BTC")
	require.NoError(t, err)
	require.NoError(t, btc.ValidateAddress(res.Address))
	assert.Equal(t, domain.TxStatusPending, res.Transaction.Status)
	assert.Equal(t, 3, res.Transaction.RequiredConfirmations)
	require.NotNil(t, res.Transaction.USDAmount)
	assert.Equal(t, int64(65_000), *res.Transaction.USDAmount)
	assert.Equal(t, int64(1_000_000), h.balance(t, user, "BTC").PendingDeposit)

	hash := "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"
	for conf := 1; conf <= 3; conf++ {
		out, err := h.reconciler.Apply(ctx, models.ConfirmationEvent{
			Network:       "BTC",
			TxHash:        hash,
			Confirmations: conf,
			ToAddress:     res.Address,
		})
		require.NoError(t, err)

		bal := h.balance(t, user, "BTC")
		if conf < 3 {
			assert.Equal(t, domain.TxStatusConfirmed, out.Transaction.Status)
			assert.Equal(t, int64(0), bal.Available)
			assert.Equal(t, int64(1_000_000), bal.PendingDeposit)
			continue
		}
		assert.Equal(t, domain.TxStatusCompleted, out.Transaction.Status)
		assert.Equal(t, int64(1_000_000), bal.Available)
		assert.Equal(t, int64(0), bal.PendingDeposit)
	}

	tx := h.transaction(t, res.Transaction.ID)
	require.NotNil(t, tx.ChainHash)
	assert.Equal(t, hash, *tx.ChainHash)
	assert.Equal(t, 3, tx.Confirmations)
	h.requireBalanced(t)
}

func TestRequestDepositReusesWallet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	first, err := h.deposits.RequestDeposit(ctx, DepositRequest{UserID: alice, Network: "ETH", Amount: 1_000_000_000})
	require.NoError(t, err)
	second, err := h.deposits.RequestDeposit(ctx, DepositRequest{UserID: alice, Network: "ETH", Amount: 2_000_000_000})
	require.NoError(t, err)
	other, err := h.deposits.RequestDeposit(ctx, DepositRequest{UserID: bob, Network: "ETH", Amount: 1_000_000_000})
	require.NoError(t, err)

	assert.Equal(t, first.Address, second.Address)
	assert.NotEqual(t, first.Address, other.Address)

	wallets, err := h.accounts.GetWallets(ctx, alice)
	require.NoError(t, err)
	require.Len(t, wallets, 1)
	require.NotNil(t, wallets[0].DerivationIndex)
	assert.Equal(t, int64(0), *wallets[0].DerivationIndex)
	assert.Equal(t, int64(3_000_000_000), h.balance(t, alice, "ETH").PendingDeposit)
}

func TestRequestDepositValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := uuid.New()

	_, err := h.deposits.RequestDeposit(ctx, DepositRequest{UserID: user, Network: "DOGE", Amount: 1})
	require.ErrorIs(t, err, domain.ErrUnsupportedNetwork)

	_, err = h.deposits.RequestDeposit(ctx, DepositRequest{UserID: user, Network: "BTC", Amount: 1})
	require.ErrorIs(t, err, domain.ErrAmountOutOfRange)

	_, err = h.deposits.RequestDeposit(ctx, DepositRequest{UserID: user, Network: "BTC", Amount: 10_000_000_001})
	require.ErrorIs(t, err, domain.ErrAmountOutOfRange)
}

func TestRequestDepositWithoutRateLeavesSnapshotEmpty(t *testing.T) {
	h := newHarness(t)
	h.rates.Remove("BTC")

	res, err := h.deposits.RequestDeposit(context.Background(), DepositRequest{UserID: uuid.New(), Network: "BTC", Amount: 50_000})
	require.NoError(t, err)
	assert.Nil(t, res.Transaction.USDAmount)
	assert.Nil(t, h.transaction(t, res.Transaction.ID).USDAmount)
}

func TestManualDepositDuplicateHashRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := uuid.New()

	req := ManualDepositRequest{
		UserID:      user,
		Network:     "ETH",
		Amount:      1_000_000_000,
		FromAddress: ethDestination,
		TxHash:      "0xabc",
	}
	tx, err := h.deposits.SubmitManualDeposit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusPendingAdminApproval, tx.Status)
	assert.Equal(t, domain.KindManualDepositRequest, tx.Kind)

	_, err = h.deposits.SubmitManualDeposit(ctx, req)
	require.ErrorIs(t, err, domain.ErrDuplicateChainHash)

	txs, err := h.accounts.GetStatement(ctx, user, "ETH", 1, 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	bal := h.balance(t, user, "ETH")
	assert.Equal(t, int64(0), bal.PendingDeposit)
	assert.Equal(t, int64(0), bal.Available)
}

func TestManualDepositValidatesSourceAddress(t *testing.T) {
	h := newHarness(t)
	_, err := h.deposits.SubmitManualDeposit(context.Background(), ManualDepositRequest{
		UserID:      uuid.New(),
		Network:     "BTC",
		Amount:      100_000,
		FromAddress: ethDestination,
	})
	require.ErrorIs(t, err, domain.ErrInvalidAddress)
}
