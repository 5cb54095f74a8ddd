package service

import (
	"context"
	"sync"
	"testing"

	"github.com/ayo6706/crypto-ledger/internal/domain"
	"github.com/ayo6706/crypto-ledger/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerReserveWithdrawalRequiresFunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := uuid.New()

	_, err := h.ledger.Reserve(ctx, ReserveParams{
		UserID:  user,
		Kind:    domain.KindWithdrawal,
		Network: "BTC",
		Amount:  100_000,
		Fee:     10_000,
		Status:  domain.TxStatusPending,
		Hold:    true,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	txs, err := h.accounts.GetStatement(ctx, user, "", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, txs)
	assert.Equal(t, int64(0), h.balance(t, user, "BTC").Available)
}

func TestLedgerFinalizeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := uuid.New()

	tx, err := h.ledger.Reserve(ctx, ReserveParams{
		UserID:                user,
		Kind:                  domain.KindDeposit,
		Network:               "BTC",
		Amount:                500_000,
		Status:                domain.TxStatusPending,
		RequiredConfirmations: 3,
		Hold:                  true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), h.balance(t, user, "BTC").PendingDeposit)

	done, err := h.ledger.Finalize(ctx, tx.ID, domain.TxStatusCompleted, "", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	again, err := h.ledger.Finalize(ctx, tx.ID, domain.TxStatusCompleted, "", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusCompleted, again.Status)

	bal := h.balance(t, user, "BTC")
	assert.Equal(t, int64(500_000), bal.Available)
	assert.Equal(t, int64(0), bal.PendingDeposit)

	_, err = h.ledger.Finalize(ctx, tx.ID, domain.TxStatusFailed, "late", nil)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	detail, err := h.accounts.GetTransaction(ctx, user, tx.ID, false)
	require.NoError(t, err)
	var statuses []string
	for _, entry := range detail.History {
		statuses = append(statuses, entry.NextStatus)
	}
	assert.Equal(t, []string{domain.TxStatusPending, domain.TxStatusConfirmed, domain.TxStatusCompleted}, statuses)

	status, ok := h.archiver.Status(tx.ID)
	assert.True(t, ok)
	assert.Equal(t, domain.TxStatusCompleted, status)
	h.requireBalanced(t)
}

func TestLedgerFinalizeRejectsNonTerminalOutcome(t *testing.T) {
	h := newHarness(t)
	_, err := h.ledger.Finalize(context.Background(), uuid.New(), domain.TxStatusConfirmed, "", nil)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	_, err = h.ledger.Finalize(context.Background(), uuid.New(), domain.TxStatusFailed, "", nil)
	require.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestLedgerConcurrentWithdrawalsExactlyOneSucceeds(t *testing.T) {
	h := newHarness(t)
	h.withdrawals.WithInlineDispatch(false)
	user := uuid.New()
	h.fund(t, user, "BTC", 1_000_000)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.withdrawals.RequestWithdrawal(context.Background(), WithdrawalRequest{
				UserID:      user,
				Network:     "BTC",
				Amount:      800_000,
				Destination: btcDestination,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			if assert.ErrorIs(t, err, domain.ErrInsufficientFunds) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, rejected)

	bal := h.balance(t, user, "BTC")
	assert.Equal(t, int64(190_000), bal.Available)
	assert.Equal(t, int64(810_000), bal.PendingWithdrawal)
	assert.GreaterOrEqual(t, bal.Available, int64(0))
	h.requireBalanced(t)
}

func TestLedgerOnPostgres(t *testing.T) {
	h := newHarnessWithStore(t, testutil.NewPostgresStore(t))
	ctx := context.Background()
	user := uuid.New()
	h.fund(t, user, "ETH", 2_000_000_000)

	tx, err := h.withdrawals.RequestWithdrawal(ctx, WithdrawalRequest{
		UserID:      user,
		Network:     "ETH",
		Amount:      1_000_000_000,
		Destination: ethDestination,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusProcessing, tx.Status)

	bal := h.balance(t, user, "ETH")
	assert.Equal(t, int64(998_000_000), bal.Available)
	assert.Equal(t, int64(1_002_000_000), bal.PendingWithdrawal)
	h.requireBalanced(t)
}
