package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ayo6706/crypto-ledger/internal/models"
	"github.com/ayo6706/crypto-ledger/internal/repository"
	"github.com/ayo6706/crypto-ledger/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// forEachBackend runs fn on SQLite, and on Postgres when DATABASE_URL is set.
func forEachBackend(t *testing.T, fn func(t *testing.T, store *repository.Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, testutil.NewSQLiteStore(t)) })
	t.Run("postgres", func(t *testing.T) { fn(t, testutil.NewPostgresStore(t)) })
}

func newTransaction(userID uuid.UUID, hash string) models.Transaction {
	tx := models.Transaction{
		ID:                    uuid.New(),
		UserID:                userID,
		Kind:                  "DEPOSIT",
		Network:               "BTC",
		Amount:                100_000,
		ToAddress:             "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4",
		Status:                "PENDING",
		RequiredConfirmations: 3,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if hash != "" {
		tx.ChainHash = &hash
	}
	return tx
}

func TestApplyBalanceDeltaRefusesNegative(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		q := store.Queries()
		user := uuid.New()
		require.NoError(t, q.EnsureBalance(ctx, user, "BTC", now))
		require.NoError(t, q.EnsureBalance(ctx, user, "BTC", now))

		n, err := q.ApplyBalanceDelta(ctx, repository.ApplyBalanceDeltaParams{UserID: user, Network: "BTC", Available: 500, UpdatedAt: now})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = q.ApplyBalanceDelta(ctx, repository.ApplyBalanceDeltaParams{UserID: user, Network: "BTC", Available: -600, PendingWithdrawal: 600, UpdatedAt: now})
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		b, err := q.GetBalanceForUpdate(ctx, user, "BTC")
		require.NoError(t, err)
		assert.Equal(t, int64(500), b.Available)
		assert.Equal(t, int64(0), b.PendingWithdrawal)

		_, err = q.GetBalanceForUpdate(ctx, user, "ETH")
		require.ErrorIs(t, err, repository.ErrNotFound)
	})
}

func TestChainHashIsUniquePerNetwork(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		q := store.Queries()
		user := uuid.New()

		require.NoError(t, q.InsertTransaction(ctx, newTransaction(user, "ab01")))
		err := q.InsertTransaction(ctx, newTransaction(user, "ab01"))
		require.Error(t, err)
		assert.True(t, repository.IsUniqueViolation(err))

		eth := newTransaction(user, "ab01")
		eth.Network = "ETH"
		require.NoError(t, q.InsertTransaction(ctx, eth))

		// Many transactions may still wait for a hash.
		require.NoError(t, q.InsertTransaction(ctx, newTransaction(user, "")))
		require.NoError(t, q.InsertTransaction(ctx, newTransaction(user, "")))

		got, err := q.GetTransactionByChainHash(ctx, "BTC", "ab01")
		require.NoError(t, err)
		assert.Equal(t, user, got.UserID)
	})
}

func TestFindUnmatchedDepositAndInFlight(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		q := store.Queries()
		user := uuid.New()

		open := newTransaction(user, "")
		require.NoError(t, q.InsertTransaction(ctx, open))
		hashed := newTransaction(user, "cd02")
		hashed.UpdatedAt = now.Add(time.Minute)
		require.NoError(t, q.InsertTransaction(ctx, hashed))

		got, err := q.FindUnmatchedDeposit(ctx, repository.FindUnmatchedDepositParams{Network: "BTC", ToAddress: open.ToAddress})
		require.NoError(t, err)
		assert.Equal(t, open.ID, got.ID)

		other := int64(7)
		_, err = q.FindUnmatchedDeposit(ctx, repository.FindUnmatchedDepositParams{Network: "BTC", ToAddress: open.ToAddress, Amount: &other})
		require.ErrorIs(t, err, repository.ErrNotFound)

		inFlight, err := q.ListInFlight(ctx, "BTC", 10)
		require.NoError(t, err)
		require.Len(t, inFlight, 1)
		assert.Equal(t, hashed.ID, inFlight[0].ID)
	})
}

func TestRunInTxRollsBack(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		tx := newTransaction(uuid.New(), "")
		boom := errors.New("boom")

		err := store.RunInTx(ctx, func(q *repository.Queries) error {
			if err := q.InsertTransaction(ctx, tx); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, err = store.Queries().GetTransaction(ctx, tx.ID)
		require.ErrorIs(t, err, repository.ErrNotFound)
	})
}

func TestHistoryIsAppendOnly(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		q := store.Queries()
		tx := newTransaction(uuid.New(), "")
		require.NoError(t, q.InsertTransaction(ctx, tx))

		for _, next := range []string{"PENDING", "CONFIRMED"} {
			require.NoError(t, q.InsertHistory(ctx, repository.InsertHistoryParams{
				TransactionID: tx.ID,
				Action:        "confirmation",
				NextStatus:    next,
				Metadata:      []byte(`{"source":"test"}`),
				CreatedAt:     now,
			}))
		}
		history, err := q.ListHistory(ctx, tx.ID)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "CONFIRMED", history[1].NextStatus)

		_, err = store.DB().ExecContext(ctx, `UPDATE transaction_history SET action = 'tampered'`)
		require.Error(t, err)
		_, err = store.DB().ExecContext(ctx, `DELETE FROM transaction_history`)
		require.Error(t, err)
	})
}

func TestIdempotencyKeyLifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		q := store.Queries()
		params := repository.ReserveIdempotencyKeyParams{IdempotencyKey: "k1", RequestHash: "h1", Method: "POST", Path: "/v1/deposits", CreatedAt: now}

		n, err := q.ReserveIdempotencyKey(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		rec, err := q.GetIdempotencyKey(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, rec.InProgress)

		n, err = q.ReserveIdempotencyKey(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		// Unfinished reservations survive a purge.
		n, err = q.DeleteIdempotencyKeysBefore(ctx, now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		n, err = q.FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{
			ResponseStatus: 201,
			ResponseBody:   []byte(`{"ok":true}`),
			ContentType:    "application/json",
			IdempotencyKey: "k1",
			RequestHash:    "h1",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = q.DeleteIdempotencyKeysBefore(ctx, now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = q.GetIdempotencyKey(ctx, "k1")
		require.ErrorIs(t, err, repository.ErrNotFound)
	})
}
