package service

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/crypto-ledger/internal/addressing"
	"github.com/ayo6706/crypto-ledger/internal/gateway"
	"github.com/ayo6706/crypto-ledger/internal/lock"
	"github.com/ayo6706/crypto-ledger/internal/models"
	"github.com/ayo6706/crypto-ledger/internal/network"
	"github.com/ayo6706/crypto-ledger/internal/oracle"
	"github.com/ayo6706/crypto-ledger/internal/repository"
	"github.com/ayo6706/crypto-ledger/internal/testutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	btcDestination = "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"
	btcSource      = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
	ethDestination = "0x52908400098527886E0F7030069857D2E4169EE7"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubBroadcaster struct {
	mu    sync.Mutex
	hash  string
	err   error
	calls int
}

func (s *stubBroadcaster) Broadcast(ctx context.Context, req gateway.BroadcastRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if s.hash != "" {
		return s.hash, nil
	}
	return gateway.FakeChainHash(req.Network)
}

func (s *stubBroadcaster) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingArchiver struct {
	mu       sync.Mutex
	archived map[uuid.UUID]string
}

func (a *recordingArchiver) Archive(ctx context.Context, tx models.Transaction, history []models.HistoryEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.archived == nil {
		a.archived = make(map[uuid.UUID]string)
	}
	a.archived[tx.ID] = tx.Status
	return nil
}

func (a *recordingArchiver) Status(id uuid.UUID) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.archived[id]
	return s, ok
}

type harness struct {
	store       *repository.Store
	registry    *network.Registry
	clock       *fakeClock
	rates       *oracle.Static
	broadcaster *stubBroadcaster
	archiver    *recordingArchiver
	ledger      *Ledger
	deposits    *DepositService
	withdrawals *WithdrawalService
	reconciler  *Reconciler
	admin       *AdminService
	conversions *ConversionService
	accounts    *AccountService
	integrity   *IntegrityService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, testutil.NewSQLiteStore(t))
}

func newHarnessWithStore(t *testing.T, store *repository.Store) *harness {
	t.Helper()

	registry, err := network.Load("")
	require.NoError(t, err)

	xpub := testXpub(t)
	deriver, err := addressing.NewDeriver(map[string]string{"BTC": xpub, "ETH": xpub})
	require.NoError(t, err)

	h := &harness{
		store:       store,
		registry:    registry,
		clock:       &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		broadcaster: &stubBroadcaster{},
		archiver:    &recordingArchiver{},
		rates: oracle.NewStatic(map[string]decimal.Decimal{
			"BTC": decimal.NewFromInt(65_000),
			"ETH": decimal.NewFromInt(3_000),
		}),
	}
	h.ledger = NewLedger(store, lock.NewLocal()).WithClock(h.clock.Now).WithArchiver(h.archiver)
	h.deposits = NewDepositService(h.ledger, registry, deriver, h.rates)
	h.withdrawals = NewWithdrawalService(h.ledger, registry, h.broadcaster, h.rates)
	h.reconciler = NewReconciler(h.ledger, registry)
	h.admin = NewAdminService(h.ledger, h.withdrawals)
	h.conversions = NewConversionService(h.ledger, registry, h.rates)
	h.accounts = NewAccountService(store)
	h.integrity = NewIntegrityService(store, registry.Fiat().Code)
	return h
}

func testXpub(t *testing.T) string {
	t.Helper()
	master, err := hdkeychain.NewMaster(bytes.Repeat([]byte{0x07}, 32), &chaincfg.MainNetParams)
	require.NoError(t, err)
	account, err := master.Derive(hdkeychain.HardenedKeyStart)
	require.NoError(t, err)
	pub, err := account.Neuter()
	require.NoError(t, err)
	return pub.String()
}

// fund credits available balance through a fully confirmed deposit.
func (h *harness) fund(t *testing.T, userID uuid.UUID, code string, amount int64) {
	t.Helper()
	ctx := context.Background()
	res, err := h.deposits.RequestDeposit(ctx, DepositRequest{UserID: userID, Network: code, Amount: amount})
	require.NoError(t, err)

	hash, err := gateway.FakeChainHash(code)
	require.NoError(t, err)
	net, _ := h.registry.Lookup(code)
	out, err := h.reconciler.Apply(ctx, models.ConfirmationEvent{
		Network:       code,
		TxHash:        hash,
		Confirmations: net.ConfirmationsRequired,
		ToAddress:     res.Address,
		Amount:        &amount,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, out.Outcome)
}

func (h *harness) balance(t *testing.T, userID uuid.UUID, code string) models.Balance {
	t.Helper()
	b, err := h.store.Queries().GetBalanceForUpdate(context.Background(), userID, code)
	if err != nil {
		require.ErrorIs(t, err, repository.ErrNotFound)
		return models.Balance{UserID: userID, Network: code}
	}
	return b
}

func (h *harness) transaction(t *testing.T, id uuid.UUID) models.Transaction {
	t.Helper()
	tx, err := h.store.Queries().GetTransaction(context.Background(), id)
	require.NoError(t, err)
	return tx
}

func (h *harness) requireBalanced(t *testing.T) {
	t.Helper()
	mismatches, err := h.integrity.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, mismatches)
}
