package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/crypto-ledger/internal/domain"
	"github.com/ayo6706/crypto-ledger/internal/lock"
	"github.com/ayo6706/crypto-ledger/internal/models"
	"github.com/ayo6706/crypto-ledger/internal/observability"
	"github.com/ayo6706/crypto-ledger/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// QueryStore is the database handle the ledger and read-side services use.
// *repository.Store implements it; tests wrap it to inject failures.
type QueryStore interface {
	Queries() *repository.Queries
	RunInTx(ctx context.Context, fn func(q *repository.Queries) error) error
}

// Archiver receives every transaction that reached a terminal status,
// together with its full history, after the change committed.
type Archiver interface {
	Archive(ctx context.Context, tx models.Transaction, history []models.HistoryEntry) error
}

type nopArchiver struct{}

func (nopArchiver) Archive(context.Context, models.Transaction, []models.HistoryEntry) error {
	return nil
}

// Ledger is the only writer of balances and transaction statuses. Every
// mutation of a (user, network) pair holds that pair's lock and runs in one
// database transaction; no network I/O happens while either is held.
type Ledger struct {
	store    QueryStore
	locker   lock.Locker
	history  *HistoryWriter
	archiver Archiver
	now      func() time.Time
}

func NewLedger(store QueryStore, locker lock.Locker) *Ledger {
	return &Ledger{
		store:    store,
		locker:   locker,
		history:  NewHistoryWriter(),
		archiver: nopArchiver{},
		now:      time.Now,
	}
}

// WithArchiver sets where terminal transactions are copied.
func (l *Ledger) WithArchiver(a Archiver) *Ledger {
	if a != nil {
		l.archiver = a
	}
	return l
}

// WithClock replaces the ledger clock.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Now returns the ledger clock's current UTC time.
func (l *Ledger) Now() time.Time {
	return l.now().UTC()
}

// ReserveParams describes a new transaction row.
type ReserveParams struct {
	UserID                uuid.UUID
	Kind                  string
	Network               string
	Amount                int64
	Fee                   int64
	USDAmount             *int64
	FromAddress           string
	ToAddress             string
	ChainHash             *string
	Status                string
	RequiredConfirmations int
	Notes                 string
	ActorID               *uuid.UUID
	// Hold applies the balance reservation now: pending_deposit for deposit
	// kinds, available to pending_withdrawal for withdrawal kinds.
	Hold bool
}

// Reserve inserts a transaction and, when p.Hold is set, its balance
// reservation in one atomic step. A withdrawal hold that would overdraw the
// available balance fails with ErrInsufficientFunds and writes nothing.
func (l *Ledger) Reserve(ctx context.Context, p ReserveParams) (models.Transaction, error) {
	if p.Amount <= 0 {
		return models.Transaction{}, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidAmount)
	}
	now := l.Now()
	tx := models.Transaction{
		ID:                    uuid.New(),
		UserID:                p.UserID,
		Kind:                  p.Kind,
		Network:               p.Network,
		Amount:                p.Amount,
		Fee:                   p.Fee,
		USDAmount:             p.USDAmount,
		FromAddress:           p.FromAddress,
		ToAddress:             p.ToAddress,
		ChainHash:             p.ChainHash,
		Status:                p.Status,
		RequiredConfirmations: p.RequiredConfirmations,
		Notes:                 p.Notes,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if p.Hold {
		tx.ReservedAt = &now
	}

	release, err := l.locker.Lock(ctx, lock.PairKey(p.UserID, p.Network))
	if err != nil {
		return models.Transaction{}, err
	}
	defer release()

	err = l.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		if err := qtx.EnsureBalance(ctx, p.UserID, p.Network, now); err != nil {
			return fmt.Errorf("ensure balance: %w", err)
		}
		if p.Hold {
			if err := l.applyHold(ctx, qtx, tx, now); err != nil {
				return err
			}
		}
		if err := qtx.InsertTransaction(ctx, tx); err != nil {
			if repository.IsUniqueViolation(err) {
				return fmt.Errorf("%w: %s on %s", domain.ErrDuplicateChainHash, deref(p.ChainHash), p.Network)
			}
			return fmt.Errorf("insert transaction: %w", err)
		}
		return l.history.Write(ctx, qtx, tx.ID, p.ActorID, domain.ActionCreated, "", tx.Status, 0, map[string]any{
			"kind":   tx.Kind,
			"amount": tx.Amount,
			"fee":    tx.Fee,
		}, now)
	})
	if err != nil {
		return models.Transaction{}, err
	}

	observability.IncrementTransition(tx.Kind, tx.Status)
	zap.L().Info("transaction created",
		zap.String("tx_id", tx.ID.String()),
		zap.String("user_id", tx.UserID.String()),
		zap.String("kind", tx.Kind),
		zap.String("network", tx.Network),
		zap.String("status", tx.Status),
		zap.Int64("amount", tx.Amount))
	return tx, nil
}

// Finalize moves a transaction to a terminal outcome (COMPLETED, FAILED or
// CANCELLED) and settles its reservation. Finalizing into the status the
// transaction already has is a no-op; any other terminal status fails with
// ErrInvalidStateTransition.
func (l *Ledger) Finalize(ctx context.Context, txID uuid.UUID, outcome, reason string, actorID *uuid.UUID) (models.Transaction, error) {
	switch outcome {
	case domain.TxStatusCompleted, domain.TxStatusFailed, domain.TxStatusCancelled:
	default:
		return models.Transaction{}, fmt.Errorf("%w: %s is not a final outcome", domain.ErrInvalidStateTransition, outcome)
	}
	return l.Mutate(ctx, txID, actorID, func(t *LedgerTx) error {
		if t.Tx.Status == outcome {
			return nil
		}
		return t.Settle(outcome, reason, nil)
	})
}

// Mutate loads a transaction, takes its pair lock and runs fn inside one
// database transaction. Terminal results are archived after commit.
func (l *Ledger) Mutate(ctx context.Context, txID uuid.UUID, actorID *uuid.UUID, fn func(t *LedgerTx) error) (models.Transaction, error) {
	current, err := l.store.Queries().GetTransaction(ctx, txID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.Transaction{}, fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, txID)
		}
		return models.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}

	release, err := l.locker.Lock(ctx, lock.PairKey(current.UserID, current.Network))
	if err != nil {
		return models.Transaction{}, err
	}
	defer release()

	var t *LedgerTx
	err = l.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		row, err := qtx.GetTransactionForUpdate(ctx, txID)
		if err != nil {
			return fmt.Errorf("lock transaction: %w", err)
		}
		t = &LedgerTx{ledger: l, ctx: ctx, q: qtx, Tx: row, Before: row.Status, actor: actorID, now: l.Now()}
		return fn(t)
	})
	if err != nil {
		return models.Transaction{}, err
	}

	for _, status := range t.visited {
		observability.IncrementTransition(t.Tx.Kind, status)
	}
	if t.Before != t.Tx.Status && domain.IsTerminal(t.Tx.Status) {
		l.archive(ctx, t.Tx)
	}
	return t.Tx, nil
}

func (l *Ledger) archive(ctx context.Context, tx models.Transaction) {
	history, err := l.store.Queries().ListHistory(ctx, tx.ID)
	if err != nil {
		zap.L().Warn("load history for archive failed", zap.String("tx_id", tx.ID.String()), zap.Error(err))
		return
	}
	if err := l.archiver.Archive(ctx, tx, history); err != nil {
		zap.L().Warn("archive transaction failed", zap.String("tx_id", tx.ID.String()), zap.Error(err))
	}
}

// applyHold moves funds into the pending bucket for a newly reserved
// transaction.
func (l *Ledger) applyHold(ctx context.Context, qtx *repository.Queries, tx models.Transaction, now time.Time) error {
	delta := repository.ApplyBalanceDeltaParams{UserID: tx.UserID, Network: tx.Network, UpdatedAt: now}
	switch {
	case domain.IsDepositKind(tx.Kind):
		delta.PendingDeposit = tx.Amount
	case domain.IsWithdrawalKind(tx.Kind):
		bal, err := qtx.GetBalanceForUpdate(ctx, tx.UserID, tx.Network)
		if err != nil {
			return fmt.Errorf("lock balance: %w", err)
		}
		total := tx.Amount + tx.Fee
		if bal.Available < total {
			return fmt.Errorf("%w: need %d, available %d", domain.ErrInsufficientFunds, total, bal.Available)
		}
		delta.Available = -total
		delta.PendingWithdrawal = total
	default:
		return fmt.Errorf("kind %s has no reservation", tx.Kind)
	}
	return applyDelta(ctx, qtx, delta)
}

// settlementDelta is the balance change that releases a reservation into its
// final outcome.
func settlementDelta(tx models.Transaction, outcome string, now time.Time) repository.ApplyBalanceDeltaParams {
	delta := repository.ApplyBalanceDeltaParams{UserID: tx.UserID, Network: tx.Network, UpdatedAt: now}
	if tx.ReservedAt == nil {
		return delta
	}
	total := tx.Amount + tx.Fee
	switch {
	case domain.IsDepositKind(tx.Kind):
		delta.PendingDeposit = -tx.Amount
		if outcome == domain.TxStatusCompleted {
			delta.Available = tx.Amount
		}
	case domain.IsWithdrawalKind(tx.Kind):
		delta.PendingWithdrawal = -total
		if outcome != domain.TxStatusCompleted {
			delta.Available = total
		}
	}
	return delta
}

func applyDelta(ctx context.Context, qtx *repository.Queries, delta repository.ApplyBalanceDeltaParams) error {
	if delta.Available == 0 && delta.PendingDeposit == 0 && delta.PendingWithdrawal == 0 {
		return nil
	}
	rows, err := qtx.ApplyBalanceDelta(ctx, delta)
	if err != nil {
		return fmt.Errorf("apply balance delta: %w", err)
	}
	if rows != 1 {
		return fmt.Errorf("%w: balance %s/%s cannot absorb change", domain.ErrInsufficientFunds, delta.UserID, delta.Network)
	}
	return nil
}

// LedgerTx is a transaction row locked for the duration of a Mutate call.
type LedgerTx struct {
	Tx     models.Transaction
	Before string

	ledger  *Ledger
	ctx     context.Context
	q       *repository.Queries
	actor   *uuid.UUID
	now     time.Time
	visited []string
}

// Transition moves the status one step and appends history.
func (t *LedgerTx) Transition(next, action, reason string, metadata map[string]any) error {
	prev := t.Tx.Status
	if !canTransition(prev, next) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStateTransition, prev, next)
	}

	var completedAt *time.Time
	if domain.IsTerminal(next) {
		completedAt = &t.now
	}
	rows, err := t.q.UpdateTransactionStatus(t.ctx, repository.UpdateTransactionStatusParams{
		ID:          t.Tx.ID,
		FromStatus:  prev,
		ToStatus:    next,
		Reason:      reason,
		CompletedAt: completedAt,
		UpdatedAt:   t.now,
	})
	if err != nil {
		return fmt.Errorf("update transaction state: %w", err)
	}
	if err := oneRow(rows, "update transaction state", t.Tx.ID); err != nil {
		return err
	}
	if reason != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata["reason"] = reason
	}
	if err := t.ledger.history.Write(t.ctx, t.q, t.Tx.ID, t.actor, action, prev, next, t.Tx.Confirmations, metadata, t.now); err != nil {
		return err
	}

	t.Tx.Status = next
	t.Tx.Reason = reason
	t.Tx.UpdatedAt = t.now
	t.Tx.CompletedAt = completedAt
	t.visited = append(t.visited, next)
	return nil
}

// Settle transitions to a terminal outcome and releases the reservation.
// Completing a transaction that has not been confirmed yet records the
// CONFIRMED step first.
func (t *LedgerTx) Settle(outcome, reason string, metadata map[string]any) error {
	if domain.IsTerminal(t.Tx.Status) {
		if t.Tx.Status == outcome {
			return nil
		}
		return fmt.Errorf("%w: %s is already %s", domain.ErrInvalidStateTransition, t.Tx.ID, t.Tx.Status)
	}
	if outcome == domain.TxStatusCompleted && t.Tx.Status != domain.TxStatusConfirmed {
		if err := t.Transition(domain.TxStatusConfirmed, domain.ActionConfirmation, "", nil); err != nil {
			return err
		}
	}
	if !canTransition(t.Tx.Status, outcome) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStateTransition, t.Tx.Status, outcome)
	}

	if err := applyDelta(t.ctx, t.q, settlementDelta(t.Tx, outcome, t.now)); err != nil {
		return err
	}

	action := domain.ActionFailed
	switch outcome {
	case domain.TxStatusCompleted:
		action = domain.ActionCompleted
	case domain.TxStatusCancelled:
		action = domain.ActionCancelled
	}
	if err := t.Transition(outcome, action, reason, metadata); err != nil {
		return err
	}

	zap.L().Info("transaction settled",
		zap.String("tx_id", t.Tx.ID.String()),
		zap.String("network", t.Tx.Network),
		zap.String("status", outcome),
		zap.String("reason", reason))
	return nil
}

// Hold applies the balance reservation for a transaction created without one.
func (t *LedgerTx) Hold() error {
	if t.Tx.ReservedAt != nil {
		return nil
	}
	if err := t.q.EnsureBalance(t.ctx, t.Tx.UserID, t.Tx.Network, t.now); err != nil {
		return fmt.Errorf("ensure balance: %w", err)
	}
	if err := t.ledger.applyHold(t.ctx, t.q, t.Tx, t.now); err != nil {
		return err
	}
	rows, err := t.q.MarkReserved(t.ctx, t.Tx.ID, t.now)
	if err != nil {
		return fmt.Errorf("mark reserved: %w", err)
	}
	if err := oneRow(rows, "mark reserved", t.Tx.ID); err != nil {
		return err
	}
	t.Tx.ReservedAt = &t.now
	return nil
}

// RecordConfirmations raises the confirmation count. Counts at or below the
// stored value are ignored and reported as false.
func (t *LedgerTx) RecordConfirmations(n int) (bool, error) {
	if n <= t.Tx.Confirmations {
		return false, nil
	}
	rows, err := t.q.UpdateConfirmations(t.ctx, t.Tx.ID, n, t.now)
	if err != nil {
		return false, fmt.Errorf("update confirmations: %w", err)
	}
	if rows == 0 {
		return false, nil
	}
	prev := t.Tx.Confirmations
	t.Tx.Confirmations = n
	t.Tx.UpdatedAt = t.now
	if err := t.ledger.history.Write(t.ctx, t.q, t.Tx.ID, t.actor, domain.ActionConfirmation, t.Tx.Status, t.Tx.Status, n,
		map[string]any{"previous": prev}, t.now); err != nil {
		return false, err
	}
	return true, nil
}

// AttachChainHash links the transaction to its on-chain hash. The hash is
// write-once; a hash owned by another transaction on the same network fails
// with ErrDuplicateChainHash.
func (t *LedgerTx) AttachChainHash(hash string) error {
	if t.Tx.ChainHash != nil {
		if *t.Tx.ChainHash == hash {
			return nil
		}
		return fmt.Errorf("%w: transaction already has chain hash %s", domain.ErrInvalidStateTransition, *t.Tx.ChainHash)
	}
	rows, err := t.q.AttachChainHash(t.ctx, t.Tx.ID, hash, t.now)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s on %s", domain.ErrDuplicateChainHash, hash, t.Tx.Network)
		}
		return fmt.Errorf("attach chain hash: %w", err)
	}
	if err := oneRow(rows, "attach chain hash", t.Tx.ID); err != nil {
		return err
	}
	if err := t.ledger.history.Write(t.ctx, t.q, t.Tx.ID, t.actor, domain.ActionHashAttached, t.Tx.Status, t.Tx.Status, t.Tx.Confirmations,
		map[string]any{"chain_hash": hash}, t.now); err != nil {
		return err
	}
	t.Tx.ChainHash = &hash
	t.Tx.UpdatedAt = t.now
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// oneRow checks a guarded single-row update. Zero rows means another writer
// moved the transaction first.
func oneRow(rows int64, op string, id uuid.UUID) error {
	if rows != 1 {
		return fmt.Errorf("%w: %s on %s matched %d rows", domain.ErrInvalidStateTransition, op, id, rows)
	}
	return nil
}
