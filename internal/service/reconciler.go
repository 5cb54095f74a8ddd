package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/crypto-ledger/internal/domain"
	"github.com/ayo6706/crypto-ledger/internal/models"
	"github.com/ayo6706/crypto-ledger/internal/network"
	"github.com/ayo6706/crypto-ledger/internal/observability"
	"github.com/ayo6706/crypto-ledger/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Confirmation event outcomes, used as the metric label.
const (
	OutcomeApplied   = "applied"
	OutcomeCompleted = "completed"
	OutcomeReorg     = "reorg"
	OutcomeStale     = "stale"
	OutcomeIgnored   = "ignored"
	OutcomeUnknown   = "unknown"
)

const sweepBatchSize = 200

// Reconciler drives in-flight transactions from chain observations. Events
// may arrive late, twice or out of order; applying the same event again never
// changes the ledger.
type Reconciler struct {
	ledger   *Ledger
	registry *network.Registry
}

func NewReconciler(ledger *Ledger, registry *network.Registry) *Reconciler {
	return &Reconciler{ledger: ledger, registry: registry}
}

// ApplyResult reports what an event did to its transaction.
type ApplyResult struct {
	Transaction models.Transaction `json:"transaction"`
	Outcome     string             `json:"outcome"`
}

// Apply folds one confirmation event into the ledger.
func (r *Reconciler) Apply(ctx context.Context, ev models.ConfirmationEvent) (*ApplyResult, error) {
	ev.Network = strings.ToUpper(strings.TrimSpace(ev.Network))
	ev.TxHash = strings.TrimSpace(ev.TxHash)
	ev.ToAddress = strings.TrimSpace(ev.ToAddress)
	if ev.TxHash == "" {
		return nil, errors.New("tx_hash is required")
	}
	if ev.Confirmations < 0 {
		return nil, fmt.Errorf("invalid confirmations: %d", ev.Confirmations)
	}
	if _, ok := r.registry.Lookup(ev.Network); !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedNetwork, ev.Network)
	}

	txID, err := r.match(ctx, ev)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownTransaction) {
			observability.IncrementConfirmationEvent(ev.Network, OutcomeUnknown)
			zap.L().Warn("confirmation for unknown transaction dropped",
				zap.String("network", ev.Network),
				zap.String("tx_hash", ev.TxHash))
		}
		return nil, err
	}

	outcome := OutcomeIgnored
	tx, err := r.ledger.Mutate(ctx, txID, nil, func(t *LedgerTx) error {
		if t.Tx.ChainHash != nil && *t.Tx.ChainHash != ev.TxHash {
			// Another event claimed this deposit first.
			return nil
		}
		if domain.IsTerminal(t.Tx.Status) || t.Tx.Status == domain.TxStatusPendingAdminApproval {
			return nil
		}
		if t.Tx.ChainHash == nil {
			if err := t.AttachChainHash(ev.TxHash); err != nil {
				return err
			}
			outcome = OutcomeApplied
		}

		if ev.Invalidated {
			outcome = OutcomeReorg
			return t.Settle(domain.TxStatusFailed, domain.ReasonChainReorg, map[string]any{"tx_hash": ev.TxHash})
		}

		advanced, err := t.RecordConfirmations(ev.Confirmations)
		if err != nil {
			return err
		}
		if !advanced {
			if outcome != OutcomeApplied {
				outcome = OutcomeStale
			}
			return nil
		}
		outcome = OutcomeApplied
		if t.Tx.Confirmations >= t.Tx.RequiredConfirmations {
			outcome = OutcomeCompleted
			return t.Settle(domain.TxStatusCompleted, "", nil)
		}
		if t.Tx.Status == domain.TxStatusPending || t.Tx.Status == domain.TxStatusProcessing {
			return t.Transition(domain.TxStatusConfirmed, domain.ActionConfirmation, "", nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.IncrementConfirmationEvent(ev.Network, outcome)
	if outcome == OutcomeStale {
		zap.L().Info("stale confirmation discarded",
			zap.String("tx_id", tx.ID.String()),
			zap.String("network", ev.Network),
			zap.Int("observed", ev.Confirmations),
			zap.Int("current", tx.Confirmations))
	}
	return &ApplyResult{Transaction: tx, Outcome: outcome}, nil
}

// match resolves the transaction an event belongs to: by chain hash first,
// then by the oldest unlinked deposit to the event's address.
func (r *Reconciler) match(ctx context.Context, ev models.ConfirmationEvent) (uuid.UUID, error) {
	queries := r.ledger.store.Queries()
	tx, err := queries.GetTransactionByChainHash(ctx, ev.Network, ev.TxHash)
	if err == nil {
		return tx.ID, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return uuid.Nil, fmt.Errorf("get transaction by hash: %w", err)
	}
	if ev.ToAddress == "" {
		return uuid.Nil, fmt.Errorf("%w: %s on %s", domain.ErrUnknownTransaction, ev.TxHash, ev.Network)
	}

	tx, err = queries.FindUnmatchedDeposit(ctx, repository.FindUnmatchedDepositParams{
		Network:   ev.Network,
		ToAddress: ev.ToAddress,
		Amount:    ev.Amount,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return uuid.Nil, fmt.Errorf("%w: %s on %s", domain.ErrUnknownTransaction, ev.TxHash, ev.Network)
		}
		return uuid.Nil, fmt.Errorf("find unmatched deposit: %w", err)
	}
	return tx.ID, nil
}

// SweepTimeouts fails every reserved transaction that has waited longer than
// its network's confirmation timeout and releases its funds. Withdrawals
// claimed for broadcast that never got a hash are reported, not released. It
// returns how many transactions were failed.
func (r *Reconciler) SweepTimeouts(ctx context.Context, now time.Time) (int, error) {
	failed := 0
	for _, net := range r.registry.All() {
		cutoff := now.UTC().Add(-net.ConfirmationTimeout)
		expired, err := r.ledger.store.Queries().ListExpired(ctx, net.Code, cutoff, sweepBatchSize)
		if err != nil {
			return failed, err
		}
		for _, tx := range expired {
			if err := ctx.Err(); err != nil {
				return failed, err
			}
			_, err := r.ledger.Mutate(ctx, tx.ID, nil, func(t *LedgerTx) error {
				if domain.IsTerminal(t.Tx.Status) || awaitingHash(t.Tx) {
					return nil
				}
				return t.Settle(domain.TxStatusFailed, domain.ReasonConfirmationTimeout, map[string]any{
					"timeout": net.ConfirmationTimeout.String(),
				})
			})
			if err != nil {
				zap.L().Error("timeout sweep failed for transaction", zap.String("tx_id", tx.ID.String()), zap.Error(err))
				continue
			}
			failed++
		}

		unlinked, err := r.ledger.store.Queries().CountUnlinkedBroadcasts(ctx, net.Code, cutoff)
		if err != nil {
			return failed, err
		}
		if unlinked > 0 {
			zap.L().Error("withdrawals handed to the signer have no chain hash; investigate before releasing funds",
				zap.String("network", net.Code),
				zap.Int64("count", unlinked))
		}
	}
	if failed > 0 {
		zap.L().Warn("transactions timed out", zap.Int("count", failed))
	}
	return failed, nil
}

// awaitingHash reports a withdrawal that was claimed for broadcast but whose
// chain hash was never recorded.
func awaitingHash(tx models.Transaction) bool {
	return domain.IsWithdrawalKind(tx.Kind) && tx.Status == domain.TxStatusProcessing && tx.ChainHash == nil
}
