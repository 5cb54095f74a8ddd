package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/ayo6706/crypto-ledger/internal/domain"
	"github.com/ayo6706/crypto-ledger/internal/models"
	"github.com/ayo6706/crypto-ledger/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdminService is the only way out of PENDING_ADMIN_APPROVAL.
type AdminService struct {
	ledger      *Ledger
	withdrawals *WithdrawalService
}

func NewAdminService(ledger *Ledger, withdrawals *WithdrawalService) *AdminService {
	return &AdminService{ledger: ledger, withdrawals: withdrawals}
}

// ApproveRequest holds an admin approval. ChainHash optionally links a
// manual deposit to its on-chain transaction.
type ApproveRequest struct {
	TransactionID uuid.UUID
	ActorID       uuid.UUID
	ChainHash     string
}

// Approve moves a manual request to PENDING and applies the reservation that
// was deferred at intake. A manual deposit must carry a chain hash, from
// intake or from req. Approved withdrawals are then dispatched.
func (s *AdminService) Approve(ctx context.Context, req ApproveRequest) (models.Transaction, error) {
	hash := strings.TrimSpace(req.ChainHash)
	tx, err := s.ledger.Mutate(ctx, req.TransactionID, &req.ActorID, func(t *LedgerTx) error {
		if t.Tx.Status != domain.TxStatusPendingAdminApproval {
			return fmt.Errorf("%w: transaction is %s", domain.ErrInvalidStateTransition, t.Tx.Status)
		}
		switch t.Tx.Kind {
		case domain.KindManualDepositRequest:
			if hash != "" {
				if err := t.AttachChainHash(hash); err != nil {
					return err
				}
			}
			// Confirmations are matched by hash only; a hashless claim could
			// never settle.
			if t.Tx.ChainHash == nil {
				return fmt.Errorf("%w: manual deposit needs a chain hash to be approved", domain.ErrInvalidStateTransition)
			}
		case domain.KindManualWithdrawalRequest:
		default:
			return fmt.Errorf("%w: %s does not need approval", domain.ErrInvalidStateTransition, t.Tx.Kind)
		}
		if err := t.Hold(); err != nil {
			return err
		}
		return t.Transition(domain.TxStatusPending, domain.ActionApproved, "", nil)
	})
	if err != nil {
		return models.Transaction{}, err
	}
	s.refreshQueueSize(ctx)

	zap.L().Info("transaction approved",
		zap.String("tx_id", tx.ID.String()),
		zap.String("kind", tx.Kind),
		zap.String("actor_id", req.ActorID.String()))

	if tx.Kind == domain.KindManualWithdrawalRequest && s.withdrawals != nil && s.withdrawals.inlineDispatch {
		dispatched, err := s.withdrawals.Dispatch(ctx, tx.ID)
		if err != nil {
			zap.L().Error("dispatch after approval failed; left for dispatch worker", zap.String("tx_id", tx.ID.String()), zap.Error(err))
			return tx, nil
		}
		return dispatched, nil
	}
	return tx, nil
}

// Reject closes a manual request with no balance effect.
func (s *AdminService) Reject(ctx context.Context, txID, actorID uuid.UUID, note string) (models.Transaction, error) {
	tx, err := s.ledger.Mutate(ctx, txID, &actorID, func(t *LedgerTx) error {
		if t.Tx.Status != domain.TxStatusPendingAdminApproval {
			return fmt.Errorf("%w: transaction is %s", domain.ErrInvalidStateTransition, t.Tx.Status)
		}
		var metadata map[string]any
		if note = strings.TrimSpace(note); note != "" {
			metadata = map[string]any{"note": note}
		}
		return t.Transition(domain.TxStatusRejected, domain.ActionRejected, domain.ReasonAdminRejected, metadata)
	})
	if err != nil {
		return models.Transaction{}, err
	}
	s.refreshQueueSize(ctx)

	zap.L().Info("transaction rejected",
		zap.String("tx_id", tx.ID.String()),
		zap.String("actor_id", actorID.String()))
	return tx, nil
}

// ListPending returns the approval queue, oldest first, and its total size.
func (s *AdminService) ListPending(ctx context.Context, limit, offset int) ([]models.Transaction, int64, error) {
	queries := s.ledger.store.Queries()
	items, err := queries.ListTransactionsByStatus(ctx, domain.TxStatusPendingAdminApproval, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := queries.CountTransactionsByStatus(ctx, domain.TxStatusPendingAdminApproval)
	if err != nil {
		return nil, 0, fmt.Errorf("count pending approvals: %w", err)
	}
	observability.SetApprovalQueueSize(total)
	return items, total, nil
}

func (s *AdminService) refreshQueueSize(ctx context.Context) {
	total, err := s.ledger.store.Queries().CountTransactionsByStatus(ctx, domain.TxStatusPendingAdminApproval)
	if err != nil {
		zap.L().Warn("count pending approvals failed", zap.Error(err))
		return
	}
	observability.SetApprovalQueueSize(total)
}
