package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/crypto-ledger/internal/domain"
	"github.com/ayo6706/crypto-ledger/internal/gateway"
	"github.com/ayo6706/crypto-ledger/internal/models"
	"github.com/ayo6706/crypto-ledger/internal/network"
	"github.com/ayo6706/crypto-ledger/internal/observability"
	"github.com/ayo6706/crypto-ledger/internal/oracle"
	"github.com/ayo6706/crypto-ledger/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	linkAttempts   = 3
	linkRetryDelay = 50 * time.Millisecond
)

// WithdrawalService reserves withdrawals and hands them to the signer.
type WithdrawalService struct {
	ledger         *Ledger
	registry       *network.Registry
	broadcaster    gateway.Broadcaster
	oracle         oracle.Oracle
	inlineDispatch bool
}

func NewWithdrawalService(ledger *Ledger, registry *network.Registry, broadcaster gateway.Broadcaster, o oracle.Oracle) *WithdrawalService {
	return &WithdrawalService{
		ledger:         ledger,
		registry:       registry,
		broadcaster:    broadcaster,
		oracle:         o,
		inlineDispatch: true,
	}
}

// WithInlineDispatch controls whether RequestWithdrawal broadcasts before
// returning. When disabled the dispatch worker picks the withdrawal up.
func (s *WithdrawalService) WithInlineDispatch(enabled bool) *WithdrawalService {
	s.inlineDispatch = enabled
	return s
}

// WithdrawalRequest holds the parameters of a withdrawal.
type WithdrawalRequest struct {
	UserID      uuid.UUID
	Network     string
	Amount      int64
	Destination string
}

func (s *WithdrawalService) validate(req WithdrawalRequest) (network.Network, string, error) {
	net, err := s.registry.Get(req.Network)
	if err != nil {
		return network.Network{}, "", err
	}
	if err := net.CheckAmount(req.Amount); err != nil {
		return network.Network{}, "", err
	}
	dest := strings.TrimSpace(req.Destination)
	if err := net.ValidateAddress(dest); err != nil {
		return network.Network{}, "", err
	}
	return net, dest, nil
}

// RequestWithdrawal moves amount plus the network fee from available to
// pending_withdrawal and, with inline dispatch, broadcasts it. A failed
// broadcast is reported through the returned transaction's FAILED status,
// not as an error.
func (s *WithdrawalService) RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (models.Transaction, error) {
	net, dest, err := s.validate(req)
	if err != nil {
		return models.Transaction{}, err
	}

	tx, err := s.ledger.Reserve(ctx, ReserveParams{
		UserID:                req.UserID,
		Kind:                  domain.KindWithdrawal,
		Network:               net.Code,
		Amount:                req.Amount,
		Fee:                   net.WithdrawalFee,
		USDAmount:             usdSnapshot(ctx, s.oracle, s.registry.Fiat(), net, req.Amount),
		ToAddress:             dest,
		Status:                domain.TxStatusPending,
		RequiredConfirmations: net.ConfirmationsRequired,
		ActorID:               &req.UserID,
		Hold:                  true,
	})
	if err != nil {
		return models.Transaction{}, err
	}
	if !s.inlineDispatch {
		return tx, nil
	}

	dispatched, err := s.Dispatch(ctx, tx.ID)
	if err != nil {
		zap.L().Error("inline dispatch failed; left for dispatch worker", zap.String("tx_id", tx.ID.String()), zap.Error(err))
		return tx, nil
	}
	return dispatched, nil
}

// SubmitManualWithdrawal records a withdrawal for admin review. Funds are
// reserved only when an admin approves it.
func (s *WithdrawalService) SubmitManualWithdrawal(ctx context.Context, req WithdrawalRequest) (models.Transaction, error) {
	net, dest, err := s.validate(req)
	if err != nil {
		return models.Transaction{}, err
	}
	return s.ledger.Reserve(ctx, ReserveParams{
		UserID:                req.UserID,
		Kind:                  domain.KindManualWithdrawalRequest,
		Network:               net.Code,
		Amount:                req.Amount,
		Fee:                   net.WithdrawalFee,
		USDAmount:             usdSnapshot(ctx, s.oracle, s.registry.Fiat(), net, req.Amount),
		ToAddress:             dest,
		Status:                domain.TxStatusPendingAdminApproval,
		RequiredConfirmations: net.ConfirmationsRequired,
		ActorID:               &req.UserID,
	})
}

// Dispatch claims a reserved PENDING withdrawal, broadcasts it outside any
// lock and links the resulting chain hash. A withdrawal somebody else already
// claimed is returned unchanged.
func (s *WithdrawalService) Dispatch(ctx context.Context, txID uuid.UUID) (models.Transaction, error) {
	claimed := false
	tx, err := s.ledger.Mutate(ctx, txID, nil, func(t *LedgerTx) error {
		if !domain.IsWithdrawalKind(t.Tx.Kind) || t.Tx.Status != domain.TxStatusPending ||
			t.Tx.ChainHash != nil || t.Tx.ReservedAt == nil {
			return nil
		}
		claimed = true
		return t.Transition(domain.TxStatusProcessing, domain.ActionDispatched, "", nil)
	})
	if err != nil || !claimed {
		return tx, err
	}

	hash, err := s.broadcaster.Broadcast(ctx, gateway.BroadcastRequest{
		TransactionID: tx.ID,
		Network:       tx.Network,
		Destination:   tx.ToAddress,
		Amount:        tx.Amount,
		Fee:           tx.Fee,
	})
	// The outcome must be recorded even if the caller went away mid-broadcast.
	settleCtx := context.WithoutCancel(ctx)
	if err != nil {
		observability.IncrementBroadcast(tx.Network, "rejected")
		zap.L().Warn("withdrawal broadcast failed",
			zap.String("tx_id", tx.ID.String()),
			zap.String("network", tx.Network),
			zap.Error(err))
		return s.ledger.Finalize(settleCtx, tx.ID, domain.TxStatusFailed, domain.ReasonBroadcastRejected, nil)
	}
	observability.IncrementBroadcast(tx.Network, "accepted")

	linked, err := s.linkHash(settleCtx, tx.ID, hash)
	if errors.Is(err, domain.ErrDuplicateChainHash) {
		zap.L().Error("signer returned a chain hash owned by another transaction",
			zap.String("tx_id", tx.ID.String()),
			zap.String("chain_hash", hash))
		return s.ledger.Finalize(settleCtx, tx.ID, domain.TxStatusFailed, domain.ReasonDuplicateChainHash, nil)
	}
	if err != nil {
		observability.IncrementBroadcast(tx.Network, "unlinked")
		zap.L().Error("withdrawal sent but its chain hash was not recorded; left PROCESSING for investigation",
			zap.String("tx_id", tx.ID.String()),
			zap.String("network", tx.Network),
			zap.String("chain_hash", hash),
			zap.Error(err))
		return models.Transaction{}, fmt.Errorf("link chain hash %s: %w", hash, err)
	}

	zap.L().Info("withdrawal broadcast",
		zap.String("tx_id", linked.ID.String()),
		zap.String("network", linked.Network),
		zap.String("chain_hash", hash))
	return linked, nil
}

// linkHash records hash on a dispatched withdrawal, retrying transient
// failures. Attaching the same hash twice is a no-op.
func (s *WithdrawalService) linkHash(ctx context.Context, txID uuid.UUID, hash string) (models.Transaction, error) {
	var err error
	for attempt := 1; attempt <= linkAttempts; attempt++ {
		var linked models.Transaction
		linked, err = s.ledger.Mutate(ctx, txID, nil, func(t *LedgerTx) error {
			return t.AttachChainHash(hash)
		})
		if err == nil || errors.Is(err, domain.ErrDuplicateChainHash) || errors.Is(err, domain.ErrInvalidStateTransition) {
			return linked, err
		}
		zap.L().Warn("link chain hash failed",
			zap.String("tx_id", txID.String()),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < linkAttempts {
			time.Sleep(linkRetryDelay * time.Duration(attempt))
		}
	}
	return models.Transaction{}, err
}

// DispatchPending broadcasts reserved withdrawals that were not dispatched
// inline, oldest first. It returns how many it claimed.
func (s *WithdrawalService) DispatchPending(ctx context.Context, batchSize int) (int, error) {
	pending, err := s.ledger.store.Queries().ListUndispatchedWithdrawals(ctx, batchSize)
	if err != nil {
		return 0, err
	}
	dispatched := 0
	for _, tx := range pending {
		if err := ctx.Err(); err != nil {
			return dispatched, err
		}
		out, err := s.Dispatch(ctx, tx.ID)
		if err != nil {
			zap.L().Error("dispatch withdrawal failed", zap.String("tx_id", tx.ID.String()), zap.Error(err))
			continue
		}
		if out.Status != domain.TxStatusPending {
			dispatched++
		}
	}
	return dispatched, nil
}

// CancelWithdrawal cancels a withdrawal the user owns while it has not been
// handed to the signer, releasing any reservation.
func (s *WithdrawalService) CancelWithdrawal(ctx context.Context, userID, txID uuid.UUID) (models.Transaction, error) {
	current, err := s.ledger.store.Queries().GetTransaction(ctx, txID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.Transaction{}, fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, txID)
		}
		return models.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	if current.UserID != userID {
		return models.Transaction{}, fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, txID)
	}
	if !domain.IsWithdrawalKind(current.Kind) {
		return models.Transaction{}, fmt.Errorf("%w: %s is not a withdrawal", domain.ErrInvalidStateTransition, txID)
	}

	return s.ledger.Mutate(ctx, txID, &userID, func(t *LedgerTx) error {
		switch {
		case t.Tx.Status == domain.TxStatusCancelled:
			return nil
		case t.Tx.Status == domain.TxStatusPending && t.Tx.ChainHash == nil,
			t.Tx.Status == domain.TxStatusPendingAdminApproval:
			return t.Settle(domain.TxStatusCancelled, domain.ReasonUserCancelled, nil)
		default:
			return fmt.Errorf("%w: cannot cancel a %s withdrawal", domain.ErrInvalidStateTransition, t.Tx.Status)
		}
	})
}
