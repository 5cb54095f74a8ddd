package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/crypto-ledger/internal/addressing"
	"github.com/ayo6706/crypto-ledger/internal/domain"
	"github.com/ayo6706/crypto-ledger/internal/models"
	"github.com/ayo6706/crypto-ledger/internal/network"
	"github.com/ayo6706/crypto-ledger/internal/oracle"
	"github.com/ayo6706/crypto-ledger/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const walletAllocationAttempts = 3

// DepositService creates automatic and manual deposit intents.
type DepositService struct {
	ledger    *Ledger
	registry  *network.Registry
	allocator addressing.Allocator
	oracle    oracle.Oracle
}

func NewDepositService(ledger *Ledger, registry *network.Registry, allocator addressing.Allocator, o oracle.Oracle) *DepositService {
	return &DepositService{
		ledger:    ledger,
		registry:  registry,
		allocator: allocator,
		oracle:    o,
	}
}

// DepositRequest holds the parameters of an automatic deposit intent.
type DepositRequest struct {
	UserID  uuid.UUID
	Network string
	Amount  int64
}

// DepositResult is the created transaction and the address to pay into.
type DepositResult struct {
	Transaction models.Transaction `json:"transaction"`
	Address     string             `json:"address"`
}

// RequestDeposit reserves a pending deposit against a deposit address owned
// by the user. The balance only becomes available once the reconciler sees
// enough confirmations.
func (s *DepositService) RequestDeposit(ctx context.Context, req DepositRequest) (*DepositResult, error) {
	net, err := s.registry.Get(req.Network)
	if err != nil {
		return nil, err
	}
	if err := net.CheckAmount(req.Amount); err != nil {
		return nil, err
	}

	wallet, err := s.walletFor(ctx, req.UserID, net)
	if err != nil {
		return nil, err
	}

	tx, err := s.ledger.Reserve(ctx, ReserveParams{
		UserID:                req.UserID,
		Kind:                  domain.KindDeposit,
		Network:               net.Code,
		Amount:                req.Amount,
		USDAmount:             usdSnapshot(ctx, s.oracle, s.registry.Fiat(), net, req.Amount),
		ToAddress:             wallet.Address,
		Status:                domain.TxStatusPending,
		RequiredConfirmations: net.ConfirmationsRequired,
		ActorID:               &req.UserID,
		Hold:                  true,
	})
	if err != nil {
		return nil, err
	}
	return &DepositResult{Transaction: tx, Address: wallet.Address}, nil
}

// walletFor returns the user's newest active wallet on the network, or
// allocates a fresh one. Two allocations racing for the same derivation
// index collide on the unique address and the loser retries.
func (s *DepositService) walletFor(ctx context.Context, userID uuid.UUID, net network.Network) (models.Wallet, error) {
	queries := s.ledger.store.Queries()
	wallet, err := queries.GetActiveWallet(ctx, userID, net.Code)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return models.Wallet{}, fmt.Errorf("get active wallet: %w", err)
	}
	if s.allocator == nil {
		return models.Wallet{}, fmt.Errorf("%w: %s", addressing.ErrNoAddressSource, net.Code)
	}

	for attempt := 0; attempt < walletAllocationAttempts; attempt++ {
		index, err := queries.NextDerivationIndex(ctx, net.Code)
		if err != nil {
			return models.Wallet{}, fmt.Errorf("next derivation index: %w", err)
		}
		alloc, err := s.allocator.Allocate(ctx, net, index)
		if err != nil {
			return models.Wallet{}, fmt.Errorf("allocate address: %w", err)
		}
		if err := net.ValidateAddress(alloc.Address); err != nil {
			return models.Wallet{}, fmt.Errorf("allocated address: %w", err)
		}

		idx := alloc.Index
		wallet = models.Wallet{
			ID:              uuid.New(),
			UserID:          userID,
			Network:         net.Code,
			Address:         alloc.Address,
			DerivationIndex: &idx,
			Active:          true,
			CreatedAt:       s.ledger.Now(),
		}
		err = queries.InsertWallet(ctx, wallet)
		if err == nil {
			zap.L().Info("wallet allocated",
				zap.String("user_id", userID.String()),
				zap.String("network", net.Code),
				zap.Int64("index", idx))
			return wallet, nil
		}
		if !repository.IsUniqueViolation(err) {
			return models.Wallet{}, fmt.Errorf("insert wallet: %w", err)
		}
	}
	return models.Wallet{}, fmt.Errorf("allocate wallet on %s: address contention", net.Code)
}

// ManualDepositRequest is a user's claim that funds were already sent.
type ManualDepositRequest struct {
	UserID      uuid.UUID
	Network     string
	Amount      int64
	FromAddress string
	TxHash      string
}

// SubmitManualDeposit records a deposit claim for admin review. Nothing is
// reserved until an admin approves it.
func (s *DepositService) SubmitManualDeposit(ctx context.Context, req ManualDepositRequest) (models.Transaction, error) {
	net, err := s.registry.Get(req.Network)
	if err != nil {
		return models.Transaction{}, err
	}
	if err := net.CheckAmount(req.Amount); err != nil {
		return models.Transaction{}, err
	}
	from := strings.TrimSpace(req.FromAddress)
	if err := net.ValidateAddress(from); err != nil {
		return models.Transaction{}, err
	}

	var hash *string
	if h := strings.TrimSpace(req.TxHash); h != "" {
		hash = &h
	}
	return s.ledger.Reserve(ctx, ReserveParams{
		UserID:                req.UserID,
		Kind:                  domain.KindManualDepositRequest,
		Network:               net.Code,
		Amount:                req.Amount,
		USDAmount:             usdSnapshot(ctx, s.oracle, s.registry.Fiat(), net, req.Amount),
		FromAddress:           from,
		ChainHash:             hash,
		Status:                domain.TxStatusPendingAdminApproval,
		RequiredConfirmations: net.ConfirmationsRequired,
		ActorID:               &req.UserID,
	})
}
