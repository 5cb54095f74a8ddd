package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/crypto-ledger/internal/domain"
	"github.com/ayo6706/crypto-ledger/internal/models"
	"github.com/ayo6706/crypto-ledger/internal/repository"
	"github.com/google/uuid"
)

// AccountService serves the read side of a user's ledger.
type AccountService struct {
	store QueryStore
}

func NewAccountService(store QueryStore) *AccountService {
	return &AccountService{store: store}
}

func (s *AccountService) GetBalances(ctx context.Context, userID uuid.UUID) ([]models.Balance, error) {
	return s.store.Queries().ListUserBalances(ctx, userID)
}

func (s *AccountService) GetWallets(ctx context.Context, userID uuid.UUID) ([]models.Wallet, error) {
	return s.store.Queries().ListUserWallets(ctx, userID)
}

// GetStatement lists a user's transactions newest first, optionally for one
// network.
func (s *AccountService) GetStatement(ctx context.Context, userID uuid.UUID, network string, page, pageSize int) ([]models.Transaction, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return s.store.Queries().ListUserTransactions(ctx, repository.ListUserTransactionsParams{
		UserID:  userID,
		Network: strings.ToUpper(strings.TrimSpace(network)),
		Limit:   pageSize,
		Offset:  (page - 1) * pageSize,
	})
}

// TransactionDetail is a transaction with its full history.
type TransactionDetail struct {
	Transaction models.Transaction    `json:"transaction"`
	History     []models.HistoryEntry `json:"history"`
}

// GetTransaction returns a transaction the user owns. Admins pass
// asAdmin to read any transaction.
func (s *AccountService) GetTransaction(ctx context.Context, userID, txID uuid.UUID, asAdmin bool) (*TransactionDetail, error) {
	queries := s.store.Queries()
	tx, err := queries.GetTransaction(ctx, txID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, txID)
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if tx.UserID != userID && !asAdmin {
		return nil, fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, txID)
	}
	history, err := queries.ListHistory(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return &TransactionDetail{Transaction: tx, History: history}, nil
}
