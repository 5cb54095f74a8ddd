package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/ayo6706/crypto-ledger/internal/domain"
	"github.com/ayo6706/crypto-ledger/internal/observability"
	"github.com/ayo6706/crypto-ledger/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IntegrityService verifies that every stored balance equals the balance
// implied by the transaction log.
type IntegrityService struct {
	store    QueryStore
	fiatCode string
}

// NewIntegrityService creates an integrity checker. fiatCode is the network
// code under which fiat balances are kept.
func NewIntegrityService(store QueryStore, fiatCode string) *IntegrityService {
	return &IntegrityService{store: store, fiatCode: fiatCode}
}

type pairKey struct {
	UserID  uuid.UUID
	Network string
}

type buckets struct {
	Available         int64
	PendingDeposit    int64
	PendingWithdrawal int64
}

// Mismatch is a balance that disagrees with the transaction log.
type Mismatch struct {
	UserID   uuid.UUID
	Network  string
	Stored   buckets
	Expected buckets
}

// Run recomputes all balances and reports every mismatch.
func (s *IntegrityService) Run(ctx context.Context) ([]Mismatch, error) {
	queries := s.store.Queries()
	totals, err := queries.SumTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("sum transactions: %w", err)
	}
	stored, err := queries.ListAllBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}

	expected := make(map[pairKey]*buckets)
	at := func(user uuid.UUID, network string) *buckets {
		k := pairKey{UserID: user, Network: network}
		b, ok := expected[k]
		if !ok {
			b = &buckets{}
			expected[k] = b
		}
		return b
	}
	for _, t := range totals {
		s.accumulate(at, t)
	}

	var mismatches []Mismatch
	seen := make(map[pairKey]struct{}, len(stored))
	for _, b := range stored {
		k := pairKey{UserID: b.UserID, Network: b.Network}
		seen[k] = struct{}{}
		got := buckets{Available: b.Available, PendingDeposit: b.PendingDeposit, PendingWithdrawal: b.PendingWithdrawal}
		want := buckets{}
		if e, ok := expected[k]; ok {
			want = *e
		}
		if got != want {
			mismatches = append(mismatches, Mismatch{UserID: b.UserID, Network: b.Network, Stored: got, Expected: want})
		}
	}
	for k, want := range expected {
		if _, ok := seen[k]; ok || *want == (buckets{}) {
			continue
		}
		mismatches = append(mismatches, Mismatch{UserID: k.UserID, Network: k.Network, Expected: *want})
	}
	sort.Slice(mismatches, func(i, j int) bool {
		if mismatches[i].Network != mismatches[j].Network {
			return mismatches[i].Network < mismatches[j].Network
		}
		return mismatches[i].UserID.String() < mismatches[j].UserID.String()
	})

	if len(mismatches) == 0 {
		zap.L().Info("ledger balanced", zap.Int("balances", len(stored)))
		return nil, nil
	}
	for _, m := range mismatches {
		observability.IncrementLedgerImbalance(m.Network)
		zap.L().Error("CRITICAL: balance disagrees with transaction log",
			zap.String("user_id", m.UserID.String()),
			zap.String("network", m.Network),
			zap.Int64("available", m.Stored.Available),
			zap.Int64("expected_available", m.Expected.Available),
			zap.Int64("pending_deposit", m.Stored.PendingDeposit),
			zap.Int64("expected_pending_deposit", m.Expected.PendingDeposit),
			zap.Int64("pending_withdrawal", m.Stored.PendingWithdrawal),
			zap.Int64("expected_pending_withdrawal", m.Expected.PendingWithdrawal))
	}
	return mismatches, nil
}

func (s *IntegrityService) accumulate(at func(uuid.UUID, string) *buckets, t repository.LedgerTotal) {
	inFlight := t.Status == domain.TxStatusPending || t.Status == domain.TxStatusProcessing || t.Status == domain.TxStatusConfirmed
	switch {
	case domain.IsDepositKind(t.Kind) && t.Reserved:
		b := at(t.UserID, t.Network)
		if inFlight {
			b.PendingDeposit += t.Amount
		} else if t.Status == domain.TxStatusCompleted {
			b.Available += t.Amount
		}
	case domain.IsWithdrawalKind(t.Kind) && t.Reserved:
		b := at(t.UserID, t.Network)
		if inFlight {
			b.PendingWithdrawal += t.Amount + t.Fee
		} else if t.Status == domain.TxStatusCompleted {
			b.Available -= t.Amount + t.Fee
		}
	case t.Kind == domain.KindConversionToFiat && t.Status == domain.TxStatusCompleted:
		at(t.UserID, t.Network).Available -= t.Amount
		at(t.UserID, s.fiatCode).Available += t.USDAmount
	case t.Kind == domain.KindConversionFromFiat && t.Status == domain.TxStatusCompleted:
		at(t.UserID, t.Network).Available += t.Amount
		at(t.UserID, s.fiatCode).Available -= t.USDAmount
	}
}
