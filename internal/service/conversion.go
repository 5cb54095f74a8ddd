package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/crypto-ledger/internal/domain"
	"github.com/ayo6706/crypto-ledger/internal/lock"
	"github.com/ayo6706/crypto-ledger/internal/models"
	"github.com/ayo6706/crypto-ledger/internal/network"
	"github.com/ayo6706/crypto-ledger/internal/observability"
	"github.com/ayo6706/crypto-ledger/internal/oracle"
	"github.com/ayo6706/crypto-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ConversionService exchanges crypto balances against the fiat balance at
// the oracle rate of the moment.
type ConversionService struct {
	ledger   *Ledger
	registry *network.Registry
	oracle   oracle.Oracle
}

func NewConversionService(ledger *Ledger, registry *network.Registry, o oracle.Oracle) *ConversionService {
	return &ConversionService{ledger: ledger, registry: registry, oracle: o}
}

// ConversionRequest names the amount to give up: crypto minor units for
// ConvertToFiat, fiat minor units for ConvertFromFiat.
type ConversionRequest struct {
	UserID  uuid.UUID
	Network string
	Amount  int64
}

// ConversionResult reports both legs of a conversion.
type ConversionResult struct {
	Transaction  models.Transaction `json:"transaction"`
	CryptoAmount int64              `json:"crypto_amount"`
	FiatAmount   int64              `json:"fiat_amount"`
	Rate         decimal.Decimal    `json:"rate"`
}

// ConvertToFiat debits crypto and credits floor(amount x rate) of fiat.
func (s *ConversionService) ConvertToFiat(ctx context.Context, req ConversionRequest) (*ConversionResult, error) {
	net, quote, err := s.quote(ctx, req)
	if err != nil {
		return nil, err
	}
	fiat := s.registry.Fiat()
	fiatAmount := domain.NewMoney(req.Amount, net.Code, net.Decimals).Convert(fiat.Code, fiat.Decimals, quote.Rate).Amount
	if fiatAmount <= 0 {
		return nil, fmt.Errorf("%w: %s %s is worth less than one fiat unit", domain.ErrAmountOutOfRange,
			domain.FormatAmount(req.Amount, net.Decimals), net.Code)
	}

	tx, err := s.ledger.exchange(ctx, exchangeParams{
		UserID:       req.UserID,
		Kind:         domain.KindConversionToFiat,
		Network:      net.Code,
		CryptoAmount: req.Amount,
		FiatCode:     fiat.Code,
		FiatAmount:   fiatAmount,
		ToFiat:       true,
		Rate:         quote.Rate,
	})
	if err != nil {
		return nil, err
	}
	return &ConversionResult{Transaction: tx, CryptoAmount: req.Amount, FiatAmount: fiatAmount, Rate: quote.Rate}, nil
}

// ConvertFromFiat debits fiat and credits floor(amount / rate) of crypto.
func (s *ConversionService) ConvertFromFiat(ctx context.Context, req ConversionRequest) (*ConversionResult, error) {
	net, quote, err := s.quote(ctx, req)
	if err != nil {
		return nil, err
	}
	fiat := s.registry.Fiat()
	cryptoAmount := domain.NewMoney(req.Amount, fiat.Code, fiat.Decimals).ConvertInverse(net.Code, net.Decimals, quote.Rate).Amount
	if cryptoAmount <= 0 {
		return nil, fmt.Errorf("%w: %s %s buys less than one unit of %s", domain.ErrAmountOutOfRange,
			domain.FormatAmount(req.Amount, fiat.Decimals), fiat.Code, net.Code)
	}

	tx, err := s.ledger.exchange(ctx, exchangeParams{
		UserID:       req.UserID,
		Kind:         domain.KindConversionFromFiat,
		Network:      net.Code,
		CryptoAmount: cryptoAmount,
		FiatCode:     fiat.Code,
		FiatAmount:   req.Amount,
		Rate:         quote.Rate,
	})
	if err != nil {
		return nil, err
	}
	return &ConversionResult{Transaction: tx, CryptoAmount: cryptoAmount, FiatAmount: req.Amount, Rate: quote.Rate}, nil
}

func (s *ConversionService) quote(ctx context.Context, req ConversionRequest) (network.Network, oracle.Quote, error) {
	net, err := s.registry.Get(req.Network)
	if err != nil {
		return network.Network{}, oracle.Quote{}, err
	}
	if req.Amount <= 0 {
		return network.Network{}, oracle.Quote{}, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidAmount)
	}
	quote, err := s.oracle.Rate(ctx, net.Code)
	if err != nil {
		return network.Network{}, oracle.Quote{}, err
	}
	return net, quote, nil
}

type exchangeParams struct {
	UserID       uuid.UUID
	Kind         string
	Network      string
	CryptoAmount int64
	FiatCode     string
	FiatAmount   int64
	ToFiat       bool
	Rate         decimal.Decimal
}

// exchange moves value between the user's crypto and fiat balances and
// records a COMPLETED conversion. Both pair locks are held, in key order.
func (l *Ledger) exchange(ctx context.Context, p exchangeParams) (models.Transaction, error) {
	debitNet, debit, creditNet, credit := p.FiatCode, p.FiatAmount, p.Network, p.CryptoAmount
	if p.ToFiat {
		debitNet, debit, creditNet, credit = p.Network, p.CryptoAmount, p.FiatCode, p.FiatAmount
	}

	release, err := lock.LockAll(ctx, l.locker, lock.PairKey(p.UserID, debitNet), lock.PairKey(p.UserID, creditNet))
	if err != nil {
		return models.Transaction{}, err
	}
	defer release()

	now := l.Now()
	usd := p.FiatAmount
	tx := models.Transaction{
		ID:          uuid.New(),
		UserID:      p.UserID,
		Kind:        p.Kind,
		Network:     p.Network,
		Amount:      p.CryptoAmount,
		USDAmount:   &usd,
		Status:      domain.TxStatusCompleted,
		CreatedAt:   now,
		UpdatedAt:   now,
		CompletedAt: &now,
	}

	err = l.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		for _, code := range []string{debitNet, creditNet} {
			if err := qtx.EnsureBalance(ctx, p.UserID, code, now); err != nil {
				return fmt.Errorf("ensure balance: %w", err)
			}
		}
		bal, err := qtx.GetBalanceForUpdate(ctx, p.UserID, debitNet)
		if err != nil {
			return fmt.Errorf("lock balance: %w", err)
		}
		if bal.Available < debit {
			return fmt.Errorf("%w: need %d %s, available %d", domain.ErrInsufficientFunds, debit, debitNet, bal.Available)
		}
		if err := applyDelta(ctx, qtx, repository.ApplyBalanceDeltaParams{
			UserID: p.UserID, Network: debitNet, Available: -debit, UpdatedAt: now,
		}); err != nil {
			return err
		}
		if err := applyDelta(ctx, qtx, repository.ApplyBalanceDeltaParams{
			UserID: p.UserID, Network: creditNet, Available: credit, UpdatedAt: now,
		}); err != nil {
			return err
		}
		if err := qtx.InsertTransaction(ctx, tx); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		return l.history.Write(ctx, qtx, tx.ID, &p.UserID, domain.ActionCompleted, "", domain.TxStatusCompleted, 0, map[string]any{
			"rate":        p.Rate.String(),
			"fiat_amount": p.FiatAmount,
		}, now)
	})
	if err != nil {
		return models.Transaction{}, err
	}

	observability.IncrementTransition(tx.Kind, tx.Status)
	zap.L().Info("conversion completed",
		zap.String("tx_id", tx.ID.String()),
		zap.String("user_id", p.UserID.String()),
		zap.String("kind", p.Kind),
		zap.String("network", p.Network),
		zap.Int64("crypto_amount", p.CryptoAmount),
		zap.Int64("fiat_amount", p.FiatAmount),
		zap.String("rate", p.Rate.String()))
	l.archive(ctx, tx)
	return tx, nil
}
