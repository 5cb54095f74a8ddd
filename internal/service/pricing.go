package service

import (
	"context"

	"github.com/ayo6706/crypto-ledger/internal/domain"
	"github.com/ayo6706/crypto-ledger/internal/network"
	"github.com/ayo6706/crypto-ledger/internal/oracle"
	"go.uber.org/zap"
)

// usdSnapshot prices an intake amount for the write-once usd_amount column.
// An unavailable rate leaves the snapshot empty; intake never blocks on it.
func usdSnapshot(ctx context.Context, o oracle.Oracle, fiat network.Fiat, net network.Network, amount int64) *int64 {
	if o == nil {
		return nil
	}
	quote, err := o.Rate(ctx, net.Code)
	if err != nil {
		zap.L().Warn("usd snapshot unavailable", zap.String("network", net.Code), zap.Error(err))
		return nil
	}
	v := domain.NewMoney(amount, net.Code, net.Decimals).Convert(fiat.Code, fiat.Decimals, quote.Rate).Amount
	return &v
}
