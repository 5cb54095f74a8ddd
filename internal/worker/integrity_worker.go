package worker

import (
	"context"
	"time"

	"github.com/ayo6706/crypto-ledger/internal/observability"
	"github.com/ayo6706/crypto-ledger/internal/service"
	"go.uber.org/zap"
)

// IntegrityWorker periodically recomputes balances from transactions.
type IntegrityWorker struct {
	*ticker
	svc *service.IntegrityService
}

// NewIntegrityWorker constructs a worker with a default hourly interval.
func NewIntegrityWorker(svc *service.IntegrityService) *IntegrityWorker {
	return &IntegrityWorker{
		ticker: newTicker("integrity", time.Hour),
		svc:    svc,
	}
}

func (w *IntegrityWorker) WithInterval(interval time.Duration) *IntegrityWorker {
	w.setInterval(interval)
	return w
}

// Start runs a check immediately and then at the configured interval.
func (w *IntegrityWorker) Start(ctx context.Context) {
	w.loop(ctx, true, func(ctx context.Context) { _ = w.RunOnce(ctx) })
}

func (w *IntegrityWorker) RunOnce(ctx context.Context) error {
	mismatches, err := w.svc.Run(ctx)
	if err != nil {
		observability.IncrementWorkerRun("integrity", "failed")
		zap.L().Error("integrity check failed", zap.Error(err))
		return err
	}
	if len(mismatches) > 0 {
		observability.IncrementWorkerRun("integrity", "imbalanced")
		return nil
	}
	observability.IncrementWorkerRun("integrity", "success")
	return nil
}

func (w *IntegrityWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}
