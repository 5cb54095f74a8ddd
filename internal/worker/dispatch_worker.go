package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/crypto-ledger/internal/observability"
	"github.com/ayo6706/crypto-ledger/internal/service"
	"go.uber.org/zap"
)

// DispatchWorker hands reserved withdrawals to the signer in the background.
// It picks up withdrawals left PENDING when inline dispatch is off or failed,
// and manual withdrawals right after approval.
type DispatchWorker struct {
	*ticker
	withdrawals *service.WithdrawalService
	batchSize   int
}

func NewDispatchWorker(withdrawals *service.WithdrawalService) *DispatchWorker {
	return &DispatchWorker{
		ticker:      newTicker("dispatch", 10*time.Second),
		withdrawals: withdrawals,
		batchSize:   10,
	}
}

// WithPollInterval sets the poll interval for the worker.
func (w *DispatchWorker) WithPollInterval(interval time.Duration) *DispatchWorker {
	w.setInterval(interval)
	return w
}

// WithBatchSize sets how many withdrawals one poll may dispatch.
func (w *DispatchWorker) WithBatchSize(size int) *DispatchWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks until Stop is called or ctx is cancelled.
func (w *DispatchWorker) Start(ctx context.Context) {
	w.loop(ctx, false, func(ctx context.Context) {
		if _, err := w.ProcessOnce(ctx); err != nil {
			zap.L().Error("dispatch batch failed", zap.Error(err))
		}
	})
}

// ProcessOnce dispatches a single batch immediately.
func (w *DispatchWorker) ProcessOnce(ctx context.Context) (int, error) {
	n, err := w.withdrawals.DispatchPending(ctx, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("dispatch", "failed")
		return n, err
	}
	observability.IncrementWorkerRun("dispatch", "success")
	return n, nil
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *DispatchWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *DispatchWorker) String() string {
	return fmt.Sprintf("DispatchWorker(interval=%v, batch=%d)", w.interval, w.batchSize)
}
