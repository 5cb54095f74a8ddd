package worker

import (
	"context"
	"time"

	"github.com/ayo6706/crypto-ledger/internal/observability"
	"github.com/ayo6706/crypto-ledger/internal/service"
	"go.uber.org/zap"
)

// SweepWorker fails transactions that outlived their network's confirmation
// timeout and releases what they held.
type SweepWorker struct {
	*ticker
	reconciler *service.Reconciler
	purger     Purger
	now        func() time.Time
}

// Purger drops expired idempotency records.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

func NewSweepWorker(reconciler *service.Reconciler, now func() time.Time) *SweepWorker {
	if now == nil {
		now = time.Now
	}
	return &SweepWorker{
		ticker:     newTicker("timeout_sweep", time.Minute),
		reconciler: reconciler,
		now:        now,
	}
}

func (w *SweepWorker) WithInterval(interval time.Duration) *SweepWorker {
	w.setInterval(interval)
	return w
}

// WithPurger makes each sweep also purge expired idempotency keys.
func (w *SweepWorker) WithPurger(p Purger) *SweepWorker {
	w.purger = p
	return w
}

func (w *SweepWorker) Start(ctx context.Context) {
	w.loop(ctx, true, func(ctx context.Context) {
		_, _ = w.SweepOnce(ctx)
		if w.purger == nil {
			return
		}
		if n, err := w.purger.Purge(ctx); err != nil {
			zap.L().Warn("idempotency purge failed", zap.Error(err))
		} else if n > 0 {
			zap.L().Debug("idempotency keys purged", zap.Int64("count", n))
		}
	})
}

func (w *SweepWorker) SweepOnce(ctx context.Context) (int, error) {
	n, err := w.reconciler.SweepTimeouts(ctx, w.now())
	if err != nil {
		observability.IncrementWorkerRun("timeout_sweep", "failed")
		zap.L().Error("timeout sweep failed", zap.Error(err))
		return n, err
	}
	if n > 0 {
		zap.L().Info("timed out transactions failed", zap.Int("count", n))
	}
	observability.IncrementWorkerRun("timeout_sweep", "success")
	return n, nil
}

func (w *SweepWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}
