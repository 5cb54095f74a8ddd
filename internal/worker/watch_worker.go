package worker

import (
	"context"
	"time"

	"github.com/ayo6706/crypto-ledger/internal/chain"
	"github.com/ayo6706/crypto-ledger/internal/observability"
	"go.uber.org/zap"
)

// WatchWorker polls one chain watcher.
type WatchWorker struct {
	*ticker
	watcher *chain.Watcher
}

func NewWatchWorker(watcher *chain.Watcher) *WatchWorker {
	return &WatchWorker{
		ticker:  newTicker("watch_"+watcher.Network(), 15*time.Second),
		watcher: watcher,
	}
}

func (w *WatchWorker) WithInterval(interval time.Duration) *WatchWorker {
	w.setInterval(interval)
	return w
}

func (w *WatchWorker) Start(ctx context.Context) {
	defer w.watcher.Close()
	w.loop(ctx, true, func(ctx context.Context) {
		n, err := w.watcher.Poll(ctx)
		if err != nil {
			observability.IncrementWorkerRun(w.name, "failed")
			zap.L().Error("chain poll failed", zap.String("network", w.watcher.Network()), zap.Error(err))
			return
		}
		if n > 0 {
			zap.L().Debug("chain events published", zap.String("network", w.watcher.Network()), zap.Int("count", n))
		}
		observability.IncrementWorkerRun(w.name, "success")
	})
}
