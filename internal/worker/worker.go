package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ticker runs a job at a fixed interval until its context is cancelled or
// Stop is called.
type ticker struct {
	name     string
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newTicker(name string, interval time.Duration) *ticker {
	return &ticker{name: name, interval: interval, stopCh: make(chan struct{})}
}

func (t *ticker) setInterval(d time.Duration) {
	if d > 0 {
		t.interval = d
	}
}

func (t *ticker) loop(ctx context.Context, immediate bool, job func(context.Context)) {
	zap.L().Info("worker starting", zap.String("worker", t.name), zap.Duration("interval", t.interval))
	tk := time.NewTicker(t.interval)
	defer tk.Stop()

	if immediate {
		job(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("worker context canceled", zap.String("worker", t.name))
			return
		case <-t.stopCh:
			zap.L().Info("worker stop signal received", zap.String("worker", t.name))
			return
		case <-tk.C:
			job(ctx)
		}
	}
}

// Stop signals the worker to stop. It is safe to call more than once.
func (t *ticker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}
