package worker

import (
	"context"

	"github.com/ayo6706/crypto-ledger/internal/models"
	"github.com/ayo6706/crypto-ledger/internal/service"
	"github.com/ayo6706/crypto-ledger/internal/stream"
	"go.uber.org/zap"
)

// Consumer feeds confirmation events from the stream into the reconciler.
type Consumer struct {
	subscriber stream.Subscriber
	reconciler *service.Reconciler
}

func NewConsumer(subscriber stream.Subscriber, reconciler *service.Reconciler) *Consumer {
	return &Consumer{subscriber: subscriber, reconciler: reconciler}
}

// Start blocks until ctx is cancelled or the subscriber fails.
func (c *Consumer) Start(ctx context.Context) error {
	zap.L().Info("confirmation consumer starting")
	err := c.subscriber.Consume(ctx, c.handle)
	zap.L().Info("confirmation consumer stopped")
	return err
}

func (c *Consumer) handle(ctx context.Context, ev models.ConfirmationEvent) error {
	res, err := c.reconciler.Apply(ctx, ev)
	if err != nil {
		return err
	}
	zap.L().Debug("confirmation event applied",
		zap.String("network", ev.Network),
		zap.String("tx_hash", ev.TxHash),
		zap.String("outcome", res.Outcome),
	)
	return nil
}
