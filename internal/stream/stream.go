// Package stream carries confirmation events from chain watchers to the
// reconciler.
package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/ayo6706/crypto-ledger/internal/models"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("stream closed")

// Handler consumes one event. A returned error is logged and the event is
// dropped; watchers observe in-flight hashes again on their next poll.
type Handler func(ctx context.Context, ev models.ConfirmationEvent) error

type Publisher interface {
	Publish(ctx context.Context, ev models.ConfirmationEvent) error
	Close() error
}

// Subscriber delivers events to h until ctx is cancelled.
type Subscriber interface {
	Consume(ctx context.Context, h Handler) error
	Close() error
}

// Channel is an in-process stream backed by a buffered channel.
type Channel struct {
	events    chan models.ConfirmationEvent
	done      chan struct{}
	closeOnce sync.Once
}

func NewChannel(buffer int) *Channel {
	if buffer < 0 {
		buffer = 0
	}
	return &Channel{
		events: make(chan models.ConfirmationEvent, buffer),
		done:   make(chan struct{}),
	}
}

func (c *Channel) Publish(ctx context.Context, ev models.ConfirmationEvent) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Channel) Consume(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case ev := <-c.events:
			deliver(ctx, h, ev)
		}
	}
}

func (c *Channel) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func deliver(ctx context.Context, h Handler, ev models.ConfirmationEvent) {
	if err := h(ctx, ev); err != nil {
		zap.L().Warn("confirmation event dropped",
			zap.String("network", ev.Network),
			zap.String("tx_hash", ev.TxHash),
			zap.Error(err),
		)
	}
}
