package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/crypto-ledger/internal/models"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaPublisher writes events to a topic keyed by network and hash, so every
// observation of one transaction lands on the same partition in order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev models.ConfirmationEvent) error {
	msg, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write confirmation event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaSubscriber reads events as part of a consumer group and commits each
// offset once the handler has run.
type KafkaSubscriber struct {
	reader *kafka.Reader
}

func NewKafkaSubscriber(brokers []string, topic, group string) *KafkaSubscriber {
	return &KafkaSubscriber{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  group,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
	}
}

func (s *KafkaSubscriber) Consume(ctx context.Context, h Handler) error {
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch confirmation event: %w", err)
		}

		ev, err := decodeEvent(msg)
		if err != nil {
			zap.L().Warn("malformed confirmation event skipped",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		} else {
			deliver(ctx, h, ev)
		}

		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit confirmation event: %w", err)
		}
	}
}

func (s *KafkaSubscriber) Close() error {
	return s.reader.Close()
}

func encodeEvent(ev models.ConfirmationEvent) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal confirmation event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(strings.ToUpper(ev.Network) + ":" + ev.TxHash),
		Value: value,
	}, nil
}

func decodeEvent(msg kafka.Message) (models.ConfirmationEvent, error) {
	var ev models.ConfirmationEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return ev, fmt.Errorf("unmarshal confirmation event: %w", err)
	}
	if ev.TxHash == "" {
		return ev, errors.New("confirmation event without tx_hash")
	}
	return ev, nil
}
