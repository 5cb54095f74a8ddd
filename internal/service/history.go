package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ayo6706/crypto-ledger/internal/repository"
	"github.com/google/uuid"
)

// HistoryWriter appends immutable transaction history entries.
type HistoryWriter struct{}

func NewHistoryWriter() *HistoryWriter {
	return &HistoryWriter{}
}

// Write stores a single history record inside the caller's transaction.
func (h *HistoryWriter) Write(ctx context.Context, qtx *repository.Queries, transactionID uuid.UUID, actorID *uuid.UUID, action, prevStatus, nextStatus string, confirmations int, metadata map[string]any, at time.Time) error {
	var encoded []byte
	if len(metadata) > 0 {
		var err error
		encoded, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("encode history metadata: %w", err)
		}
	}

	if err := qtx.InsertHistory(ctx, repository.InsertHistoryParams{
		TransactionID: transactionID,
		ActorID:       actorID,
		Action:        action,
		PrevStatus:    prevStatus,
		NextStatus:    nextStatus,
		Confirmations: confirmations,
		Metadata:      encoded,
		CreatedAt:     at,
	}); err != nil {
		return fmt.Errorf("insert transaction history: %w", err)
	}
	return nil
}
