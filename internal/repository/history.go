package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ayo6706/crypto-ledger/internal/models"
	"github.com/google/uuid"
)

type InsertHistoryParams struct {
	TransactionID uuid.UUID
	ActorID       *uuid.UUID
	Action        string
	PrevStatus    string
	NextStatus    string
	Confirmations int
	Metadata      []byte
	CreatedAt     time.Time
}

// InsertHistory appends one row to the transaction history. History rows are
// never updated or deleted.
func (q *Queries) InsertHistory(ctx context.Context, arg InsertHistoryParams) error {
	var metadata sql.NullString
	if len(arg.Metadata) > 0 {
		metadata = sql.NullString{String: string(arg.Metadata), Valid: true}
	}
	var prev sql.NullString
	if arg.PrevStatus != "" {
		prev = sql.NullString{String: arg.PrevStatus, Valid: true}
	}
	_, err := q.exec(ctx, `INSERT INTO transaction_history
		(transaction_id, actor_id, action, prev_status, next_status, confirmations, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		arg.TransactionID, arg.ActorID, arg.Action, prev, arg.NextStatus, arg.Confirmations, metadata, arg.CreatedAt.UTC())
	return err
}

func (q *Queries) ListHistory(ctx context.Context, transactionID uuid.UUID) ([]models.HistoryEntry, error) {
	rows, err := q.query(ctx, `SELECT id, transaction_id, actor_id, action, prev_status, next_status, confirmations, metadata, created_at
		FROM transaction_history WHERE transaction_id = $1 ORDER BY id ASC`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []models.HistoryEntry
	for rows.Next() {
		var (
			h        models.HistoryEntry
			actor    uuid.NullUUID
			prev     sql.NullString
			metadata sql.NullString
		)
		if err := rows.Scan(&h.ID, &h.TransactionID, &actor, &h.Action, &prev, &h.NextStatus, &h.Confirmations, &metadata, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if actor.Valid {
			id := actor.UUID
			h.ActorID = &id
		}
		h.PrevStatus = prev.String
		if metadata.Valid {
			h.Metadata = []byte(metadata.String)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
