// Package archive copies settled transactions and their history into MongoDB
// for long-term retention and reporting.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/crypto-ledger/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionName = "transactions"

type historyDoc struct {
	ActorID       string    `bson:"actor_id,omitempty"`
	Action        string    `bson:"action"`
	PrevStatus    string    `bson:"prev_status,omitempty"`
	NextStatus    string    `bson:"next_status"`
	Confirmations int       `bson:"confirmations"`
	Metadata      string    `bson:"metadata,omitempty"`
	CreatedAt     time.Time `bson:"created_at"`
}

type transactionDoc struct {
	ID                    string       `bson:"_id"`
	UserID                string       `bson:"user_id"`
	Kind                  string       `bson:"kind"`
	Network               string       `bson:"network"`
	Amount                int64        `bson:"amount"`
	Fee                   int64        `bson:"fee"`
	USDAmount             *int64       `bson:"usd_amount,omitempty"`
	FromAddress           string       `bson:"from_address,omitempty"`
	ToAddress             string       `bson:"to_address,omitempty"`
	ChainHash             string       `bson:"chain_hash,omitempty"`
	Status                string       `bson:"status"`
	Reason                string       `bson:"reason,omitempty"`
	Confirmations         int          `bson:"confirmations"`
	RequiredConfirmations int          `bson:"required_confirmations"`
	CreatedAt             time.Time    `bson:"created_at"`
	CompletedAt           *time.Time   `bson:"completed_at,omitempty"`
	ArchivedAt            time.Time    `bson:"archived_at"`
	History               []historyDoc `bson:"history"`
}

// Mongo upserts one document per transaction keyed by its id, so archiving
// the same transaction twice leaves a single copy.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

// NewMongo connects to uri and pings the server before returning.
func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Mongo{
		client: client,
		coll:   client.Database(database).Collection(collectionName),
		now:    time.Now,
	}, nil
}

func (m *Mongo) Archive(ctx context.Context, tx models.Transaction, history []models.HistoryEntry) error {
	doc := newDocument(tx, history, m.now().UTC())
	_, err := m.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("archive transaction %s: %w", tx.ID, err)
	}
	return nil
}

// Ping reports whether the archive is reachable.
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func newDocument(tx models.Transaction, history []models.HistoryEntry, archivedAt time.Time) transactionDoc {
	doc := transactionDoc{
		ID:                    tx.ID.String(),
		UserID:                tx.UserID.String(),
		Kind:                  tx.Kind,
		Network:               tx.Network,
		Amount:                tx.Amount,
		Fee:                   tx.Fee,
		USDAmount:             tx.USDAmount,
		FromAddress:           tx.FromAddress,
		ToAddress:             tx.ToAddress,
		Status:                tx.Status,
		Reason:                tx.Reason,
		Confirmations:         tx.Confirmations,
		RequiredConfirmations: tx.RequiredConfirmations,
		CreatedAt:             tx.CreatedAt,
		CompletedAt:           tx.CompletedAt,
		ArchivedAt:            archivedAt,
		History:               make([]historyDoc, 0, len(history)),
	}
	if tx.ChainHash != nil {
		doc.ChainHash = *tx.ChainHash
	}
	for _, h := range history {
		entry := historyDoc{
			Action:        h.Action,
			PrevStatus:    h.PrevStatus,
			NextStatus:    h.NextStatus,
			Confirmations: h.Confirmations,
			Metadata:      string(h.Metadata),
			CreatedAt:     h.CreatedAt,
		}
		if h.ActorID != nil {
			entry.ActorID = h.ActorID.String()
		}
		doc.History = append(doc.History, entry)
	}
	return doc
}
