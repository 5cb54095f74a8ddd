package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Wallet struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	Network         string    `json:"network"`
	Address         string    `json:"address"`
	DerivationIndex *int64    `json:"derivation_index,omitempty"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
}

// Balance amounts are minor units of the network's ledger precision.
type Balance struct {
	UserID            uuid.UUID `json:"user_id"`
	Network           string    `json:"network"`
	Available         int64     `json:"available"`
	PendingDeposit    int64     `json:"pending_deposit"`
	PendingWithdrawal int64     `json:"pending_withdrawal"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type Transaction struct {
	ID                    uuid.UUID  `json:"id"`
	UserID                uuid.UUID  `json:"user_id"`
	Kind                  string     `json:"kind"`
	Network               string     `json:"network"`
	Amount                int64      `json:"amount"`
	Fee                   int64      `json:"fee"`
	USDAmount             *int64     `json:"usd_amount,omitempty"`
	FromAddress           string     `json:"from_address,omitempty"`
	ToAddress             string     `json:"to_address,omitempty"`
	ChainHash             *string    `json:"chain_hash,omitempty"`
	Status                string     `json:"status"`
	Confirmations         int        `json:"confirmations"`
	RequiredConfirmations int        `json:"required_confirmations"`
	ReservedAt            *time.Time `json:"reserved_at,omitempty"`
	Reason                string     `json:"reason,omitempty"`
	Notes                 string     `json:"notes,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
}

// HistoryEntry is one append-only row of a transaction's status trail.
type HistoryEntry struct {
	ID            int64           `json:"id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	ActorID       *uuid.UUID      `json:"actor_id,omitempty"`
	Action        string          `json:"action"`
	PrevStatus    string          `json:"prev_status,omitempty"`
	NextStatus    string          `json:"next_status"`
	Confirmations int             `json:"confirmations"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ConfirmationEvent is an observation of a chain transaction, delivered by
// watchers, the event stream or the internal webhook.
type ConfirmationEvent struct {
	Network       string `json:"network"`
	TxHash        string `json:"tx_hash"`
	Confirmations int    `json:"confirmations"`
	ToAddress     string `json:"to_address,omitempty"`
	Amount        *int64 `json:"amount,omitempty"`
	Invalidated   bool   `json:"invalidated,omitempty"`
}
