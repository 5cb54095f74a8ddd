package gateway

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrRejected marks a request the signer refused outright. Callers treat it
// and any other error as a failed broadcast.
var ErrRejected = errors.New("broadcast rejected")

// BroadcastRequest describes one withdrawal to sign and send.
type BroadcastRequest struct {
	TransactionID uuid.UUID
	Network       string
	Destination   string
	Amount        int64
	Fee           int64
}

// Broadcaster is the signing and broadcast boundary. Keys never enter this
// process; the implementation returns the chain hash of the broadcast
// transaction.
type Broadcaster interface {
	Broadcast(ctx context.Context, req BroadcastRequest) (string, error)
}
