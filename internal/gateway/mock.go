package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mrand "math/rand"
	"time"

	"github.com/gagliardetto/solana-go"
)

// MockBroadcaster simulates a signer for local runs. It sleeps for a random
// delay, fails at FailureRate and returns a hash shaped like the target chain's.
type MockBroadcaster struct {
	// FailureRate is the probability of rejection (0.0 to 1.0).
	FailureRate float64
	MaxDelay    time.Duration
}

func NewMockBroadcaster(failureRate float64) *MockBroadcaster {
	return &MockBroadcaster{
		FailureRate: failureRate,
		MaxDelay:    500 * time.Millisecond,
	}
}

func (g *MockBroadcaster) Broadcast(ctx context.Context, req BroadcastRequest) (string, error) {
	if g.MaxDelay > 0 {
		delay := time.Duration(mrand.Int63n(int64(g.MaxDelay)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", fmt.Errorf("broadcast canceled: %w", ctx.Err())
		}
	}

	if mrand.Float64() < g.FailureRate {
		return "", fmt.Errorf("%w: signer refused %s", ErrRejected, req.TransactionID)
	}
	return FakeChainHash(req.Network)
}

// FakeChainHash returns a random hash in the format used by the network.
func FakeChainHash(network string) (string, error) {
	switch network {
	case "SOL":
		var sig solana.Signature
		if _, err := rand.Read(sig[:]); err != nil {
			return "", err
		}
		return sig.String(), nil
	default:
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		if network == "BTC" {
			return hex.EncodeToString(buf), nil
		}
		return "0x" + hex.EncodeToString(buf), nil
	}
}
