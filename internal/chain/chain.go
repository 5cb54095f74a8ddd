// Package chain observes in-flight transactions on their blockchains and
// turns what it sees into confirmation events.
package chain

import (
	"context"
	"fmt"

	"github.com/ayo6706/crypto-ledger/internal/network"
	"github.com/shopspring/decimal"
)

const (
	// scanLookback is how many recent blocks a scanner revisits when it starts
	// or resumes after having nothing to watch.
	scanLookback = 6
	// maxScanBlocks bounds the blocks fetched in one Scan call.
	maxScanBlocks = 50
)

// Status is a node's view of one transaction.
type Status struct {
	Found         bool
	Confirmations int
	// Failed marks a transaction that was mined but reverted.
	Failed bool
}

// Client queries a single chain node.
type Client interface {
	Status(ctx context.Context, hash string) (Status, error)
	Close()
}

// Transfer is a payment into a watched address seen on chain.
type Transfer struct {
	TxHash    string
	ToAddress string
	// Amount is in whole network units, e.g. BTC rather than satoshi.
	Amount        decimal.Decimal
	Confirmations int
}

// Scanner finds payments to watched addresses that the ledger has not linked
// to a hash yet. Implementations keep their own position between calls; an
// empty address list only moves that position forward.
type Scanner interface {
	Scan(ctx context.Context, addresses []string) ([]Transfer, error)
}

// blockCursor tracks the next block height a scanner reads.
type blockCursor struct {
	next    uint64
	started bool
}

// window returns the heights to read for head, or ok=false when there is
// nothing to read. Idle calls skip ahead to the lookback floor.
func (c *blockCursor) window(head uint64, idle bool) (from, to uint64, ok bool) {
	var floor uint64
	if head+1 > scanLookback {
		floor = head + 1 - scanLookback
	}
	if !c.started {
		c.next = floor
		c.started = true
	}
	if idle {
		if c.next < floor {
			c.next = floor
		}
		return 0, 0, false
	}
	if c.next > head {
		return 0, 0, false
	}
	to = head
	if to-c.next+1 > maxScanBlocks {
		to = c.next + maxScanBlocks - 1
	}
	return c.next, to, true
}

func (c *blockCursor) advance(to uint64) {
	c.next = to + 1
}

// Dial opens a client for net's address grammar against endpoint.
func Dial(ctx context.Context, net network.Network, endpoint string) (Client, error) {
	switch net.AddressGrammar {
	case network.GrammarEVM:
		return DialEVM(ctx, endpoint)
	case network.GrammarBitcoin:
		return DialBitcoin(endpoint)
	case network.GrammarSolana:
		return NewSolana(endpoint), nil
	default:
		return nil, fmt.Errorf("no chain client for %s (%s)", net.Code, net.AddressGrammar)
	}
}
