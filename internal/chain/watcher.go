package chain

import (
	"context"
	"fmt"
	"math"

	"github.com/ayo6706/crypto-ledger/internal/models"
	"github.com/ayo6706/crypto-ledger/internal/network"
	"github.com/ayo6706/crypto-ledger/internal/stream"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultWatchBatch = 500

// LedgerReader is what a watcher needs to know about the ledger.
type LedgerReader interface {
	// ListInFlight lists transactions of a network waiting on a known hash.
	ListInFlight(ctx context.Context, network string, limit int) ([]models.Transaction, error)
	// ListAwaitingDepositAddresses lists addresses with a deposit that has no
	// hash yet.
	ListAwaitingDepositAddresses(ctx context.Context, network string) ([]string, error)
}

// Watcher polls one network's node for every in-flight hash and publishes
// what changed. A hash that once had confirmations and is no longer found,
// or that reverted, is published as invalidated. When the client is also a
// Scanner, payments to addresses with an unlinked deposit are published with
// their address and amount so the reconciler can link them.
type Watcher struct {
	network   network.Network
	client    Client
	ledger    LedgerReader
	publisher stream.Publisher
	batch     int
}

func NewWatcher(net network.Network, client Client, ledger LedgerReader, publisher stream.Publisher) *Watcher {
	return &Watcher{
		network:   net,
		client:    client,
		ledger:    ledger,
		publisher: publisher,
		batch:     defaultWatchBatch,
	}
}

func (w *Watcher) Network() string {
	return w.network.Code
}

// Poll checks each in-flight transaction once, then scans for new deposits,
// and returns how many events were published.
func (w *Watcher) Poll(ctx context.Context) (int, error) {
	published, err := w.pollInFlight(ctx)
	if err != nil {
		return published, err
	}
	scanner, ok := w.client.(Scanner)
	if !ok {
		return published, nil
	}
	n, err := w.scan(ctx, scanner)
	return published + n, err
}

func (w *Watcher) pollInFlight(ctx context.Context) (int, error) {
	code := w.network.Code
	txs, err := w.ledger.ListInFlight(ctx, code, w.batch)
	if err != nil {
		return 0, fmt.Errorf("list in-flight %s: %w", code, err)
	}

	published := 0
	for _, tx := range txs {
		if tx.ChainHash == nil {
			continue
		}
		hash := *tx.ChainHash
		st, err := w.client.Status(ctx, hash)
		if err != nil {
			zap.L().Warn("chain status lookup failed",
				zap.String("network", code),
				zap.String("tx_hash", hash),
				zap.Error(err),
			)
			continue
		}

		ev, ok := observe(code, hash, tx.Confirmations, st)
		if !ok {
			continue
		}
		if err := w.publisher.Publish(ctx, ev); err != nil {
			return published, fmt.Errorf("publish %s event: %w", code, err)
		}
		published++
	}
	return published, nil
}

func (w *Watcher) scan(ctx context.Context, scanner Scanner) (int, error) {
	code := w.network.Code
	addresses, err := w.ledger.ListAwaitingDepositAddresses(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("list awaiting addresses %s: %w", code, err)
	}
	transfers, err := scanner.Scan(ctx, addresses)
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", code, err)
	}

	published := 0
	for _, t := range transfers {
		amount, ok := minorUnits(t.Amount, w.network.Decimals)
		if !ok {
			zap.L().Warn("transfer amount not representable in ledger units",
				zap.String("network", code),
				zap.String("tx_hash", t.TxHash),
				zap.String("amount", t.Amount.String()))
			continue
		}
		ev := models.ConfirmationEvent{
			Network:       code,
			TxHash:        t.TxHash,
			Confirmations: t.Confirmations,
			ToAddress:     t.ToAddress,
			Amount:        &amount,
		}
		if err := w.publisher.Publish(ctx, ev); err != nil {
			return published, fmt.Errorf("publish %s transfer: %w", code, err)
		}
		published++
	}
	return published, nil
}

// minorUnits converts a whole-unit amount to ledger units. Amounts finer than
// the ledger precision cannot equal a requested deposit and are refused.
func minorUnits(amount decimal.Decimal, decimals int32) (int64, bool) {
	minor := amount.Shift(decimals)
	if !minor.IsInteger() || minor.Sign() <= 0 || minor.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, false
	}
	return minor.IntPart(), true
}

func (w *Watcher) Close() {
	w.client.Close()
}

// observe decides whether st is news compared with the stored confirmation
// count.
func observe(network, hash string, stored int, st Status) (models.ConfirmationEvent, bool) {
	ev := models.ConfirmationEvent{Network: network, TxHash: hash}
	switch {
	case st.Found && st.Failed:
		ev.Invalidated = true
		return ev, true
	case !st.Found && stored > 0:
		ev.Invalidated = true
		return ev, true
	case st.Found && st.Confirmations > stored:
		ev.Confirmations = st.Confirmations
		return ev, true
	default:
		return ev, false
	}
}
