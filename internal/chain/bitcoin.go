package chain

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/shopspring/decimal"
)

// Bitcoin queries a bitcoind-compatible node over HTTP POST JSON-RPC. The node
// needs txindex to see transactions outside its wallet and mempool.
type Bitcoin struct {
	client *rpcclient.Client
	cursor blockCursor
}

// DialBitcoin takes an endpoint of the form http(s)://user:pass@host:port.
func DialBitcoin(endpoint string) (*Bitcoin, error) {
	cfg, err := bitcoinConnConfig(endpoint)
	if err != nil {
		return nil, err
	}
	client, err := rpcclient.New(cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("bitcoin rpc client: %w", err)
	}
	return &Bitcoin{client: client}, nil
}

func bitcoinConnConfig(endpoint string) (*rpcclient.ConnConfig, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid bitcoin rpc endpoint %q", endpoint)
	}
	cfg := &rpcclient.ConnConfig{
		Host:         u.Host,
		HTTPPostMode: true,
		DisableTLS:   u.Scheme != "https",
	}
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Pass, _ = u.User.Password()
	}
	return cfg, nil
}

func (b *Bitcoin) Status(ctx context.Context, hash string) (Status, error) {
	h, err := chainhash.NewHashFromStr(hash)
	if err != nil {
		return Status{}, fmt.Errorf("bitcoin tx hash %q: %w", hash, err)
	}

	future := b.client.GetRawTransactionVerboseAsync(h)
	select {
	case <-ctx.Done():
		return Status{}, ctx.Err()
	default:
	}
	res, err := future.Receive()
	if err != nil {
		var rpcErr *btcjson.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == btcjson.ErrRPCNoTxInfo {
			return Status{}, nil
		}
		return Status{}, fmt.Errorf("get raw transaction %s: %w", hash, err)
	}
	return Status{Found: true, Confirmations: int(res.Confirmations)}, nil
}

// Scan reads the outputs of new blocks and reports those paying a watched
// address.
func (b *Bitcoin) Scan(ctx context.Context, addresses []string) ([]Transfer, error) {
	count, err := b.client.GetBlockCount()
	if err != nil {
		return nil, fmt.Errorf("get block count: %w", err)
	}
	head := uint64(count)
	from, to, ok := b.cursor.window(head, len(addresses) == 0)
	if !ok {
		return nil, nil
	}

	watched := make(map[string]bool, len(addresses))
	for _, a := range addresses {
		watched[a] = true
	}

	var out []Transfer
	for height := from; height <= to; height++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hash, err := b.client.GetBlockHash(int64(height))
		if err != nil {
			return nil, fmt.Errorf("get block hash %d: %w", height, err)
		}
		block, err := b.client.GetBlockVerboseTx(hash)
		if err != nil {
			return nil, fmt.Errorf("get block %d: %w", height, err)
		}
		for _, tx := range block.Tx {
			for _, vout := range tx.Vout {
				addr := outputAddress(vout.ScriptPubKey)
				if !watched[addr] {
					continue
				}
				out = append(out, Transfer{
					TxHash:        tx.Txid,
					ToAddress:     addr,
					Amount:        decimal.NewFromFloat(vout.Value).Round(8),
					Confirmations: int(head-height) + 1,
				})
			}
		}
	}
	b.cursor.advance(to)
	return out, nil
}

// outputAddress prefers the single address newer nodes report.
func outputAddress(spk btcjson.ScriptPubKeyResult) string {
	if spk.Address != "" {
		return spk.Address
	}
	if len(spk.Addresses) == 1 {
		return spk.Addresses[0]
	}
	return ""
}

func (b *Bitcoin) Close() {
	b.client.Shutdown()
}
