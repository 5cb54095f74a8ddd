package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

const weiExp = -18

// EVM reads receipts from an Ethereum JSON-RPC node.
type EVM struct {
	client *ethclient.Client
	cursor blockCursor
}

func DialEVM(ctx context.Context, endpoint string) (*EVM, error) {
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial evm node: %w", err)
	}
	return &EVM{client: client}, nil
}

func (e *EVM) Status(ctx context.Context, hash string) (Status, error) {
	receipt, err := e.client.TransactionReceipt(ctx, common.HexToHash(hash))
	if errors.Is(err, ethereum.NotFound) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("transaction receipt %s: %w", hash, err)
	}

	head, err := e.client.BlockNumber(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("block number: %w", err)
	}
	return Status{
		Found:         true,
		Confirmations: depth(head, receipt.BlockNumber.Uint64()),
		Failed:        receipt.Status == types.ReceiptStatusFailed,
	}, nil
}

// Scan reads new blocks for plain value transfers to a watched address.
// Token transfers are not credited.
func (e *EVM) Scan(ctx context.Context, addresses []string) ([]Transfer, error) {
	head, err := e.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("block number: %w", err)
	}
	from, to, ok := e.cursor.window(head, len(addresses) == 0)
	if !ok {
		return nil, nil
	}

	watched := make(map[common.Address]string, len(addresses))
	for _, a := range addresses {
		watched[common.HexToAddress(a)] = a
	}

	var out []Transfer
	for height := from; height <= to; height++ {
		block, err := e.client.BlockByNumber(ctx, new(big.Int).SetUint64(height))
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", height, err)
		}
		for _, tx := range block.Transactions() {
			if tx.To() == nil || tx.Value().Sign() <= 0 {
				continue
			}
			addr, ok := watched[*tx.To()]
			if !ok {
				continue
			}
			out = append(out, Transfer{
				TxHash:        tx.Hash().Hex(),
				ToAddress:     addr,
				Amount:        decimal.NewFromBigInt(tx.Value(), weiExp),
				Confirmations: depth(head, height),
			})
		}
	}
	e.cursor.advance(to)
	return out, nil
}

func (e *EVM) Close() {
	e.client.Close()
}

// depth counts the including block as the first confirmation.
func depth(head, included uint64) int {
	if head < included {
		return 0
	}
	return int(head-included) + 1
}
