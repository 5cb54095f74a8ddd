package chain

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	lamportExp = -9
	// signaturesPerAddress bounds one address's history read per Scan.
	signaturesPerAddress = 25
)

// finalizedDepth is reported for rooted signatures, whose confirmation count
// the node no longer tracks.
const finalizedDepth = 32

// Solana reads signature statuses from a Solana RPC node.
type Solana struct {
	client *rpc.Client
	// seen holds the newest signature read per address.
	seen map[string]solana.Signature
}

func NewSolana(endpoint string) *Solana {
	return &Solana{client: rpc.New(endpoint), seen: make(map[string]solana.Signature)}
}

func (s *Solana) Status(ctx context.Context, hash string) (Status, error) {
	sig, err := solana.SignatureFromBase58(hash)
	if err != nil {
		return Status{}, fmt.Errorf("solana signature %q: %w", hash, err)
	}
	out, err := s.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return Status{}, fmt.Errorf("signature status %s: %w", hash, err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return Status{}, nil
	}

	st := out.Value[0]
	confirmations := finalizedDepth
	if st.Confirmations != nil {
		confirmations = int(*st.Confirmations)
	} else if st.ConfirmationStatus != rpc.ConfirmationStatusFinalized {
		confirmations = 0
	}
	return Status{
		Found:         true,
		Confirmations: confirmations,
		Failed:        st.Err != nil,
	}, nil
}

// Scan reads each watched address's recent signatures and reports those that
// raised its lamport balance.
func (s *Solana) Scan(ctx context.Context, addresses []string) ([]Transfer, error) {
	var out []Transfer
	for _, addr := range addresses {
		account, err := solana.PublicKeyFromBase58(addr)
		if err != nil {
			zap.L().Warn("skipping malformed solana address", zap.String("address", addr), zap.Error(err))
			continue
		}
		limit := signaturesPerAddress
		opts := &rpc.GetSignaturesForAddressOpts{Limit: &limit, Commitment: rpc.CommitmentConfirmed}
		if until, ok := s.seen[addr]; ok {
			opts.Until = until
		}
		sigs, err := s.client.GetSignaturesForAddressWithOpts(ctx, account, opts)
		if err != nil {
			return out, fmt.Errorf("signatures for %s: %w", addr, err)
		}
		for _, sig := range sigs {
			if sig.Err != nil {
				continue
			}
			received, err := s.received(ctx, sig.Signature, account)
			if err != nil {
				return out, err
			}
			if received == 0 {
				continue
			}
			confirmations := 1
			if sig.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				confirmations = finalizedDepth
			}
			out = append(out, Transfer{
				TxHash:        sig.Signature.String(),
				ToAddress:     addr,
				Amount:        decimal.New(int64(received), lamportExp),
				Confirmations: confirmations,
			})
		}
		if len(sigs) > 0 {
			s.seen[addr] = sigs[0].Signature
		}
	}
	return out, nil
}

// received returns how many lamports sig added to account.
func (s *Solana) received(ctx context.Context, sig solana.Signature, account solana.PublicKey) (uint64, error) {
	version := uint64(0)
	res, err := s.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &version,
	})
	if err != nil {
		return 0, fmt.Errorf("get transaction %s: %w", sig, err)
	}
	if res == nil || res.Meta == nil || res.Transaction == nil {
		return 0, nil
	}
	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		return 0, fmt.Errorf("decode transaction %s: %w", sig, err)
	}
	for i, key := range tx.Message.AccountKeys {
		if !key.Equals(account) {
			continue
		}
		if i >= len(res.Meta.PreBalances) || i >= len(res.Meta.PostBalances) {
			return 0, nil
		}
		pre, post := res.Meta.PreBalances[i], res.Meta.PostBalances[i]
		if post > pre {
			return post - pre, nil
		}
		return 0, nil
	}
	return 0, nil
}

func (s *Solana) Close() {
	_ = s.client.Close()
}
