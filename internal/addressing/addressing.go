// Package addressing hands out deposit addresses. Only extended public keys
// live here; spending keys stay with the external signer.
package addressing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/crypto-ledger/internal/network"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrNoAddressSource = errors.New("no address source configured for network")
	ErrPoolExhausted   = errors.New("address pool exhausted")
)

// Allocation is a freshly assigned address and its derivation index.
type Allocation struct {
	Address string
	Index   int64
}

// Allocator assigns the address at position index for a network. The same
// index always yields the same address.
type Allocator interface {
	Allocate(ctx context.Context, net network.Network, index int64) (Allocation, error)
}

// Deriver derives addresses from per-network account xpubs (BIP32 external
// chain, m/.../0/index) and falls back to the network's configured address
// pool.
type Deriver struct {
	xpubs map[string]*hdkeychain.ExtendedKey
}

// NewDeriver parses xpubs keyed by network code. Private extended keys are
// refused.
func NewDeriver(xpubs map[string]string) (*Deriver, error) {
	d := &Deriver{xpubs: make(map[string]*hdkeychain.ExtendedKey, len(xpubs))}
	for code, raw := range xpubs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		key, err := hdkeychain.NewKeyFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse xpub for %s: %w", code, err)
		}
		if key.IsPrivate() {
			return nil, fmt.Errorf("xpub for %s is a private key", code)
		}
		d.xpubs[strings.ToUpper(code)] = key
	}
	return d, nil
}

func (d *Deriver) Allocate(ctx context.Context, net network.Network, index int64) (Allocation, error) {
	if index < 0 || index >= int64(hdkeychain.HardenedKeyStart) {
		return Allocation{}, fmt.Errorf("derivation index %d out of range", index)
	}

	if key, ok := d.xpubs[net.Code]; ok {
		addr, err := derive(key, net, uint32(index))
		if err != nil {
			return Allocation{}, fmt.Errorf("derive %s address %d: %w", net.Code, index, err)
		}
		return Allocation{Address: addr, Index: index}, nil
	}

	if len(net.AddressPool) > 0 {
		if index >= int64(len(net.AddressPool)) {
			return Allocation{}, fmt.Errorf("%w: %s", ErrPoolExhausted, net.Code)
		}
		return Allocation{Address: net.AddressPool[index], Index: index}, nil
	}
	return Allocation{}, fmt.Errorf("%w: %s", ErrNoAddressSource, net.Code)
}

func derive(account *hdkeychain.ExtendedKey, net network.Network, index uint32) (string, error) {
	external, err := account.Derive(0)
	if err != nil {
		return "", err
	}
	child, err := external.Derive(index)
	if err != nil {
		return "", err
	}
	pub, err := child.ECPubKey()
	if err != nil {
		return "", err
	}

	switch net.AddressGrammar {
	case network.GrammarBitcoin:
		params, err := net.BitcoinParams()
		if err != nil {
			return "", err
		}
		addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), params)
		if err != nil {
			return "", err
		}
		return addr.EncodeAddress(), nil
	case network.GrammarEVM:
		return crypto.PubkeyToAddress(*pub.ToECDSA()).Hex(), nil
	default:
		return "", fmt.Errorf("%w: %s has no HD derivation", ErrNoAddressSource, net.Code)
	}
}
