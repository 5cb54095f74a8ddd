package network

import (
	"fmt"
	"strings"

	"github.com/ayo6706/crypto-ledger/internal/domain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

// ValidateAddress checks addr against the network's address grammar.
func (n Network) ValidateAddress(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("%w: empty", domain.ErrInvalidAddress)
	}

	switch n.AddressGrammar {
	case GrammarBitcoin:
		params, err := bitcoinParams(n.ChainParams)
		if err != nil {
			return err
		}
		decoded, err := btcutil.DecodeAddress(addr, params)
		if err != nil || !decoded.IsForNet(params) {
			return fmt.Errorf("%w: %s is not a %s address", domain.ErrInvalidAddress, addr, n.Code)
		}
	case GrammarEVM:
		if !strings.HasPrefix(addr, "0x") || !common.IsHexAddress(addr) {
			return fmt.Errorf("%w: %s is not a %s address", domain.ErrInvalidAddress, addr, n.Code)
		}
	case GrammarSolana:
		if _, err := solana.PublicKeyFromBase58(addr); err != nil {
			return fmt.Errorf("%w: %s is not a %s address", domain.ErrInvalidAddress, addr, n.Code)
		}
	default:
		return fmt.Errorf("%w: no grammar for %s", domain.ErrInvalidAddress, n.Code)
	}
	return nil
}

// BitcoinParams returns the btcd chain parameters for a bitcoin network.
func (n Network) BitcoinParams() (*chaincfg.Params, error) {
	return bitcoinParams(n.ChainParams)
}

func bitcoinParams(name string) (*chaincfg.Params, error) {
	switch name {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown bitcoin chain params %q", name)
	}
}
