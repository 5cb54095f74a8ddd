package network

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ayo6706/crypto-ledger/internal/domain"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

//go:embed networks.yaml
var defaultCatalog []byte

// Address grammars understood by ValidateAddress.
const (
	GrammarBitcoin = "bitcoin"
	GrammarEVM     = "evm"
	GrammarSolana  = "solana"
)

// Network is an immutable description of a supported chain.
// All amounts are in minor units at Decimals precision.
type Network struct {
	Code                  string
	Name                  string
	Decimals              int32
	// NativeDecimals is the chain's own base-unit precision. When it exceeds
	// Decimals, on-chain amounts finer than the ledger unit cannot be held.
	NativeDecimals        int32
	ConfirmationsRequired int
	MinAmount             int64
	MaxAmount             int64
	WithdrawalFee         int64
	ConfirmationTimeout   time.Duration
	AddressGrammar        string
	ChainParams           string
	Active                bool
	AddressPool           []string
	// RPCEndpoint is the node the watcher polls; empty disables watching.
	RPCEndpoint string
}

// Fiat is the fiat currency conversions settle in.
type Fiat struct {
	Code     string
	Decimals int32
}

type fileNetwork struct {
	Code                  string   `yaml:"code"`
	Name                  string   `yaml:"name"`
	Decimals              int32    `yaml:"decimals"`
	NativeDecimals        int32    `yaml:"native_decimals"`
	ConfirmationsRequired int      `yaml:"confirmations_required"`
	MinAmount             string   `yaml:"min_amount"`
	MaxAmount             string   `yaml:"max_amount"`
	WithdrawalFee         string   `yaml:"withdrawal_fee"`
	ConfirmationTimeout   string   `yaml:"confirmation_timeout"`
	AddressGrammar        string   `yaml:"address_grammar"`
	ChainParams           string   `yaml:"chain_params"`
	Active                bool     `yaml:"active"`
	AddressPool           []string `yaml:"address_pool"`
	RPCEndpoint           string   `yaml:"rpc_endpoint"`
}

type fileCatalog struct {
	Fiat struct {
		Code     string `yaml:"code"`
		Decimals int32  `yaml:"decimals"`
	} `yaml:"fiat"`
	Networks []fileNetwork `yaml:"networks"`
}

// Registry is the read-only network catalog.
type Registry struct {
	networks map[string]Network
	fiat     Fiat
}

// Load reads the catalog from path, or the built-in catalog when path is empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Parse(defaultCatalog)
	}
	if !filepath.IsAbs(path) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		path = filepath.Join(wd, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a registry from a YAML catalog.
func Parse(data []byte) (*Registry, error) {
	var catalog fileCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("unable to parse network catalog: %w", err)
	}

	fiat := Fiat{Code: strings.ToUpper(catalog.Fiat.Code), Decimals: catalog.Fiat.Decimals}
	if fiat.Code == "" {
		fiat = Fiat{Code: "USD", Decimals: 2}
	}

	nets := make([]Network, 0, len(catalog.Networks))
	for i, fn := range catalog.Networks {
		n, err := fn.toNetwork()
		if err != nil {
			return nil, fmt.Errorf("network at index %d: %w", i, err)
		}
		nets = append(nets, n)
	}
	return NewRegistry(nets, fiat)
}

// NewRegistry validates nets and returns a registry over them.
func NewRegistry(nets []Network, fiat Fiat) (*Registry, error) {
	if fiat.Decimals < 0 || fiat.Decimals > 8 {
		return nil, fmt.Errorf("fiat %s: decimals %d out of range", fiat.Code, fiat.Decimals)
	}
	r := &Registry{networks: make(map[string]Network, len(nets)), fiat: fiat}
	for _, n := range nets {
		if err := n.validate(); err != nil {
			return nil, fmt.Errorf("network %s: %w", n.Code, err)
		}
		if n.Code == fiat.Code {
			return nil, fmt.Errorf("network %s collides with fiat code", n.Code)
		}
		if _, dup := r.networks[n.Code]; dup {
			return nil, fmt.Errorf("network %s declared twice", n.Code)
		}
		r.networks[n.Code] = n
	}
	return r, nil
}

// Get returns an active network or ErrUnsupportedNetwork.
func (r *Registry) Get(code string) (Network, error) {
	n, ok := r.networks[strings.ToUpper(strings.TrimSpace(code))]
	if !ok || !n.Active {
		return Network{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedNetwork, code)
	}
	return n, nil
}

// Lookup returns a network regardless of its active flag.
func (r *Registry) Lookup(code string) (Network, bool) {
	n, ok := r.networks[strings.ToUpper(strings.TrimSpace(code))]
	return n, ok
}

// Active lists active networks ordered by code.
func (r *Registry) Active() []Network {
	return r.list(true)
}

// All lists every configured network ordered by code. Transactions on a
// deactivated network still settle and time out.
func (r *Registry) All() []Network {
	return r.list(false)
}

func (r *Registry) list(activeOnly bool) []Network {
	out := make([]Network, 0, len(r.networks))
	for _, n := range r.networks {
		if n.Active || !activeOnly {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Fiat returns the settlement fiat currency.
func (r *Registry) Fiat() Fiat {
	return r.fiat
}

// Decimals returns the ledger precision of a network or of the fiat currency.
func (r *Registry) Decimals(code string) (int32, bool) {
	if code == r.fiat.Code {
		return r.fiat.Decimals, true
	}
	n, ok := r.networks[code]
	return n.Decimals, ok
}

// PrecisionNote explains, for networks whose ledger unit is coarser than the
// chain's, which on-chain amounts cannot be represented. It is empty when
// the ledger keeps full chain precision.
func (n Network) PrecisionNote() string {
	if n.NativeDecimals <= n.Decimals {
		return ""
	}
	return fmt.Sprintf("%s balances are kept at %d decimals against %d on chain; amounts need a multiple of %s %s",
		n.Code, n.Decimals, n.NativeDecimals, domain.FormatAmount(1, n.Decimals), n.Code)
}

// CheckAmount enforces the network's [min, max] range.
func (n Network) CheckAmount(amount int64) error {
	if amount < n.MinAmount || amount > n.MaxAmount {
		return fmt.Errorf("%w: %s not within [%s, %s] %s", domain.ErrAmountOutOfRange,
			domain.FormatAmount(amount, n.Decimals),
			domain.FormatAmount(n.MinAmount, n.Decimals),
			domain.FormatAmount(n.MaxAmount, n.Decimals), n.Code)
	}
	return nil
}

func (n Network) validate() error {
	if n.Code == "" {
		return fmt.Errorf("missing code")
	}
	if n.Decimals < 0 || n.Decimals > 18 {
		return fmt.Errorf("decimals %d out of range", n.Decimals)
	}
	if n.NativeDecimals < n.Decimals {
		return fmt.Errorf("native_decimals %d below ledger decimals %d", n.NativeDecimals, n.Decimals)
	}
	if n.ConfirmationsRequired < 1 {
		return fmt.Errorf("confirmations_required must be at least 1")
	}
	if n.MinAmount <= 0 || n.MinAmount > n.MaxAmount {
		return fmt.Errorf("min_amount must be positive and not exceed max_amount")
	}
	if n.WithdrawalFee < 0 {
		return fmt.Errorf("withdrawal_fee cannot be negative")
	}
	if n.MaxAmount > math.MaxInt64-n.WithdrawalFee {
		return fmt.Errorf("max_amount plus fee overflows ledger precision")
	}
	if n.ConfirmationTimeout <= 0 {
		return fmt.Errorf("confirmation_timeout must be positive")
	}
	switch n.AddressGrammar {
	case GrammarBitcoin, GrammarEVM, GrammarSolana:
	default:
		return fmt.Errorf("unknown address grammar %q", n.AddressGrammar)
	}
	if n.AddressGrammar == GrammarBitcoin {
		if _, err := bitcoinParams(n.ChainParams); err != nil {
			return err
		}
	}
	for _, addr := range n.AddressPool {
		if err := n.ValidateAddress(addr); err != nil {
			return fmt.Errorf("address pool: %w", err)
		}
	}
	return nil
}

func (fn fileNetwork) toNetwork() (Network, error) {
	code := strings.ToUpper(strings.TrimSpace(fn.Code))
	parse := func(field, v string) (int64, error) {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return 0, fmt.Errorf("%s %s: %w", code, field, err)
		}
		if d.IsZero() {
			return 0, nil
		}
		units, err := domain.FromDecimal(d, fn.Decimals)
		if err != nil {
			return 0, fmt.Errorf("%s %s: %w", code, field, err)
		}
		return units, nil
	}

	minAmount, err := parse("min_amount", fn.MinAmount)
	if err != nil {
		return Network{}, err
	}
	maxAmount, err := parse("max_amount", fn.MaxAmount)
	if err != nil {
		return Network{}, err
	}
	fee := int64(0)
	if fn.WithdrawalFee != "" {
		if fee, err = parse("withdrawal_fee", fn.WithdrawalFee); err != nil {
			return Network{}, err
		}
	}
	timeout, err := time.ParseDuration(fn.ConfirmationTimeout)
	if err != nil {
		return Network{}, fmt.Errorf("%s confirmation_timeout: %w", code, err)
	}

	nativeDecimals := fn.NativeDecimals
	if nativeDecimals == 0 {
		nativeDecimals = fn.Decimals
	}
	return Network{
		Code:                  code,
		Name:                  fn.Name,
		Decimals:              fn.Decimals,
		NativeDecimals:        nativeDecimals,
		ConfirmationsRequired: fn.ConfirmationsRequired,
		MinAmount:             minAmount,
		MaxAmount:             maxAmount,
		WithdrawalFee:         fee,
		ConfirmationTimeout:   timeout,
		AddressGrammar:        strings.ToLower(fn.AddressGrammar),
		ChainParams:           strings.ToLower(fn.ChainParams),
		Active:                fn.Active,
		AddressPool:           fn.AddressPool,
		RPCEndpoint:           strings.TrimSpace(os.ExpandEnv(fn.RPCEndpoint)),
	}, nil
}
