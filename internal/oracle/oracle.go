// Package oracle supplies fiat exchange rates for network assets.
package oracle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ayo6706/crypto-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Quote is the fiat price of one whole unit of an asset.
type Quote struct {
	Network string          `json:"network"`
	Rate    decimal.Decimal `json:"rate"`
	AsOf    time.Time       `json:"as_of"`
}

// Oracle returns the current quote for a network. Implementations return an
// error wrapping domain.ErrRateUnavailable when no usable quote exists; they
// never substitute a default.
type Oracle interface {
	Rate(ctx context.Context, network string) (Quote, error)
}

// Static serves fixed rates that are always fresh. It backs local runs and
// tests; rates can be replaced at runtime with Set.
type Static struct {
	mu    sync.RWMutex
	rates map[string]decimal.Decimal
	now   func() time.Time
}

func NewStatic(rates map[string]decimal.Decimal) *Static {
	copied := make(map[string]decimal.Decimal, len(rates))
	for k, v := range rates {
		copied[strings.ToUpper(k)] = v
	}
	return &Static{rates: copied, now: time.Now}
}

// ParseStatic reads "BTC=65000,ETH=3000" into a Static oracle.
func ParseStatic(spec string) (*Static, error) {
	rates := make(map[string]decimal.Decimal)
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		code, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid rate %q: want CODE=RATE", pair)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("invalid rate %q", pair)
		}
		rates[strings.ToUpper(strings.TrimSpace(code))] = rate
	}
	return NewStatic(rates), nil
}

func (s *Static) Set(network string, rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[strings.ToUpper(network)] = rate
}

// Remove drops a rate so lookups fail.
func (s *Static) Remove(network string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rates, strings.ToUpper(network))
}

func (s *Static) Rate(ctx context.Context, network string) (Quote, error) {
	s.mu.RLock()
	rate, ok := s.rates[strings.ToUpper(network)]
	s.mu.RUnlock()
	if !ok || !rate.IsPositive() {
		return Quote{}, fmt.Errorf("%w: no rate for %s", domain.ErrRateUnavailable, network)
	}
	return Quote{Network: network, Rate: rate, AsOf: s.now()}, nil
}
