package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var maxMinorUnits = decimal.NewFromInt(math.MaxInt64)

// Money is an amount in integer minor units of an asset whose precision is
// Decimals (8 for BTC satoshis, 2 for USD cents).
type Money struct {
	Amount   int64
	Currency string
	Decimals int32
}

// NewMoney creates a new Money instance from minor units.
func NewMoney(amount int64, currency string, decimals int32) Money {
	return Money{
		Amount:   amount,
		Currency: currency,
		Decimals: decimals,
	}
}

// ToDecimal converts the minor units to a decimal in whole units.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.New(m.Amount, -m.Decimals)
}

// Convert prices the amount in the target asset at rate (target per source)
// and rounds down to the target precision.
func (m Money) Convert(targetCurrency string, targetDecimals int32, rate decimal.Decimal) Money {
	amountDec := m.ToDecimal().Mul(rate).Shift(targetDecimals).Floor()
	return Money{
		Amount:   amountDec.IntPart(),
		Currency: targetCurrency,
		Decimals: targetDecimals,
	}
}

// ConvertInverse buys the target asset with m at rate (m's currency per
// target unit) and rounds down to the target precision.
func (m Money) ConvertInverse(targetCurrency string, targetDecimals int32, rate decimal.Decimal) Money {
	if !rate.IsPositive() {
		return Money{Currency: targetCurrency, Decimals: targetDecimals}
	}
	q, _ := m.ToDecimal().QuoRem(rate, targetDecimals)
	return Money{
		Amount:   q.Shift(targetDecimals).IntPart(),
		Currency: targetCurrency,
		Decimals: targetDecimals,
	}
}

// String returns the string representation of the money.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", FormatAmount(m.Amount, m.Decimals), m.Currency)
}

// ParseAmount converts a decimal string in whole units into minor units.
// Amounts with more fractional digits than decimals are rejected rather
// than rounded.
func ParseAmount(s string, decimals int32) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return FromDecimal(d, decimals)
}

// FromDecimal converts a decimal in whole units into minor units.
func FromDecimal(d decimal.Decimal, decimals int32) (int64, error) {
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, decimals)
	}
	if scaled.GreaterThan(maxMinorUnits) {
		return 0, fmt.Errorf("%w: too large", ErrInvalidAmount)
	}
	return scaled.IntPart(), nil
}

// FormatAmount renders minor units as a fixed-point decimal string.
func FormatAmount(amount int64, decimals int32) string {
	return decimal.New(amount, -decimals).StringFixed(decimals)
}
