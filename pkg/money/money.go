// Package money provides currency-safe amounts in integer minor units, wrapping
// go-money for ISO-4217 currencies and shopspring/decimal for conversion.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Currency codes used across the import pipeline and its tests
const (
	USD = "USD"
	EUR = "EUR"
	GBP = "GBP"
	JPY = "JPY" // no minor unit
)

var (
	ErrUnknownCurrency = errors.New("unknown currency")
	ErrPrecisionLoss   = errors.New("amount has more decimal places than the currency allows")
)

// Money is an amount in the minor unit of one currency
type Money struct {
	m *money.Money
}

// New wraps an amount already expressed in minor units
func New(amountMinor int64, currencyCode string) *Money {
	return &Money{
		m: money.New(amountMinor, strings.ToUpper(currencyCode)),
	}
}

// Zero returns a zero Money value for the given currency
func Zero(currencyCode string) *Money {
	return New(0, currencyCode)
}

// NewFromDecimal converts an exact decimal amount to minor units. It refuses
// unknown currencies and amounts that would have to be rounded.
func NewFromDecimal(amount decimal.Decimal, currencyCode string) (*Money, error) {
	code := strings.ToUpper(strings.TrimSpace(currencyCode))
	currency := money.GetCurrency(code)
	if currency == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCurrency, currencyCode)
	}

	minor := amount.Shift(int32(currency.Fraction))
	if !minor.Equal(minor.Truncate(0)) {
		return nil, fmt.Errorf("%w: %s %s", ErrPrecisionLoss, amount, code)
	}
	return New(minor.IntPart(), code), nil
}

// Amount returns the amount in minor units (cents)
func (m *Money) Amount() int64 {
	if m == nil || m.m == nil {
		return 0
	}
	return m.m.Amount()
}

// Currency returns the ISO-4217 currency code
func (m *Money) Currency() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Currency().Code
}

// IsZero returns true if the amount is zero
func (m *Money) IsZero() bool {
	return m == nil || m.m == nil || m.m.IsZero()
}

// Add sums two amounts of the same currency. A nil operand counts as zero so
// running totals can start from nil.
func (m *Money) Add(other *Money) (*Money, error) {
	if m == nil || m.m == nil {
		return other, nil
	}
	if other == nil || other.m == nil {
		return m, nil
	}

	result, err := m.m.Add(other.m)
	if err != nil {
		return nil, err
	}
	return &Money{m: result}, nil
}

// Display returns a formatted string for display (e.g., "$1,234.56")
func (m *Money) Display() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Display()
}

// String returns the amount as a decimal string (e.g., "1234.56")
func (m *Money) String() string {
	if m == nil || m.m == nil {
		return "0"
	}
	return m.ToDecimal().StringFixed(int32(m.m.Currency().Fraction))
}

// ToDecimal converts to decimal.Decimal for precise calculations
func (m *Money) ToDecimal() decimal.Decimal {
	if m == nil || m.m == nil {
		return decimal.Zero
	}
	return decimal.New(m.m.Amount(), -int32(m.m.Currency().Fraction))
}
