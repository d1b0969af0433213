// Package money provides a fixed-point monetary amount expressed in the
// smallest unit of a currency. All arithmetic is integer-only.
//
// Examples:
//   - New(9000, "USD") = $90.00
//   - New(10001, "EUR") = €100.01
//   - New(500, "JPY") = ¥500
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidCurrency is returned when a currency code is not a three letter ISO-4217 code.
	ErrInvalidCurrency = errors.New("money: invalid currency code")
	// ErrInvalidAmount is returned when a major-unit string cannot be represented in minor units.
	ErrInvalidAmount = errors.New("money: invalid amount")
	// ErrOverflow is returned when a sum does not fit in int64 minor units.
	ErrOverflow = errors.New("money: amount overflows")
)

// MaxMinorUnits is the largest amount a single ledger entry may carry:
// 10^15 minor units, i.e. ten trillion dollars. Keeping entries this far
// below the int64 range leaves room to fold long histories.
const MaxMinorUnits int64 = 1_000_000_000_000_000

// Money is an amount in minor units (cents, pence, ...) tagged with a currency.
type Money struct {
	MinorUnits int64  `json:"minorUnits"`
	Currency   string `json:"currency"`
}

// New creates a Money value. The currency code is normalised to upper case.
func New(minorUnits int64, currency string) Money {
	return Money{MinorUnits: minorUnits, Currency: NormalizeCurrency(currency)}
}

// Zero returns a zero amount in the given currency.
func Zero(currency string) Money { return New(0, currency) }

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// ValidateCurrency checks that code looks like an ISO-4217 alphabetic code.
func ValidateCurrency(code string) error {
	code = NormalizeCurrency(code)
	if len(code) != 3 {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
		}
	}
	return nil
}

// Add adds two amounts. Panics if currencies don't match.
func (m Money) Add(other Money) Money {
	m.assertSameCurrency(other)
	return Money{MinorUnits: m.MinorUnits + other.MinorUnits, Currency: m.Currency}
}

// CheckedAdd adds two amounts, failing with ErrOverflow instead of
// wrapping. Panics if currencies don't match.
func (m Money) CheckedAdd(other Money) (Money, error) {
	m.assertSameCurrency(other)
	sum := m.MinorUnits + other.MinorUnits
	if (other.MinorUnits > 0 && sum < m.MinorUnits) || (other.MinorUnits < 0 && sum > m.MinorUnits) {
		return Money{}, ErrOverflow
	}
	return Money{MinorUnits: sum, Currency: m.Currency}, nil
}

// Sub subtracts other from m. Panics if currencies don't match.
func (m Money) Sub(other Money) Money {
	m.assertSameCurrency(other)
	return Money{MinorUnits: m.MinorUnits - other.MinorUnits, Currency: m.Currency}
}

// Neg returns the negated amount.
func (m Money) Neg() Money {
	return Money{MinorUnits: -m.MinorUnits, Currency: m.Currency}
}

// Abs returns the absolute amount.
func (m Money) Abs() Money {
	if m.MinorUnits < 0 {
		return m.Neg()
	}
	return m
}

// Cmp compares m and other: -1 if m < other, 0 if equal, +1 if m > other.
// Panics if currencies don't match.
func (m Money) Cmp(other Money) int {
	m.assertSameCurrency(other)
	switch {
	case m.MinorUnits < other.MinorUnits:
		return -1
	case m.MinorUnits > other.MinorUnits:
		return 1
	default:
		return 0
	}
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.MinorUnits == 0 }

// IsPositive reports whether the amount is greater than zero.
func (m Money) IsPositive() bool { return m.MinorUnits > 0 }

// IsNegative reports whether the amount is less than zero.
func (m Money) IsNegative() bool { return m.MinorUnits < 0 }

// Equal reports whether both amount and currency match.
func (m Money) Equal(other Money) bool {
	return m.MinorUnits == other.MinorUnits && m.Currency == other.Currency
}

// SameCurrency reports whether other is tagged with the same currency as m.
func (m Money) SameCurrency(other Money) bool {
	return m.Currency == other.Currency
}

// Decimal returns the amount in major units as an exact decimal.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.MinorUnits, -int32(Exponent(m.Currency)))
}

// FormatMajor returns the amount in major units without a currency symbol,
// e.g. "100.01" for New(10001, "USD") and "500" for New(500, "JPY").
func (m Money) FormatMajor() string {
	return m.Decimal().StringFixed(int32(Exponent(m.Currency)))
}

// String returns the amount with its currency symbol, e.g. "$90.00" or "-€30.00".
func (m Money) String() string {
	sign := ""
	abs := m
	if m.MinorUnits < 0 {
		sign = "-"
		abs = m.Neg()
	}
	return sign + symbol(m.Currency) + abs.FormatMajor()
}

// ParseMajor parses a major-unit decimal string such as "100.01" into Money.
// Amounts with more precision than the currency's minor unit are rejected.
func ParseMajor(s, currency string) (Money, error) {
	currency = NormalizeCurrency(currency)
	if err := ValidateCurrency(currency); err != nil {
		return Money{}, err
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	minor := d.Shift(int32(Exponent(currency)))
	if !minor.IsInteger() {
		return Money{}, fmt.Errorf("%w: %q has more precision than %s allows", ErrInvalidAmount, s, currency)
	}
	if !minor.BigInt().IsInt64() {
		return Money{}, fmt.Errorf("%w: %q overflows", ErrInvalidAmount, s)
	}
	return Money{MinorUnits: minor.IntPart(), Currency: currency}, nil
}

// Sum adds values in the given currency. Panics on a currency mismatch.
func Sum(currency string, values ...Money) Money {
	total := Zero(currency)
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

func (m Money) assertSameCurrency(other Money) {
	if m.Currency != other.Currency {
		panic(fmt.Sprintf("money: currency mismatch: %s != %s", m.Currency, other.Currency))
	}
}

// Exponent returns the number of minor-unit digits for a currency.
func Exponent(currency string) int {
	switch NormalizeCurrency(currency) {
	case "JPY", "KRW", "VND", "CLP", "PYG", "ISK", "UGX":
		return 0
	case "BHD", "KWD", "OMR", "JOD", "TND":
		return 3
	default:
		return 2
	}
}

func symbol(currency string) string {
	switch currency {
	case "USD":
		return "$"
	case "EUR":
		return "€"
	case "GBP":
		return "£"
	case "JPY":
		return "¥"
	case "CAD":
		return "C$"
	case "AUD":
		return "A$"
	default:
		return currency + " "
	}
}
