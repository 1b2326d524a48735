package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// CoerceAmount converts a backend numeric string to a non-negative decimal.
//
// Empty input is 0. Input that does not parse as a plain decimal number
// (for example "12,50" or "abc") is also 0, so one dirty value can never
// poison a total. Negative values are stored as their magnitude because the
// sign of an entry is carried by its Polarity.
func CoerceAmount(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d.Abs()
}
