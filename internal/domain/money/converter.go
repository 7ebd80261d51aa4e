// Package money converts between major currency units (naira) and the
// minor units (kobo) carried by the ledger and the payment provider.
package money

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

// MinorUnitsPerMajor is the fixed scale between a major and a minor unit.
const MinorUnitsPerMajor = 100

var (
	ErrNegativeAmount   = errors.New("amount must not be negative")
	ErrSubMinorFraction = errors.New("amount has more precision than the minor unit")
	ErrAmountTooLarge   = errors.New("amount exceeds the largest ledger balance")
)

var (
	scale    = decimal.NewFromInt(MinorUnitsPerMajor)
	maxMinor = decimal.NewFromInt(math.MaxInt64)
)

// ToMinorUnit converts a major-unit amount into minor units. Results are
// capped at math.MaxInt64 so they compare safely with signed ledger balances.
func ToMinorUnit(amount decimal.Decimal) (uint64, error) {
	if amount.IsNegative() {
		return 0, ErrNegativeAmount
	}
	minor := amount.Mul(scale)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, ErrSubMinorFraction
	}
	if minor.GreaterThan(maxMinor) {
		return 0, ErrAmountTooLarge
	}
	return uint64(minor.IntPart()), nil
}

// ToMajorUnit converts a minor-unit amount into major units.
func ToMajorUnit(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// MustParse parses a major-unit literal. It panics on malformed input and
// is intended for constants and tests.
func MustParse(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}
