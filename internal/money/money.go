// Package money implements the kernel's currency-neutral money model.
//
// Amounts live exclusively as integer minor units (int64). Conversions between
// major and minor units are driven by Currency.DecimalPlaces and nothing else;
// there is no hardcoded two-decimal assumption anywhere in the kernel.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidCurrency reports a malformed currency definition.
	ErrInvalidCurrency = errors.New("invalid currency")

	// ErrInexact reports a major amount that does not land on a whole
	// number of minor units for the currency.
	ErrInexact = errors.New("amount not representable in minor units")

	// ErrOverflow reports an amount outside the int64 minor-unit range.
	ErrOverflow = errors.New("amount overflows minor units")
)

// MajorToMinor converts a major-unit decimal amount to integer minor units.
// The conversion shifts by exactly currency.DecimalPlaces and fails with
// ErrInexact if any fractional part remains (the kernel never rounds money).
func MajorToMinor(amount decimal.Decimal, currency Currency) (int64, error) {
	shifted := amount.Shift(int32(currency.DecimalPlaces))
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%s in %s: %w", amount, currency.Code, ErrInexact)
	}
	if !shifted.BigInt().IsInt64() {
		return 0, fmt.Errorf("%s in %s: %w", amount, currency.Code, ErrOverflow)
	}
	return shifted.IntPart(), nil
}

// MinorToMajor converts integer minor units back to a major-unit decimal.
// Round-trip with MajorToMinor is exact for every representable amount.
func MinorToMajor(minor int64, currency Currency) decimal.Decimal {
	return decimal.NewFromInt(minor).Shift(-int32(currency.DecimalPlaces))
}

// AddMinor sums two minor-unit amounts, failing on int64 overflow instead of
// wrapping. Financial totals must never silently wrap.
func AddMinor(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, fmt.Errorf("%d + %d: %w", a, b, ErrOverflow)
	}
	return sum, nil
}

// MulMinor multiplies a minor-unit price by a signed quantity, failing on
// overflow.
func MulMinor(unitMinor int64, quantity int64) (int64, error) {
	if unitMinor == 0 || quantity == 0 {
		return 0, nil
	}
	product := unitMinor * quantity
	if product/quantity != unitMinor {
		return 0, fmt.Errorf("%d * %d: %w", unitMinor, quantity, ErrOverflow)
	}
	return product, nil
}
