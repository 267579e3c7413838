package money

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxDecimalPlaces bounds Currency.DecimalPlaces. No circulating currency uses
// more than four; the headroom covers commodity and crypto minor units.
const MaxDecimalPlaces = 9

// Currency carries the metadata the kernel needs for exact minor-unit
// arithmetic: an identifying code and the number of decimal places.
//
// The kernel is culture-neutral. It never maps codes to decimal places, never
// assumes two decimals, and never formats amounts; callers supply the decimal
// places at transaction start and the pair is immutable from then on.
type Currency struct {
	Code          string `json:"code"`
	DecimalPlaces uint8  `json:"decimal_places"`
}

// NewCurrency validates and normalizes a currency definition.
// Codes are uppercased; they must be at least three letters (ISO 4217 codes
// are exactly three, but private/commodity codes may be longer).
func NewCurrency(code string, decimalPlaces uint8) (Currency, error) {
	upper := strings.ToUpper(strings.TrimSpace(code))
	if len(upper) < 3 {
		return Currency{}, fmt.Errorf("currency code %q: %w", code, ErrInvalidCurrency)
	}
	for _, r := range upper {
		if !unicode.IsLetter(r) {
			return Currency{}, fmt.Errorf("currency code %q: %w", code, ErrInvalidCurrency)
		}
	}
	if decimalPlaces > MaxDecimalPlaces {
		return Currency{}, fmt.Errorf("decimal places %d exceeds %d: %w", decimalPlaces, MaxDecimalPlaces, ErrInvalidCurrency)
	}
	return Currency{Code: upper, DecimalPlaces: decimalPlaces}, nil
}

func (c Currency) String() string {
	return fmt.Sprintf("%s/%d", c.Code, c.DecimalPlaces)
}
