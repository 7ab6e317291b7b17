// Package money holds payment amounts expressed in integer minor units.
package money

import (
	"errors"
	"fmt"
)

// VATDivisor splits a VAT-inclusive total at a 10% rate: vat = total / 11.
const VATDivisor = 11

var (
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrAmountMismatch = errors.New("supply and vat must add up to total")
)

// Amount is a VAT-inclusive payment amount.
type Amount struct {
	Total  int64 `json:"total"`
	Supply int64 `json:"supply"`
	VAT    int64 `json:"vat"`
}

// SplitVAT derives supply and vat from a VAT-inclusive total.
// The vat part is floored, so supply absorbs the remainder.
func SplitVAT(total int64) (Amount, error) {
	if total < 0 {
		return Amount{}, ErrNegativeAmount
	}
	vat := total / VATDivisor
	return Amount{Total: total, Supply: total - vat, VAT: vat}, nil
}

// Validate checks the supply/vat invariant.
func (a Amount) Validate() error {
	if a.Total < 0 || a.Supply < 0 || a.VAT < 0 {
		return ErrNegativeAmount
	}
	if a.Supply+a.VAT != a.Total {
		return fmt.Errorf("%w: %d + %d != %d", ErrAmountMismatch, a.Supply, a.VAT, a.Total)
	}
	return nil
}

// Equal reports whether every part matches.
func (a Amount) Equal(other Amount) bool {
	return a == other
}

// AtLeast reports whether the total reaches min.
func (a Amount) AtLeast(min int64) bool {
	return a.Total >= min
}

func (a Amount) String() string {
	return fmt.Sprintf("%d (supply %d, vat %d)", a.Total, a.Supply, a.VAT)
}

// Percent returns value*rate/100 floored, for non-negative inputs.
func Percent(value, rate int64) int64 {
	return value * rate / 100
}
