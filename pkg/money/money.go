// Package money converts between stored integer cents and decimal currency
// units and holds the settlement arithmetic (fee split, unit pricing).
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

// UnitsPerPriceBlock is the quantity a seller's unit price is quoted for.
const UnitsPerPriceBlock = 1000

// BasisPointsPerWhole is the denominator for fee rates expressed in basis points.
const BasisPointsPerWhole = 10000

var (
	ErrTooPrecise   = errors.New("amount has more than 2 decimal places")
	ErrNotPositive  = errors.New("amount must be positive")
	ErrOutOfBounds  = errors.New("amount is out of range")
	maxDecimalCents = decimal.NewFromInt(1 << 53)
)

// FromCents converts stored cents into currency units.
func FromCents(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Shift(-2)
}

// ToCents rounds a currency amount to 2 decimals and returns it as cents.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}

// ParseCents validates a client supplied amount and converts it to cents.
// Amounts with sub-cent precision are rejected instead of rounded.
func ParseCents(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, ErrNotPositive
	}
	if !amount.Equal(amount.Round(2)) {
		return 0, ErrTooPrecise
	}
	cents := amount.Shift(2)
	if cents.GreaterThan(maxDecimalCents) {
		return 0, ErrOutOfBounds
	}
	return cents.IntPart(), nil
}

// Format renders cents with exactly two decimals, e.g. 4750 -> "47.50".
func Format(cents int64) string {
	return FromCents(cents).StringFixed(2)
}

// FeeSplit is the breakdown of a seller payout.
type FeeSplit struct {
	GrossCents int64
	FeeCents   int64
	NetCents   int64
}

// SplitFee computes net = round2(gross * (1 - rate)) and fee = gross - net so
// the two legs always add back up to the gross amount.
func SplitFee(grossCents, feeBPS int64) FeeSplit {
	rate := decimal.New(feeBPS, 0).Div(decimal.NewFromInt(BasisPointsPerWhole))
	net := FromCents(grossCents).Mul(decimal.NewFromInt(1).Sub(rate))
	netCents := ToCents(net)
	return FeeSplit{
		GrossCents: grossCents,
		FeeCents:   grossCents - netCents,
		NetCents:   netCents,
	}
}

// PriceForQuantity returns round2(quantity / 1000 * unitPricePer1k) in cents.
func PriceForQuantity(quantity, unitPricePer1kCents int64) int64 {
	blocks := decimal.NewFromInt(quantity).Div(decimal.NewFromInt(UnitsPerPriceBlock))
	return ToCents(blocks.Mul(FromCents(unitPricePer1kCents)))
}
