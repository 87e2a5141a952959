package utils

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// ToMinorUnits converts a decimal currency amount to integer minor units
// (grosze/cents) for the processor wire format.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func FromMinorUnits(n int64) decimal.Decimal {
	return decimal.NewFromInt(n).Div(hundred)
}
