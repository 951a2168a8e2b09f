package gateway

import "github.com/shopspring/decimal"

// The gateway speaks in major currency units with two decimals.

func amountFromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func centsFromAmount(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
