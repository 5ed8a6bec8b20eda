package tradingutils

import (
	"github.com/shopspring/decimal"
)

// QuantizeToStep floors a quantity to an exact multiple of the venue's lot
// step. A zero or negative step leaves the quantity untouched.
func QuantizeToStep(qty, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

// AlignToTick snaps a price to the nearest multiple of the venue's tick size.
// A zero or negative tick leaves the price untouched.
func AlignToTick(price, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return price
	}
	return price.Div(tick).Round(0).Mul(tick)
}

// NetProfit computes the profit of a round trip after fees on both legs.
func NetProfit(entryPrice, exitPrice, entryFeeRate, exitFeeRate decimal.Decimal) decimal.Decimal {
	gross := exitPrice.Sub(entryPrice)
	entryFee := entryPrice.Mul(entryFeeRate)
	exitFee := exitPrice.Mul(exitFeeRate)
	return gross.Sub(entryFee).Sub(exitFee)
}
