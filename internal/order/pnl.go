package order

import "github.com/shopspring/decimal"

// RealizedPnL is (exit - entry) * signed quantity * multiplier, rounded to
// cents. A short position carries a negative quantity.
func RealizedPnL(entry, exit float64, qty int64, multiplier float64) float64 {
	if multiplier <= 0 {
		multiplier = 1
	}
	pnl := decimal.NewFromFloat(exit).
		Sub(decimal.NewFromFloat(entry)).
		Mul(decimal.NewFromInt(qty)).
		Mul(decimal.NewFromFloat(multiplier)).
		Round(2)
	f, _ := pnl.Float64()
	return f
}

func weightedEntry(prevPrice float64, prevQty int64, price float64, addQty int64) float64 {
	total := abs(prevQty) + abs(addQty)
	if total == 0 {
		return price
	}
	notional := decimal.NewFromFloat(prevPrice).Mul(decimal.NewFromInt(abs(prevQty))).
		Add(decimal.NewFromFloat(price).Mul(decimal.NewFromInt(abs(addQty))))
	f, _ := notional.Div(decimal.NewFromInt(total)).Float64()
	return f
}
