package services

import "github.com/shopspring/decimal"

// MinimumPriceReset is the smallest step back taken when a price reaches its limit.
const MinimumPriceReset = 0.50

// NextPrice implements sawtooth pricing: step upward until the limit would
// be reached, then drop below the current price by max(step, 0.50).
// Steps above 0.50 drop by the full step: 19.50 with step 1.00 and limit
// 20.00 resets to 18.50, not 19.00. The bool reports whether the reset
// branch was taken.
func NextPrice(current, step, limit float64) (float64, bool) {
	cur := decimal.NewFromFloat(current)
	stepD := decimal.NewFromFloat(step)
	candidate := cur.Add(stepD).Round(2)
	if candidate.LessThan(decimal.NewFromFloat(limit)) {
		out, _ := candidate.Float64()
		return out, false
	}
	back := decimal.Max(stepD, decimal.NewFromFloat(MinimumPriceReset))
	reset := cur.Sub(back).Round(2)
	if reset.LessThanOrEqual(decimal.Zero) {
		reset = decimal.New(1, -2)
	}
	out, _ := reset.Float64()
	return out, true
}

// PriceDiffers compares two prices at cent precision.
func PriceDiffers(a, b float64) bool {
	return !decimal.NewFromFloat(a).Round(2).Equal(decimal.NewFromFloat(b).Round(2))
}
