package services

import (
	"github.com/shopspring/decimal"

	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
)

// NextBudget computes an accelerated daily budget. Acceleration only ever
// raises a budget; a result at or below the current one reports false.
func NextBudget(current float64, action entities.Action) (float64, bool) {
	cur := decimal.NewFromFloat(current)
	var next decimal.Decimal
	switch action.Type {
	case entities.ActionIncreaseBudgetPercent:
		next = cur.Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(action.Value).Div(hundred)))
	case entities.ActionSetBudgetAmount:
		next = decimal.NewFromFloat(action.Value)
	default:
		return current, false
	}
	next = next.Round(2)
	if action.MaxBudget != nil {
		next = decimal.Min(next, decimal.NewFromFloat(*action.MaxBudget))
	}
	if !next.GreaterThan(cur) {
		return current, false
	}
	out, _ := next.Float64()
	return out, true
}
