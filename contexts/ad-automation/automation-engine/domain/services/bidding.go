package services

import (
	"github.com/shopspring/decimal"

	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
)

// PlatformMinimumBid is the lowest bid the advertising platform accepts.
const PlatformMinimumBid = 0.02

type BidOutcome string

const (
	BidChanged   BidOutcome = "changed"
	BidUnchanged BidOutcome = "unchanged"
	// BidBlockedByMinimum marks a decrease that the minBid floor would turn
	// into a raise.
	BidBlockedByMinimum BidOutcome = "blocked_by_min_bid"
	// BidBlockedByMaximum is the mirror case for increases capped below the
	// current bid.
	BidBlockedByMaximum BidOutcome = "blocked_by_max_bid"
	BidNotApplicable    BidOutcome = "not_applicable"
)

var hundred = decimal.NewFromInt(100)

// NextBid applies a bid action to the current bid. Decreases round down to
// the cent and increases round up, then the result is clamped to the
// platform floor and the optional minBid/maxBid bounds.
func NextBid(current float64, action entities.Action) (float64, BidOutcome) {
	cur := decimal.NewFromFloat(current)
	value := decimal.NewFromFloat(action.Value)

	var next decimal.Decimal
	switch action.Type {
	case entities.ActionIncreaseBidPercent:
		next = cur.Mul(decimal.NewFromInt(1).Add(value.Div(hundred))).RoundCeil(2)
	case entities.ActionDecreaseBidPercent:
		next = cur.Mul(decimal.NewFromInt(1).Sub(value.Div(hundred))).RoundFloor(2)
	case entities.ActionIncreaseBidAmount:
		next = cur.Add(value).RoundCeil(2)
	case entities.ActionDecreaseBidAmount:
		next = cur.Sub(value).RoundFloor(2)
	default:
		return current, BidNotApplicable
	}

	floor := decimal.NewFromFloat(PlatformMinimumBid)
	if action.MinBid != nil {
		floor = decimal.Max(floor, decimal.NewFromFloat(*action.MinBid))
	}
	next = decimal.Max(next, floor)
	if action.MaxBid != nil {
		next = decimal.Min(next, decimal.NewFromFloat(*action.MaxBid))
	}

	switch {
	case next.Equal(cur):
		return current, BidUnchanged
	case action.IsBidDecrease() && next.GreaterThan(cur):
		return current, BidBlockedByMinimum
	case action.IsBidIncrease() && next.LessThan(cur):
		return current, BidBlockedByMaximum
	}
	out, _ := next.Float64()
	return out, BidChanged
}

// RoundCents rounds half away from zero to two decimals.
func RoundCents(value float64) float64 {
	out, _ := decimal.NewFromFloat(value).Round(2).Float64()
	return out
}
