package entities

import (
	"math"
	"strings"
	"time"
)

type Operator string

const (
	OperatorGreater Operator = ">"
	OperatorLess    Operator = "<"
	OperatorEqual   Operator = "="
)

const equalityTolerance = 1e-9

// Condition is one metric threshold over a trailing window.
type Condition struct {
	Metric         Metric   `json:"metric" yaml:"metric"`
	TimeWindowDays int      `json:"timeWindowDays" yaml:"timeWindowDays"`
	Operator       Operator `json:"operator" yaml:"operator"`
	Value          float64  `json:"value" yaml:"value"`
}

// CheckCondition is total over the three operators. Infinite values compare
// as ordinary IEEE floats; NaN never passes.
func CheckCondition(value float64, op Operator, threshold float64) bool {
	if math.IsNaN(value) || math.IsNaN(threshold) {
		return false
	}
	switch op {
	case OperatorGreater:
		return value > threshold
	case OperatorLess:
		return value < threshold
	case OperatorEqual:
		if math.IsInf(value, 0) || math.IsInf(threshold, 0) {
			return value == threshold
		}
		return math.Abs(value-threshold) <= equalityTolerance
	default:
		return false
	}
}

type ActionType string

const (
	ActionIncreaseBidPercent ActionType = "increaseBidPercent"
	ActionDecreaseBidPercent ActionType = "decreaseBidPercent"
	ActionIncreaseBidAmount  ActionType = "increaseBidAmount"
	ActionDecreaseBidAmount  ActionType = "decreaseBidAmount"
	ActionAdjustBidPercent   ActionType = "adjustBidPercent"

	ActionNegateSearchTerm  ActionType = "negateSearchTerm"
	ActionHarvestSearchTerm ActionType = "harvestSearchTerm"
	ActionNegateIrrelevant  ActionType = "negateIfIrrelevant"

	ActionIncreaseBudgetPercent ActionType = "increaseBudgetPercent"
	ActionSetBudgetAmount       ActionType = "setBudgetAmount"
)

type MatchType string

const (
	MatchExact          MatchType = "EXACT"
	MatchPhrase         MatchType = "PHRASE"
	MatchBroad          MatchType = "BROAD"
	MatchNegativeExact  MatchType = "NEGATIVE_EXACT"
	MatchNegativePhrase MatchType = "NEGATIVE_PHRASE"
)

// Action is an immutable value; normalization returns a new Action.
type Action struct {
	Type      ActionType `json:"type" yaml:"type"`
	Value     float64    `json:"value" yaml:"value"`
	MinBid    *float64   `json:"minBid,omitempty" yaml:"minBid"`
	MaxBid    *float64   `json:"maxBid,omitempty" yaml:"maxBid"`
	MaxBudget *float64   `json:"maxBudget,omitempty" yaml:"maxBudget"`
	MatchType MatchType  `json:"matchType,omitempty" yaml:"matchType"`
	Harvest   *Harvest   `json:"harvest,omitempty" yaml:"harvest"`
}

// Harvest describes where a winning search term is promoted to.
type Harvest struct {
	// CampaignID and AdGroupID select an existing destination; empty means
	// a new campaign and ad group are created for the term.
	CampaignID          string   `json:"campaignId,omitempty" yaml:"campaignId"`
	AdGroupID           string   `json:"adGroupId,omitempty" yaml:"adGroupId"`
	CampaignNameTmpl    string   `json:"campaignName,omitempty" yaml:"campaignName"`
	DailyBudget         float64  `json:"dailyBudget,omitempty" yaml:"dailyBudget"`
	BidMode             BidMode  `json:"bidMode,omitempty" yaml:"bidMode"`
	BidValue            float64  `json:"bidValue,omitempty" yaml:"bidValue"`
	CPCMultiplier       float64  `json:"cpcMultiplier,omitempty" yaml:"cpcMultiplier"`
	DisableNegateSource bool     `json:"disableNegateSource,omitempty" yaml:"disableNegateSource"`
	MaxBid              *float64 `json:"maxBid,omitempty" yaml:"maxBid"`
}

type BidMode string

const (
	BidModeFixed         BidMode = "fixed"
	BidModeCPCMultiplier BidMode = "cpcMultiplier"
)

func (h Harvest) UsesExistingDestination() bool {
	return strings.TrimSpace(h.CampaignID) != "" && strings.TrimSpace(h.AdGroupID) != ""
}

// Normalize maps legacy action shapes onto their current equivalents.
func (a Action) Normalize() Action {
	out := a
	if a.Type == ActionAdjustBidPercent {
		switch {
		case a.Value > 0:
			out.Type = ActionIncreaseBidPercent
		case a.Value < 0:
			out.Type = ActionDecreaseBidPercent
			out.Value = -a.Value
		default:
			out.Type = ActionIncreaseBidPercent
			out.Value = 0
		}
	}
	if a.Harvest != nil {
		h := *a.Harvest
		out.Harvest = &h
	}
	return out
}

func (a Action) IsBidIncrease() bool {
	return a.Type == ActionIncreaseBidPercent || a.Type == ActionIncreaseBidAmount
}

func (a Action) IsBidDecrease() bool {
	return a.Type == ActionDecreaseBidPercent || a.Type == ActionDecreaseBidAmount
}

// ConditionGroup is an AND of conditions paired with one action.
type ConditionGroup struct {
	Conditions []Condition `json:"conditions" yaml:"conditions"`
	Action     Action      `json:"action" yaml:"action"`
}

// MaxWindowDays is the longest lookback any condition in the group needs.
func (g ConditionGroup) MaxWindowDays() int {
	max := 0
	for _, c := range g.Conditions {
		if c.TimeWindowDays > max {
			max = c.TimeWindowDays
		}
	}
	return max
}

// Matches reports whether every condition passes for the given daily series.
func (g ConditionGroup) Matches(window PerformanceWindow, reference time.Time) bool {
	if len(g.Conditions) == 0 {
		return false
	}
	for _, c := range g.Conditions {
		metrics := window.Metrics(c.TimeWindowDays, reference)
		if !CheckCondition(metrics.Value(c.Metric), c.Operator, c.Value) {
			return false
		}
	}
	return true
}

// Match is the outcome of first-match-wins evaluation.
type Match struct {
	GroupIndex int
	Group      ConditionGroup
	Metrics    WindowMetrics
}

// FirstMatch evaluates groups in declaration order and returns the first one
// whose every condition passes. Later groups are never consulted.
func FirstMatch(groups []ConditionGroup, window PerformanceWindow, reference time.Time) (Match, bool) {
	for i, g := range groups {
		if g.Matches(window, reference) {
			return Match{
				GroupIndex: i,
				Group:      g,
				Metrics:    window.Metrics(g.MaxWindowDays(), reference),
			}, true
		}
	}
	return Match{}, false
}

// MaxLookbackDays is the longest window across all groups.
func MaxLookbackDays(groups []ConditionGroup) int {
	max := 0
	for _, g := range groups {
		if d := g.MaxWindowDays(); d > max {
			max = d
		}
	}
	return max
}

// FirstMatchMetrics is FirstMatch against a single precomputed window, used
// when the data source is already aggregated to one period.
func FirstMatchMetrics(groups []ConditionGroup, metrics WindowMetrics) (Match, bool) {
	for i, g := range groups {
		if len(g.Conditions) == 0 {
			continue
		}
		matched := true
		for _, c := range g.Conditions {
			if !CheckCondition(metrics.Value(c.Metric), c.Operator, c.Value) {
				matched = false
				break
			}
		}
		if matched {
			return Match{GroupIndex: i, Group: g, Metrics: metrics}, true
		}
	}
	return Match{}, false
}
