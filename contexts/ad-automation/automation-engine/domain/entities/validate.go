package entities

import (
	"fmt"

	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domainerrors.ErrInvalidRuleConfig, fmt.Sprintf(format, args...))
}

// ValidateRuleConfig checks the shape of a decoded config.
func ValidateRuleConfig(cfg RuleConfig) error {
	if cfg == nil {
		return invalid("config is required")
	}
	if err := validateSchedule(ScheduleOf(cfg)); err != nil {
		return err
	}

	switch c := cfg.(type) {
	case BidAdjustmentConfig:
		return validateGroups(c.ConditionGroups, ActionIncreaseBidPercent, ActionDecreaseBidPercent,
			ActionIncreaseBidAmount, ActionDecreaseBidAmount)
	case SearchTermAutomationConfig:
		return validateGroups(c.ConditionGroups, ActionNegateSearchTerm)
	case HarvestingConfig:
		if err := validateGroups(c.ConditionGroups, ActionHarvestSearchTerm); err != nil {
			return err
		}
		for i, g := range c.ConditionGroups {
			if g.Action.Harvest == nil {
				return invalid("conditionGroups[%d]: harvest settings are required", i)
			}
			h := *g.Action.Harvest
			if (h.CampaignID == "") != (h.AdGroupID == "") {
				return invalid("conditionGroups[%d]: destination needs both campaignId and adGroupId", i)
			}
			if !h.UsesExistingDestination() {
				switch h.BidMode {
				case BidModeFixed:
					if h.BidValue <= 0 {
						return invalid("conditionGroups[%d]: fixed bid must be positive", i)
					}
				case BidModeCPCMultiplier:
					if h.CPCMultiplier <= 0 {
						return invalid("conditionGroups[%d]: cpc multiplier must be positive", i)
					}
				default:
					return invalid("conditionGroups[%d]: unknown bid mode %q", i, h.BidMode)
				}
			}
		}
		return nil
	case BudgetAccelerationConfig:
		return validateGroups(c.ConditionGroups, ActionIncreaseBudgetPercent, ActionSetBudgetAmount)
	case PriceAdjustmentConfig:
		if len(c.Items) == 0 {
			return invalid("price rule needs at least one sku")
		}
		for i, item := range c.Items {
			if item.SKU == "" {
				return invalid("items[%d]: sku is required", i)
			}
			if item.Step <= 0 || item.Limit <= 0 {
				return invalid("items[%d]: step and limit must be positive", i)
			}
		}
		return nil
	case AINegationConfig:
		return validateGroups(c.ConditionGroups, ActionNegateIrrelevant)
	default:
		return fmt.Errorf("%w: %T", domainerrors.ErrUnsupportedRule, cfg)
	}
}

func validateSchedule(s Schedule) error {
	if s.Frequency.Value <= 0 || s.Frequency.Unit.duration() == 0 {
		return invalid("frequency needs a positive value and a unit of minutes, hours or days")
	}
	if s.Frequency.StartTime != "" {
		if s.Frequency.Unit != UnitDays {
			return invalid("startTime is only supported for daily frequencies")
		}
		if _, _, ok := s.Frequency.StartClock(); !ok {
			return invalid("startTime %q must be HH:MM", s.Frequency.StartTime)
		}
	}
	if s.Cooldown.Value < 0 || (s.Cooldown.Value > 0 && s.Cooldown.Unit.duration() == 0) {
		return invalid("cooldown needs a unit of minutes, hours or days")
	}
	return nil
}

func validateGroups(groups []ConditionGroup, allowed ...ActionType) error {
	if len(groups) == 0 {
		return invalid("at least one condition group is required")
	}
	for i, g := range groups {
		if len(g.Conditions) == 0 {
			return invalid("conditionGroups[%d]: at least one condition is required", i)
		}
		for j, c := range g.Conditions {
			if !IsSupportedMetric(c.Metric) {
				return invalid("conditionGroups[%d].conditions[%d]: unknown metric %q", i, j, c.Metric)
			}
			switch c.Operator {
			case OperatorGreater, OperatorLess, OperatorEqual:
			default:
				return invalid("conditionGroups[%d].conditions[%d]: unknown operator %q", i, j, c.Operator)
			}
			if c.TimeWindowDays < 0 || c.TimeWindowDays > 90 {
				return invalid("conditionGroups[%d].conditions[%d]: timeWindowDays must be 0-90", i, j)
			}
		}
		if !actionAllowed(g.Action.Type, allowed) {
			return invalid("conditionGroups[%d]: action %q is not valid for this rule type", i, g.Action.Type)
		}
		if g.Action.Value < 0 && signedAction(g.Action.Type) {
			return invalid("conditionGroups[%d]: %s value must not be negative", i, g.Action.Type)
		}
	}
	return nil
}

func actionAllowed(t ActionType, allowed []ActionType) bool {
	for _, a := range allowed {
		if a == t {
			return true
		}
	}
	return false
}

// signedAction reports whether the action type already carries the
// direction, so a negative value would contradict it.
func signedAction(t ActionType) bool {
	switch t {
	case ActionIncreaseBidPercent, ActionDecreaseBidPercent,
		ActionIncreaseBidAmount, ActionDecreaseBidAmount,
		ActionIncreaseBudgetPercent, ActionSetBudgetAmount:
		return true
	}
	return false
}
