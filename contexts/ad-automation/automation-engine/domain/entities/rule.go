package entities

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
)

type RuleType string

const (
	RuleTypeBidAdjustment        RuleType = "BID_ADJUSTMENT"
	RuleTypeSearchTermAutomation RuleType = "SEARCH_TERM_AUTOMATION"
	RuleTypeSearchTermHarvesting RuleType = "SEARCH_TERM_HARVESTING"
	RuleTypeBudgetAcceleration   RuleType = "BUDGET_ACCELERATION"
	RuleTypePriceAdjustment      RuleType = "PRICE_ADJUSTMENT"
	RuleTypeAINegation           RuleType = "AI_SEARCH_TERM_NEGATION"
)

func IsSupportedRuleType(value RuleType) bool {
	switch value {
	case RuleTypeBidAdjustment, RuleTypeSearchTermAutomation, RuleTypeSearchTermHarvesting,
		RuleTypeBudgetAcceleration, RuleTypePriceAdjustment, RuleTypeAINegation:
		return true
	default:
		return false
	}
}

type TimeUnit string

const (
	UnitMinutes TimeUnit = "minutes"
	UnitHours   TimeUnit = "hours"
	UnitDays    TimeUnit = "days"
)

func (u TimeUnit) duration() time.Duration {
	switch TimeUnit(strings.TrimSuffix(string(u), "s") + "s") {
	case UnitMinutes:
		return time.Minute
	case UnitHours:
		return time.Hour
	case UnitDays:
		return 24 * time.Hour
	default:
		return 0
	}
}

type Frequency struct {
	Unit  TimeUnit `json:"unit" yaml:"unit"`
	Value int      `json:"value" yaml:"value"`
	// StartTime is "HH:MM" in the reference timezone; only meaningful for days.
	StartTime string `json:"startTime,omitempty" yaml:"startTime"`
}

func (f Frequency) Interval() time.Duration {
	return time.Duration(f.Value) * f.Unit.duration()
}

// StartClock parses StartTime into hour and minute.
func (f Frequency) StartClock() (int, int, bool) {
	raw := strings.TrimSpace(f.StartTime)
	if raw == "" {
		return 0, 0, false
	}
	parsed, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, 0, false
	}
	return parsed.Hour(), parsed.Minute(), true
}

type Cooldown struct {
	Unit  TimeUnit `json:"unit" yaml:"unit"`
	Value int      `json:"value" yaml:"value"`
}

func (c Cooldown) Duration() time.Duration {
	if c.Value <= 0 {
		return 0
	}
	return time.Duration(c.Value) * c.Unit.duration()
}

// Schedule is embedded by every config variant.
type Schedule struct {
	Frequency Frequency `json:"frequency" yaml:"frequency"`
	Cooldown  Cooldown  `json:"cooldown" yaml:"cooldown"`
}

func (s Schedule) schedule() Schedule { return s }

// RuleConfig is the sealed sum of per-type rule configurations.
type RuleConfig interface {
	RuleType() RuleType
	schedule() Schedule
}

// ScheduleOf exposes the shared schedule of any config variant.
func ScheduleOf(cfg RuleConfig) Schedule {
	if cfg == nil {
		return Schedule{}
	}
	return cfg.schedule()
}

type BidAdjustmentConfig struct {
	Schedule
	ConditionGroups []ConditionGroup `json:"conditionGroups" yaml:"conditionGroups"`
	// EntityTypes narrows evaluation to keywords, targets or both (default both).
	EntityTypes []EntityType `json:"entityTypes,omitempty" yaml:"entityTypes"`
}

func (BidAdjustmentConfig) RuleType() RuleType { return RuleTypeBidAdjustment }

type SearchTermAutomationConfig struct {
	Schedule
	ConditionGroups []ConditionGroup `json:"conditionGroups" yaml:"conditionGroups"`
}

func (SearchTermAutomationConfig) RuleType() RuleType { return RuleTypeSearchTermAutomation }

type HarvestingConfig struct {
	Schedule
	ConditionGroups []ConditionGroup `json:"conditionGroups" yaml:"conditionGroups"`
}

func (HarvestingConfig) RuleType() RuleType { return RuleTypeSearchTermHarvesting }

type BudgetAccelerationConfig struct {
	Schedule
	ConditionGroups []ConditionGroup `json:"conditionGroups" yaml:"conditionGroups"`
}

func (BudgetAccelerationConfig) RuleType() RuleType { return RuleTypeBudgetAcceleration }

type PriceItem struct {
	SKU   string  `json:"sku" yaml:"sku"`
	Step  float64 `json:"step" yaml:"step"`
	Limit float64 `json:"limit" yaml:"limit"`
}

type PriceAdjustmentConfig struct {
	Schedule
	Items []PriceItem `json:"items" yaml:"items"`
}

func (PriceAdjustmentConfig) RuleType() RuleType { return RuleTypePriceAdjustment }

type AINegationConfig struct {
	Schedule
	ConditionGroups []ConditionGroup `json:"conditionGroups" yaml:"conditionGroups"`
	// Action applied to terms classified as not relevant.
	MatchType MatchType `json:"matchType,omitempty" yaml:"matchType"`
}

func (AINegationConfig) RuleType() RuleType { return RuleTypeAINegation }

// Rule is the persisted automation definition.
type Rule struct {
	RuleID    string
	Name      string
	Type      RuleType
	IsActive  bool
	ProfileID string
	// CampaignIDs is the campaign scope; empty is valid only for price rules.
	CampaignIDs []string
	Config      RuleConfig
	LastRunAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (r Rule) Schedule() Schedule { return ScheduleOf(r.Config) }

func (r Rule) HasCampaignScope() bool {
	for _, id := range r.CampaignIDs {
		if strings.TrimSpace(id) != "" {
			return true
		}
	}
	return false
}

// DecodeRuleConfig parses a stored JSON config into its typed variant,
// normalizing legacy actions and validating the result.
func DecodeRuleConfig(ruleType RuleType, raw []byte) (RuleConfig, error) {
	var cfg RuleConfig
	var err error
	switch ruleType {
	case RuleTypeBidAdjustment:
		var c BidAdjustmentConfig
		err = json.Unmarshal(raw, &c)
		c.ConditionGroups = NormalizeGroups(c.ConditionGroups)
		cfg = c
	case RuleTypeSearchTermAutomation:
		var c SearchTermAutomationConfig
		err = json.Unmarshal(raw, &c)
		c.ConditionGroups = NormalizeGroups(c.ConditionGroups)
		cfg = c
	case RuleTypeSearchTermHarvesting:
		var c HarvestingConfig
		err = json.Unmarshal(raw, &c)
		c.ConditionGroups = NormalizeGroups(c.ConditionGroups)
		cfg = c
	case RuleTypeBudgetAcceleration:
		var c BudgetAccelerationConfig
		err = json.Unmarshal(raw, &c)
		c.ConditionGroups = NormalizeGroups(c.ConditionGroups)
		cfg = c
	case RuleTypePriceAdjustment:
		var c PriceAdjustmentConfig
		err = json.Unmarshal(raw, &c)
		cfg = c
	case RuleTypeAINegation:
		var c AINegationConfig
		err = json.Unmarshal(raw, &c)
		c.ConditionGroups = NormalizeGroups(c.ConditionGroups)
		cfg = c
	default:
		return nil, fmt.Errorf("rule type %q: %w", ruleType, domainerrors.ErrUnsupportedRule)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s config: %w: %v", ruleType, domainerrors.ErrInvalidRuleConfig, err)
	}
	if err := ValidateRuleConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NormalizeGroups returns new groups with every action normalized.
func NormalizeGroups(groups []ConditionGroup) []ConditionGroup {
	if groups == nil {
		return nil
	}
	out := make([]ConditionGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, ConditionGroup{
			Conditions: append([]Condition(nil), g.Conditions...),
			Action:     g.Action.Normalize(),
		})
	}
	return out
}

// EncodeRuleConfig is the inverse of DecodeRuleConfig.
func EncodeRuleConfig(cfg RuleConfig) ([]byte, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", domainerrors.ErrInvalidRuleConfig)
	}
	return json.Marshal(cfg)
}
