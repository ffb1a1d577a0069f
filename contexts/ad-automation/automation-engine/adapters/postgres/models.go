package postgresadapter

import (
	"encoding/json"
	"strings"
	"time"

	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
	"adpilot/contexts/ad-automation/automation-engine/ports"

	"gorm.io/datatypes"
)

type automationRuleModel struct {
	ID          string         `gorm:"column:id;primaryKey"`
	Name        string         `gorm:"column:name"`
	RuleType    string         `gorm:"column:rule_type;index"`
	IsActive    bool           `gorm:"column:is_active;index"`
	ProfileID   string         `gorm:"column:profile_id"`
	CampaignIDs datatypes.JSON `gorm:"column:campaign_ids"`
	Config      datatypes.JSON `gorm:"column:config"`
	LastRunAt   *time.Time     `gorm:"column:last_run_at"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at"`
}

func (automationRuleModel) TableName() string {
	return "automation_rules"
}

func (m automationRuleModel) toEntity() (entities.Rule, error) {
	ruleType := entities.RuleType(strings.TrimSpace(m.RuleType))
	cfg, err := entities.DecodeRuleConfig(ruleType, m.Config)
	if err != nil {
		return entities.Rule{}, err
	}
	var campaignIDs []string
	if len(m.CampaignIDs) > 0 {
		if err := json.Unmarshal(m.CampaignIDs, &campaignIDs); err != nil {
			return entities.Rule{}, err
		}
	}
	return entities.Rule{
		RuleID:      m.ID,
		Name:        m.Name,
		Type:        ruleType,
		IsActive:    m.IsActive,
		ProfileID:   m.ProfileID,
		CampaignIDs: campaignIDs,
		Config:      cfg,
		LastRunAt:   normalizeOptionalTime(m.LastRunAt),
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}, nil
}

func automationRuleModelFromEntity(rule entities.Rule) (automationRuleModel, error) {
	cfg, err := entities.EncodeRuleConfig(rule.Config)
	if err != nil {
		return automationRuleModel{}, err
	}
	campaignIDs, err := json.Marshal(rule.CampaignIDs)
	if err != nil {
		return automationRuleModel{}, err
	}
	return automationRuleModel{
		ID:          strings.TrimSpace(rule.RuleID),
		Name:        rule.Name,
		RuleType:    string(rule.Type),
		IsActive:    rule.IsActive,
		ProfileID:   strings.TrimSpace(rule.ProfileID),
		CampaignIDs: datatypes.JSON(campaignIDs),
		Config:      datatypes.JSON(cfg),
		LastRunAt:   normalizeOptionalTime(rule.LastRunAt),
		CreatedAt:   rule.CreatedAt.UTC(),
		UpdatedAt:   rule.UpdatedAt.UTC(),
	}, nil
}

type automationLogModel struct {
	ID      string         `gorm:"column:id;primaryKey"`
	RuleID  string         `gorm:"column:rule_id;index"`
	Status  string         `gorm:"column:status"`
	Summary string         `gorm:"column:summary"`
	Details datatypes.JSON `gorm:"column:details"`
	RunAt   time.Time      `gorm:"column:run_at;index"`
}

func (automationLogModel) TableName() string {
	return "automation_logs"
}

func (m automationLogModel) toEntity() entities.AutomationLog {
	var details entities.RunDetails
	if len(m.Details) > 0 {
		_ = json.Unmarshal(m.Details, &details)
	}
	return entities.AutomationLog{
		LogID:   m.ID,
		RuleID:  m.RuleID,
		Status:  entities.RunStatus(m.Status),
		Summary: m.Summary,
		Details: details,
		RunAt:   m.RunAt.UTC(),
	}
}

type performanceDailyModel struct {
	ID           uint    `gorm:"column:id;primaryKey;autoIncrement"`
	ReportDate   string  `gorm:"column:report_date;size:10;index:idx_performance_scope,priority:3"`
	ProfileID    string  `gorm:"column:profile_id;index:idx_performance_scope,priority:1"`
	EntityType   string  `gorm:"column:entity_type;index:idx_performance_scope,priority:4"`
	EntityID     string  `gorm:"column:entity_id"`
	CampaignID   string  `gorm:"column:campaign_id;index:idx_performance_scope,priority:2"`
	CampaignName string  `gorm:"column:campaign_name"`
	AdGroupID    string  `gorm:"column:ad_group_id"`
	AdGroupName  string  `gorm:"column:ad_group_name"`
	EntityText   string  `gorm:"column:entity_text"`
	MatchType    string  `gorm:"column:match_type"`
	SourceASIN   string  `gorm:"column:source_asin"`
	Impressions  int64   `gorm:"column:impressions"`
	Clicks       int64   `gorm:"column:clicks"`
	Orders       int64   `gorm:"column:orders"`
	Spend        float64 `gorm:"column:spend"`
	Sales        float64 `gorm:"column:sales"`
}

func (performanceDailyModel) TableName() string {
	return "performance_daily"
}

func (m performanceDailyModel) toRow() ports.PerformanceRow {
	return ports.PerformanceRow{
		Date:         m.ReportDate,
		EntityType:   entities.EntityType(m.EntityType),
		EntityID:     m.EntityID,
		CampaignID:   m.CampaignID,
		CampaignName: m.CampaignName,
		AdGroupID:    m.AdGroupID,
		AdGroupName:  m.AdGroupName,
		EntityText:   m.EntityText,
		MatchType:    m.MatchType,
		SourceASIN:   m.SourceASIN,
		Impressions:  m.Impressions,
		Clicks:       m.Clicks,
		Orders:       m.Orders,
		Spend:        m.Spend,
		Sales:        m.Sales,
	}
}

type throttleModel struct {
	ID        string    `gorm:"column:id;primaryKey"`
	RuleID    string    `gorm:"column:rule_id;uniqueIndex:idx_throttle_identity,priority:1"`
	Kind      string    `gorm:"column:kind;uniqueIndex:idx_throttle_identity,priority:2"`
	EntityKey string    `gorm:"column:entity_key;uniqueIndex:idx_throttle_identity,priority:3"`
	ActedAt   time.Time `gorm:"column:acted_at"`
}

func (throttleModel) TableName() string {
	return "automation_throttle"
}

type budgetOverrideModel struct {
	ID             string     `gorm:"column:id;primaryKey"`
	RuleID         string     `gorm:"column:rule_id"`
	ProfileID      string     `gorm:"column:profile_id"`
	CampaignID     string     `gorm:"column:campaign_id;uniqueIndex:idx_override_campaign_date,priority:1"`
	OverrideDate   string     `gorm:"column:override_date;size:10;uniqueIndex:idx_override_campaign_date,priority:2"`
	OriginalBudget float64    `gorm:"column:original_budget"`
	NewBudget      float64    `gorm:"column:new_budget"`
	RevertedAt     *time.Time `gorm:"column:reverted_at"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
}

func (budgetOverrideModel) TableName() string {
	return "daily_budget_overrides"
}

func (m budgetOverrideModel) toEntity() entities.DailyBudgetOverride {
	return entities.DailyBudgetOverride{
		OverrideID:     m.ID,
		RuleID:         m.RuleID,
		ProfileID:      m.ProfileID,
		CampaignID:     m.CampaignID,
		OriginalBudget: m.OriginalBudget,
		NewBudget:      m.NewBudget,
		OverrideDate:   m.OverrideDate,
		RevertedAt:     normalizeOptionalTime(m.RevertedAt),
		CreatedAt:      m.CreatedAt.UTC(),
	}
}

func normalizeOptionalTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	t := value.UTC()
	return &t
}
