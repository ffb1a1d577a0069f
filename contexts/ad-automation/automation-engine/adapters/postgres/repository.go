package postgresadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
	"adpilot/contexts/ad-automation/automation-engine/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Migrate creates or updates every automation table.
func (r *Repository) Migrate(ctx context.Context) error {
	err := r.db.WithContext(ctx).AutoMigrate(
		&automationRuleModel{},
		&automationLogModel{},
		&performanceDailyModel{},
		&throttleModel{},
		&budgetOverrideModel{},
	)
	if err != nil {
		return r.logError("automation_repo_migrate_failed", err)
	}
	return nil
}

func (r *Repository) SaveRule(ctx context.Context, rule entities.Rule) error {
	row, err := automationRuleModelFromEntity(rule)
	if err != nil {
		r.logWarn("automation_repo_save_rule_invalid", "rule_id", rule.RuleID, "error", err.Error())
		return err
	}
	if err := r.db.WithContext(ctx).Save(&row).Error; err != nil {
		return r.logError("automation_repo_save_rule_failed", err, "rule_id", row.ID)
	}
	return nil
}

// ListActiveRules skips rows whose config no longer decodes; they are
// logged and left for an operator to fix.
func (r *Repository) ListActiveRules(ctx context.Context) ([]entities.Rule, error) {
	var rows []automationRuleModel
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).
		Error; err != nil {
		return nil, r.logError("automation_repo_list_rules_failed", err)
	}
	items := make([]entities.Rule, 0, len(rows))
	for _, row := range rows {
		rule, err := row.toEntity()
		if err != nil {
			r.logWarn("automation_repo_rule_config_invalid",
				"rule_id", row.ID,
				"rule_type", row.RuleType,
				"error", err.Error(),
			)
			continue
		}
		items = append(items, rule)
	}
	return items, nil
}

func (r *Repository) GetRule(ctx context.Context, ruleID string) (entities.Rule, error) {
	var row automationRuleModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(ruleID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Rule{}, domainerrors.ErrRuleNotFound
		}
		return entities.Rule{}, r.logError("automation_repo_get_rule_failed", err, "rule_id", ruleID)
	}
	return row.toEntity()
}

func (r *Repository) MarkRuleRun(ctx context.Context, ruleID string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&automationRuleModel{}).
		Where("id = ?", strings.TrimSpace(ruleID)).
		Updates(map[string]any{
			"last_run_at": at.UTC(),
			"updated_at":  at.UTC(),
		})
	if result.Error != nil {
		return r.logError("automation_repo_mark_run_failed", result.Error, "rule_id", ruleID)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrRuleNotFound
	}
	return nil
}

func (r *Repository) AppendLog(ctx context.Context, log entities.AutomationLog) error {
	details, err := json.Marshal(log.Details)
	if err != nil {
		return r.logError("automation_repo_log_encode_failed", err, "rule_id", log.RuleID)
	}
	id := strings.TrimSpace(log.LogID)
	if id == "" {
		id = uuid.NewString()
	}
	row := automationLogModel{
		ID:      id,
		RuleID:  log.RuleID,
		Status:  string(log.Status),
		Summary: log.Summary,
		Details: datatypes.JSON(details),
		RunAt:   log.RunAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return r.logError("automation_repo_append_log_failed", err, "rule_id", log.RuleID)
	}
	return nil
}

func (r *Repository) ListLogs(ctx context.Context, ruleID string, limit int) ([]entities.AutomationLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := r.db.WithContext(ctx).Model(&automationLogModel{})
	if strings.TrimSpace(ruleID) != "" {
		query = query.Where("rule_id = ?", strings.TrimSpace(ruleID))
	}
	var rows []automationLogModel
	if err := query.Order("run_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, r.logError("automation_repo_list_logs_failed", err, "rule_id", ruleID)
	}
	items := make([]entities.AutomationLog, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) QueryPerformance(ctx context.Context, q ports.PerformanceQuery) ([]ports.PerformanceRow, error) {
	query := r.db.WithContext(ctx).
		Model(&performanceDailyModel{}).
		Where("campaign_id IN ?", q.CampaignIDs).
		Where("report_date >= ? AND report_date <= ?", q.From, q.To)
	if strings.TrimSpace(q.ProfileID) != "" {
		query = query.Where("profile_id = ?", strings.TrimSpace(q.ProfileID))
	}
	if len(q.EntityTypes) > 0 {
		types := make([]string, 0, len(q.EntityTypes))
		for _, t := range q.EntityTypes {
			types = append(types, string(t))
		}
		query = query.Where("entity_type IN ?", types)
	}
	var rows []performanceDailyModel
	if err := query.Order("report_date ASC").Find(&rows).Error; err != nil {
		return nil, r.logError("automation_repo_query_performance_failed", err,
			"profile_id", q.ProfileID,
			"from", q.From,
			"to", q.To,
		)
	}
	items := make([]ports.PerformanceRow, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toRow())
	}
	return items, nil
}

// InsertPerformance loads report rows; used by report importers and tests.
func (r *Repository) InsertPerformance(ctx context.Context, profileID string, rows []ports.PerformanceRow) error {
	if len(rows) == 0 {
		return nil
	}
	models := make([]performanceDailyModel, 0, len(rows))
	for _, row := range rows {
		models = append(models, performanceDailyModel{
			ReportDate:   row.Date,
			ProfileID:    profileID,
			EntityType:   string(row.EntityType),
			EntityID:     row.EntityID,
			CampaignID:   row.CampaignID,
			CampaignName: row.CampaignName,
			AdGroupID:    row.AdGroupID,
			AdGroupName:  row.AdGroupName,
			EntityText:   row.EntityText,
			MatchType:    row.MatchType,
			SourceASIN:   row.SourceASIN,
			Impressions:  row.Impressions,
			Clicks:       row.Clicks,
			Orders:       row.Orders,
			Spend:        row.Spend,
			Sales:        row.Sales,
		})
	}
	if err := r.db.WithContext(ctx).CreateInBatches(models, 500).Error; err != nil {
		return r.logError("automation_repo_insert_performance_failed", err, "rows", len(rows))
	}
	return nil
}

func (r *Repository) ListThrottle(ctx context.Context, ruleID string, since time.Time) ([]entities.ThrottleEntry, error) {
	var rows []throttleModel
	if err := r.db.WithContext(ctx).
		Where("rule_id = ?", ruleID).
		Where("acted_at >= ?", since.UTC()).
		Find(&rows).
		Error; err != nil {
		return nil, r.logError("automation_repo_list_throttle_failed", err, "rule_id", ruleID)
	}
	items := make([]entities.ThrottleEntry, 0, len(rows))
	for _, row := range rows {
		items = append(items, entities.ThrottleEntry{
			RuleID:    row.RuleID,
			Kind:      entities.ThrottleKind(row.Kind),
			EntityKey: row.EntityKey,
			ActedAt:   row.ActedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) RecordThrottle(ctx context.Context, entries []entities.ThrottleEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]throttleModel, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, throttleModel{
			ID:        uuid.NewString(),
			RuleID:    e.RuleID,
			Kind:      string(e.Kind),
			EntityKey: e.EntityKey,
			ActedAt:   e.ActedAt.UTC(),
		})
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "rule_id"}, {Name: "kind"}, {Name: "entity_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"acted_at"}),
		}).
		Create(&rows).
		Error
	if err != nil {
		return r.logError("automation_repo_record_throttle_failed", err, "entries", len(entries))
	}
	return nil
}

func (r *Repository) CreateOverride(ctx context.Context, override entities.DailyBudgetOverride) error {
	id := strings.TrimSpace(override.OverrideID)
	if id == "" {
		id = uuid.NewString()
	}
	row := budgetOverrideModel{
		ID:             id,
		RuleID:         override.RuleID,
		ProfileID:      override.ProfileID,
		CampaignID:     strings.TrimSpace(override.CampaignID),
		OverrideDate:   override.OverrideDate,
		OriginalBudget: override.OriginalBudget,
		NewBudget:      override.NewBudget,
		CreatedAt:      override.CreatedAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			r.logWarn("automation_repo_override_exists",
				"campaign_id", row.CampaignID,
				"override_date", row.OverrideDate,
			)
			return domainerrors.ErrOverrideExists
		}
		return r.logError("automation_repo_create_override_failed", err, "campaign_id", row.CampaignID)
	}
	return nil
}

func (r *Repository) HasOverride(ctx context.Context, campaignID string, date string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&budgetOverrideModel{}).
		Where("campaign_id = ? AND override_date = ?", strings.TrimSpace(campaignID), date).
		Count(&count).
		Error; err != nil {
		return false, r.logError("automation_repo_has_override_failed", err, "campaign_id", campaignID)
	}
	return count > 0, nil
}

func (r *Repository) ListPendingOverrides(ctx context.Context, onOrBefore string) ([]entities.DailyBudgetOverride, error) {
	var rows []budgetOverrideModel
	if err := r.db.WithContext(ctx).
		Where("reverted_at IS NULL").
		Where("override_date <= ?", onOrBefore).
		Order("override_date ASC").
		Order("campaign_id ASC").
		Find(&rows).
		Error; err != nil {
		return nil, r.logError("automation_repo_list_overrides_failed", err, "on_or_before", onOrBefore)
	}
	items := make([]entities.DailyBudgetOverride, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) MarkReverted(ctx context.Context, overrideIDs []string, at time.Time) error {
	if len(overrideIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&budgetOverrideModel{}).
			Where("id IN ?", overrideIDs).
			Where("reverted_at IS NULL").
			Update("reverted_at", at.UTC())
		if result.Error != nil {
			return r.logError("automation_repo_mark_reverted_failed", result.Error, "overrides", len(overrideIDs))
		}
		return nil
	})
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+7)
	fields = append(fields,
		"event", event,
		"module", "ad-automation/automation-engine",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("automation repository operation failed", fields...)
	return err
}

func (r *Repository) logWarn(event string, attrs ...any) {
	fields := make([]any, 0, len(attrs)+5)
	fields = append(fields,
		"event", event,
		"module", "ad-automation/automation-engine",
		"layer", "adapter",
	)
	fields = append(fields, attrs...)
	r.logger.Warn("automation repository warning", fields...)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ ports.RuleRepository = (*Repository)(nil)
var _ ports.LogRepository = (*Repository)(nil)
var _ ports.PerformanceStore = (*Repository)(nil)
var _ ports.ThrottleStore = (*Repository)(nil)
var _ ports.BudgetOverrideRepository = (*Repository)(nil)
