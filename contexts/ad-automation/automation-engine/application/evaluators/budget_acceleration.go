package evaluators

import (
	"context"
	"errors"
	"fmt"

	"adpilot/contexts/ad-automation/automation-engine/application/queries"
	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
	"adpilot/contexts/ad-automation/automation-engine/domain/services"
	"adpilot/contexts/ad-automation/automation-engine/ports"
)

type budgetChange struct {
	entity entities.Entity
	match  entities.Match
	old    float64
	new    float64
}

func (e Engine) evaluateBudgetAcceleration(ctx context.Context, r *run, cfg entities.BudgetAccelerationConfig) error {
	snapshot, err := e.Performance.Execute(ctx, queries.PerformanceRequest{
		ProfileID:   r.rule.ProfileID,
		CampaignIDs: r.rule.CampaignIDs,
		EntityTypes: []entities.EntityType{entities.EntityCampaign},
		Reference:   r.now,
		SingleDay:   true,
	})
	if err != nil {
		return err
	}
	r.details.DateRange = &snapshot.Range
	today := services.LocalDate(r.now, e.location())
	if !r.now.Before(services.BudgetResetBoundary(r.now, e.location(), r.settings.BudgetResetAt)) {
		// A raise now would outlive tonight's reset.
		for range snapshot.Entities {
			r.details.Evaluated++
			r.details.Skip("after_budget_reset")
		}
		return nil
	}

	type candidate struct {
		entity entities.Entity
		match  entities.Match
	}
	var candidates []candidate
	var campaignIDs []string
	for _, key := range snapshot.SortedKeys() {
		entity := snapshot.Entities[key]
		if entity.CampaignID == "" {
			entity.CampaignID = entity.EntityID
		}
		r.details.Evaluated++
		if r.throttle.CoolingDown(entities.ThrottleBudgetOverride, entity.CampaignID) {
			r.details.Skip("cooldown")
			continue
		}
		if e.Overrides != nil {
			exists, err := e.Overrides.HasOverride(ctx, entity.CampaignID, today)
			if err != nil {
				return fmt.Errorf("check budget override: %w", err)
			}
			if exists {
				r.details.Skip("override_exists")
				continue
			}
		}
		match, ok := entities.FirstMatchMetrics(cfg.ConditionGroups, entity.Daily.Metrics(0, r.now))
		if !ok {
			r.details.Skip("no_match")
			continue
		}
		candidates = append(candidates, candidate{entity: entity, match: match})
		campaignIDs = append(campaignIDs, entity.CampaignID)
	}
	if len(candidates) == 0 {
		return nil
	}

	campaigns, err := e.Ads.GetCampaigns(ctx, r.rule.ProfileID, campaignIDs)
	if err != nil {
		return fmt.Errorf("fetch campaign budgets: %w", err)
	}
	budgets := make(map[string]float64, len(campaigns))
	for _, c := range campaigns {
		budgets[c.CampaignID] = c.DailyBudget
	}

	var changes []budgetChange
	for _, c := range candidates {
		current, ok := budgets[c.entity.CampaignID]
		if !ok || current <= 0 {
			r.details.Skip("budget_unresolved")
			continue
		}
		next, raised := services.NextBudget(current, c.match.Group.Action)
		if !raised {
			r.details.Skip("unchanged")
			continue
		}
		changes = append(changes, budgetChange{entity: c.entity, match: c.match, old: current, new: next})
	}
	if len(changes) == 0 {
		return nil
	}

	updates := make([]ports.BudgetUpdate, 0, len(changes))
	for _, c := range changes {
		updates = append(updates, ports.BudgetUpdate{CampaignID: c.entity.CampaignID, DailyBudget: c.new})
	}
	results, callErr := e.Ads.UpdateCampaignBudgets(ctx, r.rule.ProfileID, updates)
	if callErr != nil {
		r.details.AddError("budget_update", errorCode(callErr), callErr.Error())
	}
	aligned := alignResults(len(changes), results, callErr)
	for i, c := range changes {
		record := entities.ActionRecord{
			EntityID:   c.entity.CampaignID,
			EntityType: entities.EntityCampaign,
			EntityText: c.entity.CampaignName,
			Action:     string(c.match.Group.Action.Type),
			OldValue:   floatPtr(c.old),
			NewValue:   floatPtr(c.new),
			Metrics:    c.match.Metrics.Snapshot(),
			GroupIndex: intPtr(c.match.GroupIndex),
			Success:    aligned[i].Success,
		}
		if !aligned[i].Success {
			record.Error = aligned[i].Message
			r.details.AddAction(c.entity.CampaignID, record)
			continue
		}
		r.touch(entities.ThrottleBudgetOverride, c.entity.CampaignID)
		if err := e.recordOverride(ctx, r, c, today); err != nil {
			record.Error = err.Error()
		}
		r.details.AddAction(c.entity.CampaignID, record)
	}
	return nil
}

// recordOverride persists the pre-change budget so the nightly reset can
// restore it.
func (e Engine) recordOverride(ctx context.Context, r *run, c budgetChange, date string) error {
	if e.Overrides == nil {
		return nil
	}
	id := ""
	if e.IDGen != nil {
		generated, err := e.IDGen.NewID(ctx)
		if err != nil {
			return fmt.Errorf("generate override id: %w", err)
		}
		id = generated
	}
	err := e.Overrides.CreateOverride(ctx, entities.DailyBudgetOverride{
		OverrideID:     id,
		RuleID:         r.rule.RuleID,
		ProfileID:      r.rule.ProfileID,
		CampaignID:     c.entity.CampaignID,
		OriginalBudget: c.old,
		NewBudget:      c.new,
		OverrideDate:   date,
		CreatedAt:      r.now,
	})
	if errors.Is(err, domainerrors.ErrOverrideExists) {
		r.logger.Warn("budget override already recorded",
			"event", "automation_budget_override_exists",
			"campaign_id", c.entity.CampaignID,
			"override_date", date,
		)
		return nil
	}
	if err != nil {
		r.logger.Error("budget override persist failed",
			"event", "automation_budget_override_persist_failed",
			"campaign_id", c.entity.CampaignID,
			"error", err.Error(),
		)
		r.details.AddError("budget_override:"+c.entity.CampaignID, "", err.Error())
		return err
	}
	return nil
}
