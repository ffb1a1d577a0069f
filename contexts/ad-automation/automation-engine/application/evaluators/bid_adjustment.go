package evaluators

import (
	"context"
	"fmt"

	application "adpilot/contexts/ad-automation/automation-engine/application"
	"adpilot/contexts/ad-automation/automation-engine/application/queries"
	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
	"adpilot/contexts/ad-automation/automation-engine/domain/services"
	"adpilot/contexts/ad-automation/automation-engine/ports"
)

type bidChange struct {
	entity entities.Entity
	match  entities.Match
	old    float64
	new    float64
}

func (e Engine) evaluateBidAdjustment(ctx context.Context, r *run, cfg entities.BidAdjustmentConfig) error {
	types := cfg.EntityTypes
	if len(types) == 0 {
		types = []entities.EntityType{entities.EntityKeyword, entities.EntityTarget}
	}
	snapshot, err := e.Performance.Execute(ctx, queries.PerformanceRequest{
		ProfileID:    r.rule.ProfileID,
		CampaignIDs:  r.rule.CampaignIDs,
		EntityTypes:  types,
		LookbackDays: entities.MaxLookbackDays(cfg.ConditionGroups),
		Reference:    r.now,
	})
	if err != nil {
		return err
	}
	r.details.DateRange = &snapshot.Range
	if len(snapshot.Entities) == 0 {
		return nil
	}

	bids, err := e.currentBids(ctx, r.rule.ProfileID, snapshot)
	if err != nil {
		return err
	}

	var keywordChanges, targetChanges []bidChange
	for _, key := range snapshot.SortedKeys() {
		entity := snapshot.Entities[key]
		r.details.Evaluated++
		if r.throttle.CoolingDown(entities.ThrottleAction, entity.ThrottleKey()) {
			r.details.Skip("cooldown")
			continue
		}
		current, ok := bids[entity.Key()]
		if !ok {
			r.details.Skip("bid_unresolved")
			continue
		}
		entity.CurrentBid = floatPtr(current)
		match, ok := entities.FirstMatch(cfg.ConditionGroups, entity.Daily, r.now)
		if !ok {
			r.details.Skip("no_match")
			continue
		}
		next, outcome := services.NextBid(current, match.Group.Action)
		switch outcome {
		case services.BidChanged:
		case services.BidBlockedByMinimum, services.BidBlockedByMaximum:
			r.logger.Info("bid change blocked by bounds",
				"event", "automation_bid_change_blocked",
				"entity_id", entity.EntityID,
				"campaign_id", entity.CampaignID,
				"current_bid", current,
				"action", string(match.Group.Action.Type),
				"outcome", string(outcome),
			)
			r.details.Skip(string(outcome))
			continue
		default:
			r.details.Skip(string(outcome))
			continue
		}
		change := bidChange{entity: entity, match: match, old: current, new: next}
		if entity.EntityType == entities.EntityTarget {
			targetChanges = append(targetChanges, change)
		} else {
			keywordChanges = append(keywordChanges, change)
		}
	}

	if len(keywordChanges) > 0 {
		results, callErr := e.Ads.UpdateKeywordBids(ctx, r.rule.ProfileID, toBidUpdates(keywordChanges))
		e.recordBidResults(r, keywordChanges, alignResults(len(keywordChanges), results, callErr), callErr)
	}
	if len(targetChanges) > 0 {
		results, callErr := e.Ads.UpdateTargetBids(ctx, r.rule.ProfileID, toBidUpdates(targetChanges))
		e.recordBidResults(r, targetChanges, alignResults(len(targetChanges), results, callErr), callErr)
	}
	return nil
}

// currentBids resolves the live bid of every keyword and target in the
// snapshot, falling back to the ad group default for inherited bids.
func (e Engine) currentBids(ctx context.Context, profileID string, snapshot queries.PerformanceSnapshot) (map[string]float64, error) {
	var keywordIDs, targetIDs []string
	for _, entity := range snapshot.Entities {
		switch entity.EntityType {
		case entities.EntityKeyword:
			keywordIDs = append(keywordIDs, entity.EntityID)
		case entities.EntityTarget:
			targetIDs = append(targetIDs, entity.EntityID)
		}
	}

	bids := make(map[string]float64)
	inherits := make(map[string]string)
	if len(keywordIDs) > 0 {
		records, err := e.Ads.GetKeywords(ctx, profileID, application.Unique(keywordIDs))
		if err != nil {
			return nil, fmt.Errorf("fetch keyword bids: %w", err)
		}
		for _, rec := range records {
			key := entities.Entity{EntityType: entities.EntityKeyword, EntityID: rec.KeywordID}.Key()
			if rec.Bid != nil {
				bids[key] = *rec.Bid
			} else {
				inherits[key] = rec.AdGroupID
			}
		}
	}
	if len(targetIDs) > 0 {
		records, err := e.Ads.GetTargets(ctx, profileID, application.Unique(targetIDs))
		if err != nil {
			return nil, fmt.Errorf("fetch target bids: %w", err)
		}
		for _, rec := range records {
			key := entities.Entity{EntityType: entities.EntityTarget, EntityID: rec.TargetID}.Key()
			if rec.Bid != nil {
				bids[key] = *rec.Bid
			} else {
				inherits[key] = rec.AdGroupID
			}
		}
	}

	if len(inherits) == 0 {
		return bids, nil
	}
	adGroupIDs := make([]string, 0, len(inherits))
	for _, id := range inherits {
		adGroupIDs = append(adGroupIDs, id)
	}
	groups, err := e.Ads.GetAdGroups(ctx, profileID, application.Unique(adGroupIDs))
	if err != nil {
		return nil, fmt.Errorf("fetch ad group default bids: %w", err)
	}
	defaults := make(map[string]float64, len(groups))
	for _, g := range groups {
		defaults[g.AdGroupID] = g.DefaultBid
	}
	for key, adGroupID := range inherits {
		if bid, ok := defaults[adGroupID]; ok && bid > 0 {
			bids[key] = bid
		}
	}
	return bids, nil
}

func toBidUpdates(changes []bidChange) []ports.BidUpdate {
	out := make([]ports.BidUpdate, 0, len(changes))
	for _, c := range changes {
		out = append(out, ports.BidUpdate{ID: c.entity.EntityID, Bid: c.new})
	}
	return out
}

func (e Engine) recordBidResults(r *run, changes []bidChange, results []ports.MutationResult, callErr error) {
	if callErr != nil {
		r.logger.Error("bid update call failed",
			"event", "automation_bid_update_failed",
			"items", len(changes),
			"error", callErr.Error(),
		)
		r.details.AddError("bid_update", errorCode(callErr), callErr.Error())
	}
	for i, c := range changes {
		res := results[i]
		record := entities.ActionRecord{
			EntityID:   c.entity.EntityID,
			EntityType: c.entity.EntityType,
			EntityText: c.entity.EntityText,
			AdGroupID:  c.entity.AdGroupID,
			Action:     string(c.match.Group.Action.Type),
			OldValue:   floatPtr(c.old),
			NewValue:   floatPtr(c.new),
			Metrics:    c.match.Metrics.Snapshot(),
			GroupIndex: intPtr(c.match.GroupIndex),
			Success:    res.Success,
		}
		if !res.Success {
			record.Error = res.Message
			if callErr == nil {
				r.logger.Warn("bid update rejected",
					"event", "automation_bid_update_rejected",
					"entity_id", c.entity.EntityID,
					"campaign_id", c.entity.CampaignID,
					"code", res.Code,
					"message", res.Message,
				)
			}
		} else {
			r.touch(entities.ThrottleAction, c.entity.ThrottleKey())
		}
		r.details.AddAction(c.entity.CampaignID, record)
	}
}
