package evaluators

import (
	"context"
	"fmt"
	"strings"

	"adpilot/contexts/ad-automation/automation-engine/application/queries"
	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
	"adpilot/contexts/ad-automation/automation-engine/domain/services"
	"adpilot/contexts/ad-automation/automation-engine/ports"
)

func (e Engine) evaluateHarvesting(ctx context.Context, r *run, cfg entities.HarvestingConfig) error {
	snapshot, err := e.Performance.Execute(ctx, queries.PerformanceRequest{
		ProfileID:    r.rule.ProfileID,
		CampaignIDs:  r.rule.CampaignIDs,
		EntityTypes:  []entities.EntityType{entities.EntitySearchTerm},
		LookbackDays: entities.MaxLookbackDays(cfg.ConditionGroups),
		Reference:    r.now,
	})
	if err != nil {
		return err
	}
	r.details.DateRange = &snapshot.Range

	// Term and asin pairs promoted earlier in this run. The same pair can
	// show up in several source ad groups.
	harvested := make(map[string]entities.HarvestFlow)
	for _, key := range snapshot.SortedKeys() {
		if err := ctx.Err(); err != nil {
			return err
		}
		entity := snapshot.Entities[key]
		r.details.Evaluated++
		match, ok := entities.FirstMatch(cfg.ConditionGroups, entity.Daily, r.now)
		if !ok {
			r.details.Skip("no_match")
			continue
		}
		harvest := entities.Harvest{}
		if match.Group.Action.Harvest != nil {
			harvest = *match.Group.Action.Harvest
		}

		throttleKey := entity.ThrottleKey()
		harvestCooling := r.throttle.CoolingDown(entities.ThrottleHarvest, throttleKey)
		negateSource := !harvest.DisableNegateSource &&
			!r.throttle.CoolingDown(entities.ThrottleSourceNegation, throttleKey)
		if harvestCooling && !negateSource {
			r.details.Skip("cooldown")
			continue
		}

		if harvestCooling {
			// Already harvested; only the source negation is still owed.
			e.negateHarvestSource(ctx, r, entity, match, nil)
			continue
		}
		if earlier, seen := harvested[throttleKey]; seen {
			if earlier.Failed() || !negateSource {
				r.details.Skip("harvested_this_run")
				continue
			}
			e.negateHarvestSource(ctx, r, entity, match, nil)
			continue
		}

		flow := e.promote(ctx, r, entity, match, harvest)
		harvested[throttleKey] = flow
		if flow.Failed() {
			record := harvestRecord(entity, match, flow)
			r.logger.Warn("harvest aborted",
				"event", "automation_harvest_failed_partial",
				"campaign_id", entity.CampaignID,
				"search_term", entity.EntityText,
				"reached_stage", string(flow.Reached),
				"created_campaign_id", flow.CampaignID,
				"created_ad_group_id", flow.AdGroupID,
				"error", flow.Err.Error(),
			)
			r.details.AddAction(entity.CampaignID, record)
			continue
		}
		r.touch(entities.ThrottleHarvest, throttleKey)
		if negateSource {
			e.negateHarvestSource(ctx, r, entity, match, &flow)
		}
		r.details.AddAction(entity.CampaignID, harvestRecord(entity, match, flow))
	}
	return nil
}

// promote runs the creation sequence for one term. It stops at the first
// failing step and leaves already-created objects in place.
func (e Engine) promote(ctx context.Context, r *run, entity entities.Entity, match entities.Match, h entities.Harvest) entities.HarvestFlow {
	flow := entities.NewHarvestFlow()
	profileID := r.rule.ProfileID
	keywordMatch := harvestMatchType(match.Group.Action.MatchType)

	var targetBid *float64
	if h.UsesExistingDestination() {
		flow.CampaignID = strings.TrimSpace(h.CampaignID)
		flow.AdGroupID = strings.TrimSpace(h.AdGroupID)
		if h.BidMode != "" {
			targetBid = floatPtr(services.HarvestBid(h, match.Metrics))
		}
		if !flow.Step(entities.HarvestPlaced) {
			return flow
		}
	} else {
		name := services.HarvestCampaignName(h.CampaignNameTmpl, entity.EntityText, keywordMatch)
		budget := h.DailyBudget
		if budget <= 0 {
			budget = services.DefaultHarvestBudget
		}
		campaignID, err := e.Ads.CreateCampaign(ctx, profileID, ports.CampaignSpec{
			Name:        name,
			DailyBudget: budget,
			StartDate:   r.now.Format("20060102"),
		})
		if err != nil {
			flow.Fail(fmt.Errorf("create campaign: %w", err))
			return flow
		}
		flow.CampaignID = campaignID
		if !flow.Step(entities.HarvestCampaignCreated) {
			return flow
		}

		adGroupID, err := e.Ads.CreateAdGroup(ctx, profileID, ports.AdGroupSpec{
			CampaignID: campaignID,
			Name:       name,
			DefaultBid: services.HarvestBid(h, match.Metrics),
		})
		if err != nil {
			flow.Fail(fmt.Errorf("create ad group: %w", err))
			return flow
		}
		flow.AdGroupID = adGroupID
		if !flow.Step(entities.HarvestAdGroupCreated) {
			return flow
		}

		sku, err := e.resolveSKU(ctx, profileID, entity.SourceASIN)
		if err != nil {
			flow.Fail(err)
			return flow
		}
		flow.SKU = sku
		if !flow.Step(entities.HarvestSKUResolved) {
			return flow
		}

		adID, err := e.Ads.CreateProductAd(ctx, profileID, ports.ProductAdSpec{
			CampaignID: campaignID,
			AdGroupID:  adGroupID,
			SKU:        sku,
			ASIN:       entity.SourceASIN,
		})
		if err != nil {
			flow.Fail(fmt.Errorf("create product ad: %w", err))
			return flow
		}
		flow.AdID = adID
		if !flow.Step(entities.HarvestAdCreated) || !flow.Step(entities.HarvestPlaced) {
			return flow
		}
	}

	var targetID string
	var err error
	if services.IsCatalogIdentifier(entity.EntityText) {
		results, callErr := e.Ads.CreateTargets(ctx, profileID, []ports.TargetSpec{{
			CampaignID: flow.CampaignID,
			AdGroupID:  flow.AdGroupID,
			ASIN:       strings.ToUpper(strings.TrimSpace(entity.EntityText)),
			Bid:        targetBid,
		}})
		targetID, err = singleResult("create target", results, callErr)
	} else {
		results, callErr := e.Ads.CreateKeywords(ctx, profileID, []ports.KeywordSpec{{
			CampaignID: flow.CampaignID,
			AdGroupID:  flow.AdGroupID,
			Text:       entity.EntityText,
			MatchType:  keywordMatch,
			Bid:        targetBid,
		}})
		targetID, err = singleResult("create keyword", results, callErr)
	}
	if err != nil {
		flow.Fail(fmt.Errorf("add target: %w", err))
		return flow
	}
	flow.TargetID = targetID
	flow.Step(entities.HarvestTargetAdded)
	return flow
}

func (e Engine) resolveSKU(ctx context.Context, profileID, asin string) (string, error) {
	if strings.TrimSpace(asin) == "" || e.Catalog == nil {
		return "", fmt.Errorf("resolve sku for %q: %w", asin, domainerrors.ErrSKUUnresolvable)
	}
	sku, err := e.Catalog.ResolveSKU(ctx, profileID, asin)
	if err != nil {
		return "", fmt.Errorf("resolve sku for %q: %w: %v", asin, domainerrors.ErrSKUUnresolvable, err)
	}
	if strings.TrimSpace(sku) == "" {
		return "", fmt.Errorf("resolve sku for %q: %w", asin, domainerrors.ErrSKUUnresolvable)
	}
	return sku, nil
}

// negateHarvestSource adds the term as a negative in its source ad group.
// A nil flow means the term was promoted by an earlier run or by another
// source ad group in this one.
func (e Engine) negateHarvestSource(ctx context.Context, r *run, entity entities.Entity, match entities.Match, flow *entities.HarvestFlow) {
	n := newNegation(entity, match, entities.MatchNegativeExact)
	var err error
	if n.product {
		results, callErr := e.Ads.CreateNegativeTargets(ctx, r.rule.ProfileID, []ports.NegativeTargetSpec{n.target})
		_, err = singleResult("negate source target", results, callErr)
	} else {
		results, callErr := e.Ads.CreateNegativeKeywords(ctx, r.rule.ProfileID, []ports.NegativeKeywordSpec{n.keyword})
		_, err = singleResult("negate source keyword", results, callErr)
	}

	if err != nil {
		r.logger.Warn("harvest source negation failed",
			"event", "automation_harvest_source_negation_failed",
			"campaign_id", entity.CampaignID,
			"ad_group_id", entity.AdGroupID,
			"search_term", entity.EntityText,
			"error", err.Error(),
		)
		r.details.AddError("source_negation:"+entity.CampaignID, errorCode(err), err.Error())
		if flow == nil {
			r.details.AddAction(entity.CampaignID, entities.ActionRecord{
				EntityType: entities.EntitySearchTerm,
				EntityText: entity.EntityText,
				AdGroupID:  entity.AdGroupID,
				Action:     "negateSource",
				Error:      err.Error(),
			})
		}
		return
	}
	r.touch(entities.ThrottleSourceNegation, entity.ThrottleKey())
	if flow != nil {
		flow.Step(entities.HarvestSourceNegated)
		return
	}
	r.details.AddAction(entity.CampaignID, entities.ActionRecord{
		EntityType: entities.EntitySearchTerm,
		EntityText: entity.EntityText,
		AdGroupID:  entity.AdGroupID,
		Action:     "negateSource",
		Stage:      string(entities.HarvestSourceNegated),
		Success:    true,
	})
}

func harvestMatchType(configured entities.MatchType) entities.MatchType {
	switch configured {
	case entities.MatchPhrase, entities.MatchBroad:
		return configured
	default:
		return entities.MatchExact
	}
}

func harvestRecord(entity entities.Entity, match entities.Match, flow entities.HarvestFlow) entities.ActionRecord {
	record := entities.ActionRecord{
		EntityID:   flow.TargetID,
		EntityType: entities.EntitySearchTerm,
		EntityText: entity.EntityText,
		AdGroupID:  flow.AdGroupID,
		Action:     string(entities.ActionHarvestSearchTerm),
		Metrics:    match.Metrics.Snapshot(),
		GroupIndex: intPtr(match.GroupIndex),
		Stage:      string(flow.Stage),
		Success:    !flow.Failed(),
	}
	if flow.Failed() {
		record.Stage = string(entities.HarvestFailedPartial) + ":" + string(flow.Reached)
		record.Error = flow.Err.Error()
	}
	return record
}
