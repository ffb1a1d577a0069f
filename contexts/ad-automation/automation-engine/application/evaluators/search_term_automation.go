package evaluators

import (
	"context"
	"strings"

	"adpilot/contexts/ad-automation/automation-engine/application/queries"
	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
	"adpilot/contexts/ad-automation/automation-engine/domain/services"
	"adpilot/contexts/ad-automation/automation-engine/ports"
)

type negation struct {
	entity  entities.Entity
	match   entities.Match
	kind    entities.ThrottleKind
	keyword ports.NegativeKeywordSpec
	target  ports.NegativeTargetSpec
	product bool
}

func (e Engine) evaluateSearchTermAutomation(ctx context.Context, r *run, cfg entities.SearchTermAutomationConfig) error {
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

	var pending []negation
	for _, key := range snapshot.SortedKeys() {
		entity := snapshot.Entities[key]
		r.details.Evaluated++
		if r.throttle.CoolingDown(entities.ThrottleNegation, entity.ThrottleKey()) {
			r.details.Skip("cooldown")
			continue
		}
		match, ok := entities.FirstMatch(cfg.ConditionGroups, entity.Daily, r.now)
		if !ok {
			r.details.Skip("no_match")
			continue
		}
		pending = append(pending, newNegation(entity, match, negativeMatchType(match.Group.Action.MatchType)))
	}
	e.submitNegations(ctx, r, pending)
	return nil
}

func newNegation(entity entities.Entity, match entities.Match, matchType entities.MatchType) negation {
	n := negation{entity: entity, match: match, kind: entities.ThrottleNegation}
	if services.IsCatalogIdentifier(entity.EntityText) {
		n.product = true
		n.target = ports.NegativeTargetSpec{
			CampaignID: entity.CampaignID,
			AdGroupID:  entity.AdGroupID,
			ASIN:       strings.ToUpper(strings.TrimSpace(entity.EntityText)),
		}
		return n
	}
	n.keyword = ports.NegativeKeywordSpec{
		CampaignID: entity.CampaignID,
		AdGroupID:  entity.AdGroupID,
		Text:       entity.EntityText,
		MatchType:  matchType,
	}
	return n
}

func negativeMatchType(configured entities.MatchType) entities.MatchType {
	switch configured {
	case entities.MatchPhrase, entities.MatchNegativePhrase:
		return entities.MatchNegativePhrase
	default:
		return entities.MatchNegativeExact
	}
}

// submitNegations sends keyword and product negations as one bulk call each
// and records the outcome under the term's source campaign.
func (e Engine) submitNegations(ctx context.Context, r *run, pending []negation) {
	var keywords, products []negation
	for _, n := range pending {
		if n.product {
			products = append(products, n)
		} else {
			keywords = append(keywords, n)
		}
	}
	if len(keywords) > 0 {
		specs := make([]ports.NegativeKeywordSpec, 0, len(keywords))
		for _, n := range keywords {
			specs = append(specs, n.keyword)
		}
		results, callErr := e.Ads.CreateNegativeKeywords(ctx, r.rule.ProfileID, specs)
		e.recordNegations(r, keywords, alignResults(len(keywords), results, callErr), callErr)
	}
	if len(products) > 0 {
		specs := make([]ports.NegativeTargetSpec, 0, len(products))
		for _, n := range products {
			specs = append(specs, n.target)
		}
		results, callErr := e.Ads.CreateNegativeTargets(ctx, r.rule.ProfileID, specs)
		e.recordNegations(r, products, alignResults(len(products), results, callErr), callErr)
	}
}

func (e Engine) recordNegations(r *run, items []negation, results []ports.MutationResult, callErr error) {
	if callErr != nil {
		r.logger.Error("negation call failed",
			"event", "automation_negation_failed",
			"items", len(items),
			"error", callErr.Error(),
		)
		r.details.AddError("negation", errorCode(callErr), callErr.Error())
	}
	for i, n := range items {
		res := results[i]
		action := "negativeKeyword"
		if n.product {
			action = "negativeTarget"
		}
		record := entities.ActionRecord{
			EntityID:   res.ID,
			EntityType: entities.EntitySearchTerm,
			EntityText: n.entity.EntityText,
			AdGroupID:  n.entity.AdGroupID,
			Action:     action,
			Metrics:    n.match.Metrics.Snapshot(),
			GroupIndex: intPtr(n.match.GroupIndex),
			Success:    res.Success,
		}
		if res.Success {
			r.touch(n.kind, n.entity.ThrottleKey())
		} else {
			record.Error = res.Message
		}
		r.details.AddAction(n.entity.CampaignID, record)
	}
}
