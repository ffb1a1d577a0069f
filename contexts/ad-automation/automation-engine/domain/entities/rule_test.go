package entities

import (
	"errors"
	"testing"
	"time"

	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const legacyBidConfig = `{
	"frequency": {"unit": "hours", "value": 1},
	"cooldown": {"unit": "days", "value": 1},
	"conditionGroups": [{
		"conditions": [{"metric": "acos", "timeWindowDays": 7, "operator": ">", "value": 0.4}],
		"action": {"type": "adjustBidPercent", "value": -15, "minBid": 0.3}
	}]
}`

func TestDecodeRuleConfigNormalizesLegacyActions(t *testing.T) {
	cfg, err := DecodeRuleConfig(RuleTypeBidAdjustment, []byte(legacyBidConfig))
	require.NoError(t, err)

	bid, ok := cfg.(BidAdjustmentConfig)
	require.True(t, ok)
	require.Len(t, bid.ConditionGroups, 1)
	action := bid.ConditionGroups[0].Action
	assert.Equal(t, ActionDecreaseBidPercent, action.Type)
	assert.Equal(t, 15.0, action.Value)
	require.NotNil(t, action.MinBid)
	assert.Equal(t, 0.3, *action.MinBid)

	schedule := ScheduleOf(cfg)
	assert.Equal(t, time.Hour, schedule.Frequency.Interval())
	assert.Equal(t, 24*time.Hour, schedule.Cooldown.Duration())
}

func TestDecodeRuleConfigRoundTrip(t *testing.T) {
	cfg, err := DecodeRuleConfig(RuleTypeBidAdjustment, []byte(legacyBidConfig))
	require.NoError(t, err)

	raw, err := EncodeRuleConfig(cfg)
	require.NoError(t, err)
	again, err := DecodeRuleConfig(RuleTypeBidAdjustment, raw)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestDecodeRuleConfigRejects(t *testing.T) {
	cases := []struct {
		name     string
		ruleType RuleType
		raw      string
		want     error
	}{
		{"unknown type", RuleType("DAYPARTING"), `{}`, domainerrors.ErrUnsupportedRule},
		{"malformed json", RuleTypeBidAdjustment, `{"frequency":`, domainerrors.ErrInvalidRuleConfig},
		{"missing frequency", RuleTypeSearchTermAutomation, `{"conditionGroups":[]}`, domainerrors.ErrInvalidRuleConfig},
		{
			"window too long", RuleTypeSearchTermAutomation,
			`{"frequency":{"unit":"days","value":1},"conditionGroups":[{"conditions":[{"metric":"clicks","timeWindowDays":91,"operator":">","value":1}],"action":{"type":"negateSearchTerm"}}]}`,
			domainerrors.ErrInvalidRuleConfig,
		},
		{
			"action not valid for type", RuleTypeSearchTermAutomation,
			`{"frequency":{"unit":"days","value":1},"conditionGroups":[{"conditions":[{"metric":"clicks","timeWindowDays":7,"operator":">","value":1}],"action":{"type":"increaseBidPercent","value":5}}]}`,
			domainerrors.ErrInvalidRuleConfig,
		},
		{
			"negative bid increase", RuleTypeBidAdjustment,
			`{"frequency":{"unit":"hours","value":1},"conditionGroups":[{"conditions":[{"metric":"acos","timeWindowDays":7,"operator":">","value":0.4}],"action":{"type":"increaseBidPercent","value":-20}}]}`,
			domainerrors.ErrInvalidRuleConfig,
		},
		{
			"negative budget increase", RuleTypeBudgetAcceleration,
			`{"frequency":{"unit":"hours","value":1},"conditionGroups":[{"conditions":[{"metric":"roas","timeWindowDays":0,"operator":">","value":4}],"action":{"type":"increaseBudgetPercent","value":-25}}]}`,
			domainerrors.ErrInvalidRuleConfig,
		},
		{
			"start time on hourly rule", RuleTypePriceAdjustment,
			`{"frequency":{"unit":"hours","value":2,"startTime":"06:00"},"items":[{"sku":"A1","step":1,"limit":20}]}`,
			domainerrors.ErrInvalidRuleConfig,
		},
		{"price rule without items", RuleTypePriceAdjustment, `{"frequency":{"unit":"days","value":1}}`, domainerrors.ErrInvalidRuleConfig},
		{
			"harvest without bid mode", RuleTypeSearchTermHarvesting,
			`{"frequency":{"unit":"days","value":1},"conditionGroups":[{"conditions":[{"metric":"orders","timeWindowDays":14,"operator":">","value":2}],"action":{"type":"harvestSearchTerm","harvest":{}}}]}`,
			domainerrors.ErrInvalidRuleConfig,
		},
		{
			"harvest with half a destination", RuleTypeSearchTermHarvesting,
			`{"frequency":{"unit":"days","value":1},"conditionGroups":[{"conditions":[{"metric":"orders","timeWindowDays":14,"operator":">","value":2}],"action":{"type":"harvestSearchTerm","harvest":{"campaignId":"c9"}}}]}`,
			domainerrors.ErrInvalidRuleConfig,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeRuleConfig(tc.ruleType, []byte(tc.raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestDecodeHarvestingToExistingDestination(t *testing.T) {
	raw := `{"frequency":{"unit":"days","value":1,"startTime":"05:30"},"conditionGroups":[{"conditions":[{"metric":"orders","timeWindowDays":14,"operator":">","value":2}],"action":{"type":"harvestSearchTerm","matchType":"EXACT","harvest":{"campaignId":"c9","adGroupId":"ag9"}}}]}`
	cfg, err := DecodeRuleConfig(RuleTypeSearchTermHarvesting, []byte(raw))
	require.NoError(t, err)

	harvest := cfg.(HarvestingConfig).ConditionGroups[0].Action.Harvest
	require.NotNil(t, harvest)
	assert.True(t, harvest.UsesExistingDestination())
	hour, minute, ok := ScheduleOf(cfg).Frequency.StartClock()
	assert.True(t, ok)
	assert.Equal(t, 5, hour)
	assert.Equal(t, 30, minute)
}

func TestRuleCampaignScope(t *testing.T) {
	assert.False(t, Rule{CampaignIDs: []string{" ", ""}}.HasCampaignScope())
	assert.True(t, Rule{CampaignIDs: []string{"", "c1"}}.HasCampaignScope())
	assert.True(t, IsSupportedRuleType(RuleTypeAINegation))
	assert.False(t, IsSupportedRuleType(RuleType("bid")))
}

func TestThrottleCooldownBoundary(t *testing.T) {
	actedAt := time.Date(2026, time.March, 10, 8, 0, 0, 0, time.UTC)
	entries := []ThrottleEntry{
		{RuleID: "r1", Kind: ThrottleAction, EntityKey: "kw-1", ActedAt: actedAt.Add(-48 * time.Hour)},
		{RuleID: "r1", Kind: ThrottleAction, EntityKey: "kw-1", ActedAt: actedAt},
	}
	cooldown := 24 * time.Hour

	before := NewThrottleSet(entries, actedAt.Add(cooldown-time.Second), cooldown)
	assert.True(t, before.CoolingDown(ThrottleAction, "kw-1"))
	assert.False(t, before.CoolingDown(ThrottleNegation, "kw-1"))
	assert.False(t, before.CoolingDown(ThrottleAction, "kw-2"))

	at := NewThrottleSet(entries, actedAt.Add(cooldown), cooldown)
	assert.False(t, at.CoolingDown(ThrottleAction, "kw-1"))

	disabled := NewThrottleSet(entries, actedAt, 0)
	assert.False(t, disabled.CoolingDown(ThrottleAction, "kw-1"))
}

func TestEntityKeys(t *testing.T) {
	term := Entity{
		EntityType: EntitySearchTerm,
		CampaignID: "c1",
		AdGroupID:  "ag1",
		EntityText: "  Running   Shoes ",
		SourceASIN: "b07abc1234",
	}
	assert.Equal(t, "c1|ag1|running shoes", term.Key())
	assert.Equal(t, "running shoes|B07ABC1234", term.ThrottleKey())

	keyword := Entity{EntityType: EntityKeyword, EntityID: "kw-7"}
	assert.Equal(t, "keyword:kw-7", keyword.Key())
	assert.Equal(t, "kw-7", keyword.ThrottleKey())
}

func TestHarvestFlowTransitions(t *testing.T) {
	flow := NewHarvestFlow()
	require.NoError(t, flow.Advance(HarvestCampaignCreated))
	require.NoError(t, flow.Advance(HarvestAdGroupCreated))

	err := flow.Advance(HarvestPlaced)
	require.Error(t, err)
	assert.Equal(t, HarvestAdGroupCreated, flow.Stage)

	flow.Fail(errors.New("sku lookup failed"))
	assert.True(t, flow.Failed())
	assert.False(t, flow.Placed())
	assert.Equal(t, HarvestAdGroupCreated, flow.Reached)
	assert.Error(t, flow.Advance(HarvestSKUResolved), "failed flows are terminal")

	existing := NewHarvestFlow()
	require.NoError(t, existing.Advance(HarvestPlaced))
	require.NoError(t, existing.Advance(HarvestSourceNegated))
	assert.True(t, existing.Placed())
}

func TestHarvestFlowStepFailsOnIllegalTransition(t *testing.T) {
	flow := NewHarvestFlow()
	assert.True(t, flow.Step(HarvestCampaignCreated))
	assert.False(t, flow.Step(HarvestTargetAdded))
	assert.True(t, flow.Failed())
	assert.Equal(t, HarvestCampaignCreated, flow.Reached)
	require.Error(t, flow.Err)
	assert.Contains(t, flow.Err.Error(), "campaign_created -> target_added")
}

func TestRunDetailsCountsSuccessfulActions(t *testing.T) {
	var details RunDetails
	details.AddAction("c1", ActionRecord{EntityID: "kw-1", Action: "bid_update", Success: true})
	details.AddAction("c1", ActionRecord{EntityID: "kw-2", Action: "bid_update"})
	details.AddAction("c2", ActionRecord{EntityID: "kw-3", Action: "bid_update", Success: true})
	details.Skip("cooldown")
	details.Skip("cooldown")

	assert.Equal(t, 2, details.SuccessfulActions())
	assert.Equal(t, 2, details.Skipped["cooldown"])
	assert.Len(t, details.Campaigns["c1"], 2)
}
