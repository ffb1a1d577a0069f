package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"adpilot/contexts/ad-automation/automation-engine/adapters/memory"
	"adpilot/contexts/ad-automation/automation-engine/application/evaluators"
	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type stubEvaluator struct {
	result    evaluators.Result
	err       error
	panicWith string
}

func (s stubEvaluator) Evaluate(context.Context, entities.Rule) (evaluators.Result, error) {
	if s.panicWith != "" {
		panic(s.panicWith)
	}
	return s.result, s.err
}

type recordingMetrics struct {
	runs []string
}

func (m *recordingMetrics) ObserveRuleRun(ruleType, status string, _ time.Duration) {
	m.runs = append(m.runs, ruleType+":"+status)
}

func (m *recordingMetrics) TickSkipped() {}

func (m *recordingMetrics) ClassifierRetry() {}

func (m *recordingMetrics) ObserveAPIRequest(string, string) {}

var runAt = time.Date(2026, time.March, 10, 7, 0, 0, 0, time.UTC)

func testRule() entities.Rule {
	return entities.Rule{
		RuleID:      "rule-1",
		Type:        entities.RuleTypeBidAdjustment,
		IsActive:    true,
		ProfileID:   "profile-1",
		CampaignIDs: []string{"c1"},
		Config: entities.BidAdjustmentConfig{
			Schedule: entities.Schedule{Frequency: entities.Frequency{Unit: entities.UnitHours, Value: 1}},
		},
	}
}

func newRunner(store *memory.Store, evaluator RuleEvaluator, metrics *recordingMetrics) RunRuleUseCase {
	return RunRuleUseCase{
		Rules:     store,
		Logs:      store,
		Evaluator: evaluator,
		Publisher: store,
		Metrics:   metrics,
		Clock:     fixedClock{now: runAt},
		IDGen:     store,
	}
}

func TestRunRuleWritesLogAndPublishes(t *testing.T) {
	store := memory.NewStore([]entities.Rule{testRule()})
	metrics := &recordingMetrics{}
	var details entities.RunDetails
	details.AddAction("c1", entities.ActionRecord{EntityID: "kw-1", Action: "decreaseBidPercent", Success: true})
	runner := newRunner(store, stubEvaluator{result: evaluators.Result{
		Status:  entities.RunStatusSuccess,
		Summary: "1 bid changes applied across 1 campaigns; 4 evaluated",
		Details: details,
	}}, metrics)

	log, err := runner.Execute(context.Background(), RunRuleCommand{Rule: testRule(), Trigger: "schedule"})
	require.NoError(t, err)

	assert.NotEmpty(t, log.LogID)
	assert.Equal(t, entities.RunStatusSuccess, log.Status)
	assert.True(t, log.RunAt.Equal(runAt))

	logs, err := store.ListLogs(context.Background(), "rule-1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, log.LogID, logs[0].LogID)

	rule, err := store.GetRule(context.Background(), "rule-1")
	require.NoError(t, err)
	require.NotNil(t, rule.LastRunAt)
	assert.True(t, rule.LastRunAt.Equal(runAt))

	events := store.Published(RuleExecutedTopic)
	require.Len(t, events, 1)
	assert.Equal(t, "rule-1", events[0].PartitionKey)
	var payload ruleExecutedPayload
	require.NoError(t, json.Unmarshal(events[0].Data, &payload))
	assert.Equal(t, "SUCCESS", payload.Status)
	assert.Equal(t, []string{"c1"}, payload.Campaigns)
	assert.Equal(t, []string{"BID_ADJUSTMENT:SUCCESS"}, metrics.runs)
}

func TestRunRuleAdvancesLastRunOnFailure(t *testing.T) {
	store := memory.NewStore([]entities.Rule{testRule()})
	apiErr := &domainerrors.APIError{Operation: "keywords.list", Status: 503, Message: "unavailable"}
	runner := newRunner(store, stubEvaluator{err: fmt.Errorf("fetch keyword bids: %w", apiErr)}, &recordingMetrics{})

	log, err := runner.Execute(context.Background(), RunRuleCommand{Rule: testRule(), Trigger: "schedule"})
	require.NoError(t, err)

	assert.Equal(t, entities.RunStatusFailure, log.Status)
	assert.Contains(t, log.Summary, "rule run failed")
	require.Len(t, log.Details.Errors, 1)
	assert.Equal(t, "rule", log.Details.Errors[0].Scope)

	rule, err := store.GetRule(context.Background(), "rule-1")
	require.NoError(t, err)
	require.NotNil(t, rule.LastRunAt)
	assert.True(t, rule.LastRunAt.Equal(runAt))
}

func TestRunRuleRecoversEvaluatorPanic(t *testing.T) {
	store := memory.NewStore([]entities.Rule{testRule()})
	runner := newRunner(store, stubEvaluator{panicWith: "nil map"}, &recordingMetrics{})

	log, err := runner.Execute(context.Background(), RunRuleCommand{Rule: testRule()})
	require.NoError(t, err)
	assert.Equal(t, entities.RunStatusFailure, log.Status)
	assert.Contains(t, log.Summary, "evaluator panic: nil map")

	rule, _ := store.GetRule(context.Background(), "rule-1")
	assert.NotNil(t, rule.LastRunAt)
}

func TestRunRuleTreatsScopeAndCredentialsAsNoAction(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{domainerrors.ErrEmptyScope, "EMPTY_SCOPE"},
		{fmt.Errorf("ads api: %w", domainerrors.ErrMissingCredentials), "MISSING_CREDENTIALS"},
	}
	for _, tc := range cases {
		store := memory.NewStore([]entities.Rule{testRule()})
		runner := newRunner(store, stubEvaluator{err: tc.err}, &recordingMetrics{})

		log, err := runner.Execute(context.Background(), RunRuleCommand{Rule: testRule()})
		require.NoError(t, err)
		assert.Equal(t, entities.RunStatusNoAction, log.Status)
		require.Len(t, log.Details.Errors, 1)
		assert.Equal(t, tc.code, log.Details.Errors[0].Code)
	}
}

func TestRunRuleMarksRunEvenWhenCanceled(t *testing.T) {
	store := memory.NewStore([]entities.Rule{testRule()})
	runner := newRunner(store, stubEvaluator{err: context.Canceled}, &recordingMetrics{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	log, err := runner.Execute(ctx, RunRuleCommand{Rule: testRule()})
	require.NoError(t, err)
	assert.Equal(t, entities.RunStatusFailure, log.Status)
	rule, _ := store.GetRule(context.Background(), "rule-1")
	assert.NotNil(t, rule.LastRunAt)
}

func TestRequestRunPublishesForActiveRule(t *testing.T) {
	inactive := testRule()
	inactive.RuleID = "rule-off"
	inactive.IsActive = false
	store := memory.NewStore([]entities.Rule{testRule(), inactive})
	uc := RequestRunUseCase{Rules: store, Publisher: store, Clock: fixedClock{now: runAt}, IDGen: store}

	result, err := uc.Execute(context.Background(), RequestRunCommand{RuleID: " rule-1 ", RequestedBy: "ops"})
	require.NoError(t, err)
	assert.Equal(t, "rule-1", result.RuleID)
	assert.True(t, result.RequestedAt.Equal(runAt))

	events := store.Published(RunRequestedTopic)
	require.Len(t, events, 1)
	assert.Equal(t, result.EventID, events[0].EventID)
	var payload RunRequestedPayload
	require.NoError(t, json.Unmarshal(events[0].Data, &payload))
	assert.Equal(t, RunRequestedPayload{RuleID: "rule-1", RequestedBy: "ops"}, payload)

	_, err = uc.Execute(context.Background(), RequestRunCommand{RuleID: "rule-off"})
	assert.True(t, errors.Is(err, domainerrors.ErrRuleNotFound))
	_, err = uc.Execute(context.Background(), RequestRunCommand{RuleID: "missing"})
	assert.True(t, errors.Is(err, domainerrors.ErrRuleNotFound))
	assert.Len(t, store.Published(RunRequestedTopic), 1)
}
