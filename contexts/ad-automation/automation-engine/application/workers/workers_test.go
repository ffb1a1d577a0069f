package workers

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"adpilot/contexts/ad-automation/automation-engine/adapters/memory"
	application "adpilot/contexts/ad-automation/automation-engine/application"
	"adpilot/contexts/ad-automation/automation-engine/application/commands"
	"adpilot/contexts/ad-automation/automation-engine/application/evaluators"
	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
	"adpilot/contexts/ad-automation/automation-engine/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type countingMetrics struct {
	skipped atomic.Int32
}

func (m *countingMetrics) ObserveRuleRun(string, string, time.Duration) {}

func (m *countingMetrics) TickSkipped() { m.skipped.Add(1) }

func (m *countingMetrics) ClassifierRetry() {}

func (m *countingMetrics) ObserveAPIRequest(string, string) {}

type blockingEvaluator struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (e *blockingEvaluator) Evaluate(ctx context.Context, _ entities.Rule) (evaluators.Result, error) {
	e.calls.Add(1)
	if e.started != nil {
		e.once.Do(func() { close(e.started) })
		select {
		case <-e.release:
		case <-ctx.Done():
			return evaluators.Result{}, ctx.Err()
		}
	}
	return evaluators.Result{Status: entities.RunStatusNoAction, Summary: "0 bid changes applied"}, nil
}

var tickNow = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

func scheduledRule(id string, lastRun *time.Time, active bool) entities.Rule {
	return entities.Rule{
		RuleID:      id,
		Type:        entities.RuleTypeBidAdjustment,
		IsActive:    active,
		CampaignIDs: []string{"c1"},
		LastRunAt:   lastRun,
		Config: entities.BidAdjustmentConfig{
			Schedule: entities.Schedule{Frequency: entities.Frequency{Unit: entities.UnitHours, Value: 1}},
		},
	}
}

func newScheduler(store *memory.Store, evaluator commands.RuleEvaluator, metrics ports.Metrics) *Scheduler {
	clock := fixedClock{now: tickNow}
	return &Scheduler{
		Rules: store,
		Runner: commands.RunRuleUseCase{
			Rules:     store,
			Logs:      store,
			Evaluator: evaluator,
			Clock:     clock,
			IDGen:     store,
		},
		Clock:    clock,
		Location: time.UTC,
		Metrics:  metrics,
	}
}

func TestSchedulerRunsOnlyDueRules(t *testing.T) {
	recent := tickNow.Add(-30 * time.Minute)
	old := tickNow.Add(-90 * time.Minute)
	store := memory.NewStore([]entities.Rule{
		scheduledRule("rule-due", &old, true),
		scheduledRule("rule-recent", &recent, true),
		scheduledRule("rule-new", nil, true),
		scheduledRule("rule-off", nil, false),
	})
	evaluator := &blockingEvaluator{}
	scheduler := newScheduler(store, evaluator, &countingMetrics{})

	report, err := scheduler.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, TickReport{Considered: 3, Due: 2, Executed: 2}, report)
	assert.Equal(t, int32(2), evaluator.calls.Load())

	logs, err := store.ListLogs(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	again, err := scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, again.Due, "last_run_at advanced on the first tick")
}

func TestSchedulerSkipsOverlappingTick(t *testing.T) {
	store := memory.NewStore([]entities.Rule{scheduledRule("rule-1", nil, true)})
	evaluator := &blockingEvaluator{started: make(chan struct{}), release: make(chan struct{})}
	metrics := &countingMetrics{}
	scheduler := newScheduler(store, evaluator, metrics)

	done := make(chan error, 1)
	go func() {
		_, err := scheduler.RunOnce(context.Background())
		done <- err
	}()
	<-evaluator.started
	assert.True(t, scheduler.Busy())

	_, err := scheduler.RunOnce(context.Background())
	assert.ErrorIs(t, err, domainerrors.ErrTickInProgress)
	_, err = scheduler.RunRule(context.Background(), "rule-1")
	assert.ErrorIs(t, err, domainerrors.ErrTickInProgress)

	close(evaluator.release)
	require.NoError(t, <-done)
	assert.False(t, scheduler.Busy())
	assert.Equal(t, int32(2), metrics.skipped.Load())
	assert.Equal(t, int32(1), evaluator.calls.Load(), "skipped ticks are not queued")
}

type captureSubscriber struct {
	topic   string
	group   string
	handler func(context.Context, ports.EventEnvelope) error
}

func (s *captureSubscriber) Subscribe(_ context.Context, topic, group string, handler func(context.Context, ports.EventEnvelope) error) error {
	s.topic, s.group, s.handler = topic, group, handler
	return nil
}

func TestManualTriggerRunsRequestedRule(t *testing.T) {
	recent := tickNow.Add(-time.Minute)
	store := memory.NewStore([]entities.Rule{scheduledRule("rule-1", &recent, true)})
	evaluator := &blockingEvaluator{}
	subscriber := &captureSubscriber{}
	consumer := ManualTriggerConsumer{Subscriber: subscriber, Scheduler: newScheduler(store, evaluator, nil)}

	require.NoError(t, consumer.Start(context.Background()))
	assert.Equal(t, commands.RunRequestedTopic, subscriber.topic)
	assert.Equal(t, defaultManualTriggerGroupName, subscriber.group)

	data, err := json.Marshal(commands.RunRequestedPayload{RuleID: "rule-1", RequestedBy: "ops"})
	require.NoError(t, err)
	require.NoError(t, subscriber.handler(context.Background(), ports.EventEnvelope{EventID: "evt-1", Data: data}))
	assert.Equal(t, int32(1), evaluator.calls.Load(), "manual runs ignore the schedule")

	missing, err := json.Marshal(commands.RunRequestedPayload{RuleID: "nope"})
	require.NoError(t, err)
	assert.ErrorIs(t, subscriber.handler(context.Background(), ports.EventEnvelope{EventID: "evt-2", Data: missing}), domainerrors.ErrRuleNotFound)
	assert.Error(t, subscriber.handler(context.Background(), ports.EventEnvelope{EventID: "evt-3", Data: []byte("{")}))
}

// hookSleeper runs onSleep instead of waiting.
type hookSleeper struct {
	waits   []time.Duration
	onSleep func()
}

func (s *hookSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	if s.onSleep != nil {
		s.onSleep()
	}
	return nil
}

func runRequest(t *testing.T, ruleID string) ports.EventEnvelope {
	t.Helper()
	data, err := json.Marshal(commands.RunRequestedPayload{RuleID: ruleID})
	require.NoError(t, err)
	return ports.EventEnvelope{EventID: "evt-" + ruleID, Data: data}
}

func TestManualTriggerWaitsForRunningTick(t *testing.T) {
	store := memory.NewStore([]entities.Rule{scheduledRule("rule-1", nil, true)})
	evaluator := &blockingEvaluator{started: make(chan struct{}), release: make(chan struct{})}
	scheduler := newScheduler(store, evaluator, nil)

	tickDone := make(chan error, 1)
	go func() {
		_, err := scheduler.RunOnce(context.Background())
		tickDone <- err
	}()
	<-evaluator.started

	sleeper := &hookSleeper{}
	sleeper.onSleep = func() {
		if len(sleeper.waits) == 1 {
			close(evaluator.release)
			require.NoError(t, <-tickDone)
		}
	}
	consumer := ManualTriggerConsumer{
		Scheduler: scheduler,
		BusyRetry: DefaultBusyRetry,
		Sleeper:   sleeper,
	}
	require.NoError(t, consumer.handle(context.Background(), runRequest(t, "rule-1")))

	assert.Equal(t, []time.Duration{time.Second}, sleeper.waits)
	assert.Equal(t, int32(2), evaluator.calls.Load(), "the manual run happens after the tick")
	logs, err := store.ListLogs(context.Background(), "rule-1", 10)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestManualTriggerLogsWhenTickOutlastsRetries(t *testing.T) {
	store := memory.NewStore([]entities.Rule{scheduledRule("rule-1", nil, true)})
	evaluator := &blockingEvaluator{started: make(chan struct{}), release: make(chan struct{})}
	scheduler := newScheduler(store, evaluator, nil)

	tickDone := make(chan error, 1)
	go func() {
		_, err := scheduler.RunOnce(context.Background())
		tickDone <- err
	}()
	<-evaluator.started

	sleeper := &hookSleeper{}
	consumer := ManualTriggerConsumer{
		Scheduler: scheduler,
		BusyRetry: application.RetryPolicy{Attempts: 3, Base: time.Second, Max: 10 * time.Second},
		Sleeper:   sleeper,
	}
	require.NoError(t, consumer.handle(context.Background(), runRequest(t, "rule-1")))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.waits)

	logs, err := store.ListLogs(context.Background(), "rule-1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, entities.RunStatusNoAction, logs[0].Status)
	require.Len(t, logs[0].Details.Errors, 1)
	assert.Equal(t, TickInProgressCode, logs[0].Details.Errors[0].Code)

	close(evaluator.release)
	require.NoError(t, <-tickDone)
	assert.Equal(t, int32(1), evaluator.calls.Load())
}

// budgetAds implements only what the reset job calls.
type budgetAds struct {
	ports.AdsAPI
	reject  map[string]bool
	callErr error
	calls   map[string][]ports.BudgetUpdate
}

func (a *budgetAds) Ready() bool { return true }

func (a *budgetAds) UpdateCampaignBudgets(_ context.Context, profileID string, updates []ports.BudgetUpdate) ([]ports.MutationResult, error) {
	if a.calls == nil {
		a.calls = make(map[string][]ports.BudgetUpdate)
	}
	a.calls[profileID] = append(a.calls[profileID], updates...)
	if a.callErr != nil {
		return nil, a.callErr
	}
	out := make([]ports.MutationResult, 0, len(updates))
	for i, u := range updates {
		out = append(out, ports.MutationResult{Index: i, ID: u.CampaignID, Success: !a.reject[u.CampaignID]})
	}
	return out, nil
}

func seedOverrides(t *testing.T, store *memory.Store) {
	t.Helper()
	for _, o := range []entities.DailyBudgetOverride{
		{OverrideID: "o1", ProfileID: "p1", CampaignID: "c1", OriginalBudget: 50, NewBudget: 62.5, OverrideDate: "2026-03-09"},
		{OverrideID: "o2", ProfileID: "p1", CampaignID: "c1", OriginalBudget: 62.5, NewBudget: 80, OverrideDate: "2026-03-10"},
		{OverrideID: "o3", ProfileID: "p1", CampaignID: "c2", OriginalBudget: 20, NewBudget: 25, OverrideDate: "2026-03-10"},
		{OverrideID: "o4", ProfileID: "p2", CampaignID: "c3", OriginalBudget: 15, NewBudget: 30, OverrideDate: "2026-03-10"},
		{OverrideID: "o5", ProfileID: "p2", CampaignID: "c4", OriginalBudget: 15, NewBudget: 30, OverrideDate: "2026-03-11"},
	} {
		require.NoError(t, store.CreateOverride(context.Background(), o))
	}
}

func TestDailyBudgetResetRevertsConfirmedCampaigns(t *testing.T) {
	store := memory.NewStore(nil)
	seedOverrides(t, store)
	ads := &budgetAds{reject: map[string]bool{"c2": true}}
	job := &DailyBudgetReset{
		Overrides: store,
		Ads:       ads,
		Clock:     fixedClock{now: time.Date(2026, time.March, 10, 23, 56, 0, 0, time.UTC)},
		Location:  time.UTC,
		ResetAt:   "23:55",
	}

	report, err := job.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, BudgetResetReport{Date: "2026-03-10", Pending: 4, Reverted: 2, Failed: 1, Profiles: 2}, report)
	assert.ElementsMatch(t, []ports.BudgetUpdate{
		{CampaignID: "c1", DailyBudget: 50},
		{CampaignID: "c2", DailyBudget: 20},
	}, ads.calls["p1"], "the earliest override carries the true original budget")
	assert.Equal(t, []ports.BudgetUpdate{{CampaignID: "c3", DailyBudget: 15}}, ads.calls["p2"])

	pending, err := store.ListPendingOverrides(context.Background(), "2026-03-11")
	require.NoError(t, err)
	ids := make([]string, 0, len(pending))
	for _, o := range pending {
		ids = append(ids, o.OverrideID)
	}
	assert.ElementsMatch(t, []string{"o3", "o5"}, ids)
}

func TestDailyBudgetResetRunsOncePerDay(t *testing.T) {
	store := memory.NewStore(nil)
	seedOverrides(t, store)
	clock := &fixedClock{now: time.Date(2026, time.March, 10, 23, 50, 0, 0, time.UTC)}
	ads := &budgetAds{}
	job := &DailyBudgetReset{Overrides: store, Ads: ads, Clock: clock, Location: time.UTC, ResetAt: "23:55"}

	_, ran, err := job.RunIfDue(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)

	clock.now = clock.now.Add(10 * time.Minute)
	_, ran, err = job.RunIfDue(context.Background())
	require.NoError(t, err)
	assert.False(t, ran, "00:00 is a new day before the reset time")

	clock.now = time.Date(2026, time.March, 11, 23, 55, 0, 0, time.UTC)
	report, ran, err := job.RunIfDue(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 5, report.Pending)

	_, ran, err = job.RunIfDue(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestDailyBudgetResetRetriesUntilConfirmed(t *testing.T) {
	store := memory.NewStore(nil)
	seedOverrides(t, store)
	ads := &budgetAds{callErr: domainerrors.ErrUnavailable}
	clock := &fixedClock{now: time.Date(2026, time.March, 10, 23, 56, 0, 0, time.UTC)}
	job := &DailyBudgetReset{Overrides: store, Ads: ads, Clock: clock, Location: time.UTC, ResetAt: "23:55"}

	report, ran, err := job.RunIfDue(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 3, report.Failed, "every campaign of both profiles")

	ads.callErr = nil
	clock.now = clock.now.Add(time.Minute)
	report, ran, err = job.RunIfDue(context.Background())
	require.NoError(t, err)
	assert.True(t, ran, "a failed reset is retried the same day")
	assert.Equal(t, 3, report.Reverted)

	_, ran, err = job.RunIfDue(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
}
