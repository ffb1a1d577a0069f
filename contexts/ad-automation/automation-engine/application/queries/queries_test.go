package queries

import (
	"context"
	"testing"
	"time"

	"adpilot/contexts/ad-automation/automation-engine/adapters/memory"
	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
	"adpilot/contexts/ad-automation/automation-engine/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var reference = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

type recordingStore struct {
	*memory.Store
	queries []ports.PerformanceQuery
}

func (s *recordingStore) QueryPerformance(ctx context.Context, q ports.PerformanceQuery) ([]ports.PerformanceRow, error) {
	s.queries = append(s.queries, q)
	return s.Store.QueryPerformance(ctx, q)
}

func TestFetchPerformanceGroupsRowsPerEntity(t *testing.T) {
	store := &recordingStore{Store: memory.NewStore(nil)}
	store.AddPerformance(
		ports.PerformanceRow{Date: "2026-03-08", EntityType: entities.EntityKeyword, EntityID: "kw-1", CampaignID: "c1", Clicks: 2, Spend: 1},
		ports.PerformanceRow{Date: "2026-03-09", EntityType: entities.EntityKeyword, EntityID: "kw-1", CampaignID: "c1", CampaignName: "Brand", Clicks: 3, Spend: 2},
		ports.PerformanceRow{Date: "2026-03-09", EntityType: entities.EntityKeyword, EntityID: "kw-1", CampaignID: "c1", Clicks: 1, Spend: 0.5},
		ports.PerformanceRow{Date: "2026-03-09", EntityType: entities.EntitySearchTerm, CampaignID: "c1", AdGroupID: "ag-1", EntityText: " Cat Litter ", MatchType: "phrase", SourceASIN: "b07xyz"},
		ports.PerformanceRow{Date: "2026-03-10", EntityType: entities.EntityKeyword, EntityID: "kw-1", CampaignID: "c1", Clicks: 50},
	)

	snapshot, err := FetchPerformance{Store: store}.Execute(context.Background(), PerformanceRequest{
		CampaignIDs:  []string{" c1 ", "c1"},
		LookbackDays: 7,
		Reference:    reference,
	})
	require.NoError(t, err)

	require.Len(t, store.queries, 1)
	assert.Equal(t, []string{"c1"}, store.queries[0].CampaignIDs)
	assert.Equal(t, "2026-03-01", store.queries[0].From)
	assert.Equal(t, "2026-03-09", store.queries[0].To)

	assert.Equal(t, 4, snapshot.Rows)
	assert.Equal(t, entities.DateRange{From: "2026-03-08", To: "2026-03-09"}, snapshot.Range)
	assert.Equal(t, []string{"c1|ag-1|cat litter", "keyword:kw-1"}, snapshot.SortedKeys())

	kw := snapshot.Entities["keyword:kw-1"]
	assert.Equal(t, "Brand", kw.CampaignName)
	require.Len(t, kw.Daily, 2)
	m := kw.Daily.Metrics(7, reference)
	assert.Equal(t, int64(6), m.Clicks)
	assert.InDelta(t, 3.5, m.Spend, 1e-9)

	term := snapshot.Entities["c1|ag-1|cat litter"]
	assert.Equal(t, entities.MatchType("PHRASE"), term.MatchType)
	assert.Equal(t, "B07XYZ", term.SourceASIN)
}

func TestFetchPerformanceSingleDay(t *testing.T) {
	store := &recordingStore{Store: memory.NewStore(nil)}
	_, err := FetchPerformance{Store: store}.Execute(context.Background(), PerformanceRequest{
		CampaignIDs: []string{"c1"},
		Reference:   reference,
		SingleDay:   true,
	})
	require.NoError(t, err)
	require.Len(t, store.queries, 1)
	assert.Equal(t, "2026-03-10", store.queries[0].From)
	assert.Equal(t, "2026-03-10", store.queries[0].To)
}

func TestFetchPerformanceRequiresScope(t *testing.T) {
	_, err := FetchPerformance{Store: memory.NewStore(nil)}.Execute(context.Background(), PerformanceRequest{
		CampaignIDs: []string{" "},
		Reference:   reference,
	})
	assert.ErrorIs(t, err, domainerrors.ErrEmptyScope)
}

func TestListLogs(t *testing.T) {
	store := memory.NewStore([]entities.Rule{{RuleID: "rule-1", IsActive: true}})
	ctx := context.Background()
	for i := 0; i < 30; i++ {
		require.NoError(t, store.AppendLog(ctx, entities.AutomationLog{RuleID: "rule-1", RunAt: reference.Add(time.Duration(i) * time.Minute)}))
	}
	q := ListLogs{Rules: store, Logs: store}

	logs, err := q.Execute(ctx, "rule-1", 0)
	require.NoError(t, err)
	assert.Len(t, logs, defaultLogLimit)
	assert.True(t, logs[0].RunAt.After(logs[1].RunAt))

	logs, err = q.Execute(ctx, "rule-1", 1000)
	require.NoError(t, err)
	assert.Len(t, logs, 30)

	_, err = q.Execute(ctx, "missing", 5)
	assert.ErrorIs(t, err, domainerrors.ErrRuleNotFound)
	_, err = q.Execute(ctx, "  ", 5)
	assert.ErrorIs(t, err, domainerrors.ErrRuleNotFound)
}
