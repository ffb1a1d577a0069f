package adsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
	"adpilot/contexts/ad-automation/automation-engine/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *recordingSleeper) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	sleeper := &recordingSleeper{}
	client := New(Config{
		BaseURL:     server.URL,
		ClientID:    "client-1",
		AccessToken: "token-1",
		MaxRetries:  2,
		RetryBase:   10 * time.Millisecond,
	}, sleeper, nil, nil)
	return client, sleeper
}

func TestGetKeywordsSplitsIntoChunksOfAtMostOneHundred(t *testing.T) {
	var mu sync.Mutex
	var sizes []int
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sp/keywords/list", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		assert.Equal(t, "client-1", r.Header.Get("Amazon-Advertising-API-ClientId"))
		assert.Equal(t, "profile-1", r.Header.Get("Amazon-Advertising-API-Scope"))

		var req listRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		sizes = append(sizes, len(req.KeywordFilter.Include))
		mu.Unlock()

		items := make([]map[string]any, 0, len(req.KeywordFilter.Include))
		for _, id := range req.KeywordFilter.Include {
			items = append(items, map[string]any{"keywordId": id, "keywordText": "kw " + id, "matchType": "exact", "bid": 0.75})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"keywords": items})
	})

	ids := make([]string, 150)
	for i := range ids {
		ids[i] = fmt.Sprintf("k%03d", i)
	}
	records, err := client.GetKeywords(context.Background(), "profile-1", ids)
	require.NoError(t, err)
	assert.Len(t, records, 150)
	assert.Equal(t, "EXACT", records[0].MatchType)
	require.NotNil(t, records[0].Bid)
	assert.InDelta(t, 0.75, *records[0].Bid, 1e-9)

	sort.Ints(sizes)
	assert.Equal(t, []int{50, 100}, sizes)
}

func TestGetCampaignsAcceptsLegacyArrayPayload(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"campaignId": 42, "name": "Main", "state": "enabled", "dailyBudget": 25.5}]`))
	})

	records, err := client.GetCampaigns(context.Background(), "p", []string{"42"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "42", records[0].CampaignID)
	assert.Equal(t, "ENABLED", records[0].State)
	assert.InDelta(t, 25.5, records[0].DailyBudget, 1e-9)
}

func TestUpdateKeywordBidsNormalizesSuccessAndErrorLists(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = w.Write([]byte(`{"keywords":{
			"success":[{"index":0,"keywordId":"k1"}],
			"error":[{"index":1,"errors":[{"errorType":"INVALID_ARGUMENT","errorValue":{"bidValue":{"message":"bid below minimum"}}}]}]
		}}`))
	})

	results, err := client.UpdateKeywordBids(context.Background(), "p", []ports.BidUpdate{{ID: "k1", Bid: 1}, {ID: "k2", Bid: 0.01}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.Equal(t, "k1", results[0].ID)
	assert.False(t, results[1].Success)
	assert.Equal(t, "INVALID_ARGUMENT", results[1].Code)
	assert.Equal(t, "bid below minimum", results[1].Message)
}

func TestCreateNegativeKeywordsNormalizesLegacyCodes(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"code":"SUCCESS","keywordId":9001},{"code":"DUPLICATE","description":"already exists"}]`))
	})

	results, err := client.CreateNegativeKeywords(context.Background(), "p", []ports.NegativeKeywordSpec{
		{CampaignID: "c", AdGroupID: "a", Text: "cheap"},
		{CampaignID: "c", AdGroupID: "a", Text: "free"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.Equal(t, "9001", results[0].ID)
	assert.Equal(t, "DUPLICATE", results[1].Code)
	assert.Equal(t, "already exists", results[1].Message)
}

func TestMissingItemResultsAreReportedAsFailures(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"targetingClauses":{"success":[{"index":1,"targetId":"t2"}]}}`))
	})

	results, err := client.UpdateTargetBids(context.Background(), "p", []ports.BidUpdate{{ID: "t1", Bid: 1}, {ID: "t2", Bid: 1}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "MISSING_RESULT", results[0].Code)
	assert.True(t, results[1].Success)
}

func TestRetriesThrottledRequestsWithDoublingBackoff(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	client, sleeper := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"code":"THROTTLED","details":"slow down"}`))
			return
		}
		_, _ = w.Write([]byte(`{"adGroups":[{"adGroupId":"ag1","defaultBid":0.4}]}`))
	})

	records, err := client.GetAdGroups(context.Background(), "p", []string{"ag1"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, sleeper.waits)
}

func TestValidationErrorsAreNotRetried(t *testing.T) {
	calls := 0
	client, sleeper := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"INVALID_ARGUMENT","details":"bad name"}`))
	})

	_, err := client.CreateCampaign(context.Background(), "p", ports.CampaignSpec{Name: "x", DailyBudget: 10})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainerrors.ErrValidation))
	var apiErr *domainerrors.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "bad name", apiErr.Message)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.waits)
}

func TestCreateCampaignRejectedItemSurfacesCode(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = w.Write([]byte(`{"campaigns":{"error":[{"index":0,"errors":[{"errorType":"DUPLICATE_VALUE","message":"name taken"}]}]}}`))
	})

	_, err := client.CreateCampaign(context.Background(), "p", ports.CampaignSpec{Name: "x", DailyBudget: 10})
	var apiErr *domainerrors.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "DUPLICATE_VALUE", apiErr.Code)
	assert.Equal(t, "name taken", apiErr.Message)
}

func TestReadyRequiresCredentials(t *testing.T) {
	assert.False(t, New(Config{BaseURL: "http://x"}, nil, nil, nil).Ready())
	assert.True(t, New(Config{BaseURL: "http://x", ClientID: "c", AccessToken: "t"}, nil, nil, nil).Ready())
}
