package evaluators

import (
	"context"
	"strconv"
	"sync"
	"time"

	"adpilot/contexts/ad-automation/automation-engine/adapters/memory"
	"adpilot/contexts/ad-automation/automation-engine/application/queries"
	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
	"adpilot/contexts/ad-automation/automation-engine/ports"
)

var errNotFound = &domainerrors.APIError{Operation: "lookup", Status: 404, Code: "NOT_FOUND", Message: "not found"}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return ctx.Err()
}

// fakeAds records every write and answers reads from fixed maps.
type fakeAds struct {
	notReady bool

	keywords  map[string]ports.KeywordRecord
	targets   map[string]ports.TargetRecord
	adGroups  map[string]ports.AdGroupRecord
	campaigns map[string]ports.CampaignRecord

	keywordBids      [][]ports.BidUpdate
	targetBids       [][]ports.BidUpdate
	budgets          [][]ports.BudgetUpdate
	negativeKeywords [][]ports.NegativeKeywordSpec
	negativeTargets  [][]ports.NegativeTargetSpec
	newCampaigns     []ports.CampaignSpec
	newAdGroups      []ports.AdGroupSpec
	newAds           []ports.ProductAdSpec
	newKeywords      []ports.KeywordSpec
	newTargets       []ports.TargetSpec

	// rejected ids come back as item-level failures.
	rejected map[string]bool
	ids      int
}

func (f *fakeAds) nextID(prefix string) string {
	f.ids++
	return prefix + "-" + strconv.Itoa(f.ids)
}

func (f *fakeAds) results(ids []string) []ports.MutationResult {
	out := make([]ports.MutationResult, 0, len(ids))
	for i, id := range ids {
		if f.rejected[id] {
			out = append(out, ports.MutationResult{Index: i, Code: "INVALID_ARGUMENT", Message: "rejected"})
			continue
		}
		out = append(out, ports.MutationResult{Index: i, ID: id, Success: true})
	}
	return out
}

func (f *fakeAds) Ready() bool { return !f.notReady }

func (f *fakeAds) GetKeywords(_ context.Context, _ string, ids []string) ([]ports.KeywordRecord, error) {
	var out []ports.KeywordRecord
	for _, id := range ids {
		if rec, ok := f.keywords[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeAds) GetTargets(_ context.Context, _ string, ids []string) ([]ports.TargetRecord, error) {
	var out []ports.TargetRecord
	for _, id := range ids {
		if rec, ok := f.targets[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeAds) GetAdGroups(_ context.Context, _ string, ids []string) ([]ports.AdGroupRecord, error) {
	var out []ports.AdGroupRecord
	for _, id := range ids {
		if rec, ok := f.adGroups[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeAds) GetCampaigns(_ context.Context, _ string, ids []string) ([]ports.CampaignRecord, error) {
	var out []ports.CampaignRecord
	for _, id := range ids {
		if rec, ok := f.campaigns[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeAds) UpdateKeywordBids(_ context.Context, _ string, updates []ports.BidUpdate) ([]ports.MutationResult, error) {
	f.keywordBids = append(f.keywordBids, updates)
	ids := make([]string, 0, len(updates))
	for _, u := range updates {
		ids = append(ids, u.ID)
	}
	return f.results(ids), nil
}

func (f *fakeAds) UpdateTargetBids(_ context.Context, _ string, updates []ports.BidUpdate) ([]ports.MutationResult, error) {
	f.targetBids = append(f.targetBids, updates)
	ids := make([]string, 0, len(updates))
	for _, u := range updates {
		ids = append(ids, u.ID)
	}
	return f.results(ids), nil
}

func (f *fakeAds) UpdateCampaignBudgets(_ context.Context, _ string, updates []ports.BudgetUpdate) ([]ports.MutationResult, error) {
	f.budgets = append(f.budgets, updates)
	ids := make([]string, 0, len(updates))
	for _, u := range updates {
		ids = append(ids, u.CampaignID)
	}
	return f.results(ids), nil
}

func (f *fakeAds) CreateCampaign(_ context.Context, _ string, spec ports.CampaignSpec) (string, error) {
	f.newCampaigns = append(f.newCampaigns, spec)
	return f.nextID("campaign"), nil
}

func (f *fakeAds) CreateAdGroup(_ context.Context, _ string, spec ports.AdGroupSpec) (string, error) {
	f.newAdGroups = append(f.newAdGroups, spec)
	return f.nextID("adgroup"), nil
}

func (f *fakeAds) CreateProductAd(_ context.Context, _ string, spec ports.ProductAdSpec) (string, error) {
	f.newAds = append(f.newAds, spec)
	return f.nextID("ad"), nil
}

func (f *fakeAds) CreateKeywords(_ context.Context, _ string, specs []ports.KeywordSpec) ([]ports.MutationResult, error) {
	f.newKeywords = append(f.newKeywords, specs...)
	ids := make([]string, 0, len(specs))
	for range specs {
		ids = append(ids, f.nextID("keyword"))
	}
	return f.results(ids), nil
}

func (f *fakeAds) CreateTargets(_ context.Context, _ string, specs []ports.TargetSpec) ([]ports.MutationResult, error) {
	f.newTargets = append(f.newTargets, specs...)
	ids := make([]string, 0, len(specs))
	for range specs {
		ids = append(ids, f.nextID("target"))
	}
	return f.results(ids), nil
}

func (f *fakeAds) CreateNegativeKeywords(_ context.Context, _ string, specs []ports.NegativeKeywordSpec) ([]ports.MutationResult, error) {
	f.negativeKeywords = append(f.negativeKeywords, specs)
	ids := make([]string, 0, len(specs))
	for _, s := range specs {
		ids = append(ids, "neg:"+s.Text)
	}
	return f.results(ids), nil
}

func (f *fakeAds) CreateNegativeTargets(_ context.Context, _ string, specs []ports.NegativeTargetSpec) ([]ports.MutationResult, error) {
	f.negativeTargets = append(f.negativeTargets, specs)
	ids := make([]string, 0, len(specs))
	for _, s := range specs {
		ids = append(ids, "negtarget:"+s.ASIN)
	}
	return f.results(ids), nil
}

type fakeCatalog struct {
	mu       sync.Mutex
	products map[string]ports.ProductDetails
	skus     map[string]string
	skuErr   error
	lookups  int
}

func (c *fakeCatalog) GetProductDetails(_ context.Context, asin string) (ports.ProductDetails, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups++
	product, ok := c.products[asin]
	if !ok {
		return ports.ProductDetails{}, errNotFound
	}
	return product, nil
}

func (c *fakeCatalog) ResolveSKU(_ context.Context, _ string, asin string) (string, error) {
	if c.skuErr != nil {
		return "", c.skuErr
	}
	return c.skus[asin], nil
}

type fakeClassifier struct {
	credentials []string
	batch       func(terms []string) (map[string]bool, error)
	term        func(term string) (bool, error)

	batchCredentials []string
	termCalls        []string
}

func (c *fakeClassifier) Credentials() []string { return c.credentials }

func (c *fakeClassifier) ClassifyBatch(_ context.Context, credential string, _ ports.ProductDetails, terms []string) (map[string]bool, error) {
	c.batchCredentials = append(c.batchCredentials, credential)
	return c.batch(terms)
}

func (c *fakeClassifier) ClassifyTerm(_ context.Context, _ string, _ ports.ProductDetails, term string) (bool, error) {
	c.termCalls = append(c.termCalls, term)
	return c.term(term)
}

type fakeListings struct {
	prices map[string]float64
	// missingOnce reports the sku as not found on its first lookup.
	missingOnce map[string]bool

	lookups map[string]int
	updates map[string]float64
}

func (l *fakeListings) GetListing(_ context.Context, sku string) (ports.Listing, error) {
	if l.lookups == nil {
		l.lookups = make(map[string]int)
	}
	l.lookups[sku]++
	if l.missingOnce[sku] && l.lookups[sku] == 1 {
		return ports.Listing{}, errNotFound
	}
	price, ok := l.prices[sku]
	if !ok {
		return ports.Listing{}, errNotFound
	}
	return ports.Listing{SKU: sku, SellerID: "seller-1", Price: price, Currency: "USD"}, nil
}

func (l *fakeListings) UpdatePrice(_ context.Context, listing ports.Listing, price float64) error {
	if l.updates == nil {
		l.updates = make(map[string]float64)
	}
	l.updates[listing.SKU] = price
	return nil
}

func newTestEngine(store *memory.Store, ads *fakeAds, now time.Time) (Engine, *recordingSleeper) {
	sleeper := &recordingSleeper{}
	return Engine{
		Performance: queries.FetchPerformance{Store: store},
		Ads:         ads,
		Throttle:    store,
		Overrides:   store,
		Clock:       fixedClock{now: now},
		IDGen:       store,
		Sleeper:     sleeper,
		Location:    time.UTC,
	}, sleeper
}
