package ports

import (
	"context"
	"time"

	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
	contractsv1 "adpilot/contracts/gen/events/v1"
)

type RuleRepository interface {
	ListActiveRules(ctx context.Context) ([]entities.Rule, error)
	GetRule(ctx context.Context, ruleID string) (entities.Rule, error)
	MarkRuleRun(ctx context.Context, ruleID string, at time.Time) error
}

type LogRepository interface {
	AppendLog(ctx context.Context, log entities.AutomationLog) error
	ListLogs(ctx context.Context, ruleID string, limit int) ([]entities.AutomationLog, error)
}

// PerformanceQuery selects raw daily rows. From and To are inclusive
// calendar dates (YYYY-MM-DD).
type PerformanceQuery struct {
	ProfileID   string
	CampaignIDs []string
	EntityTypes []entities.EntityType
	From        string
	To          string
}

type PerformanceRow struct {
	Date         string
	EntityType   entities.EntityType
	EntityID     string
	CampaignID   string
	CampaignName string
	AdGroupID    string
	AdGroupName  string
	EntityText   string
	MatchType    string
	SourceASIN   string
	Impressions  int64
	Clicks       int64
	Orders       int64
	Spend        float64
	Sales        float64
}

type PerformanceStore interface {
	QueryPerformance(ctx context.Context, query PerformanceQuery) ([]PerformanceRow, error)
}

type ThrottleStore interface {
	ListThrottle(ctx context.Context, ruleID string, since time.Time) ([]entities.ThrottleEntry, error)
	// RecordThrottle upserts on (rule_id, kind, entity_key).
	RecordThrottle(ctx context.Context, entries []entities.ThrottleEntry) error
}

type BudgetOverrideRepository interface {
	// CreateOverride returns ErrOverrideExists when the campaign already has
	// an override for the date.
	CreateOverride(ctx context.Context, override entities.DailyBudgetOverride) error
	HasOverride(ctx context.Context, campaignID string, date string) (bool, error)
	ListPendingOverrides(ctx context.Context, onOrBefore string) ([]entities.DailyBudgetOverride, error)
	MarkReverted(ctx context.Context, overrideIDs []string, at time.Time) error
}

type KeywordRecord struct {
	KeywordID   string
	CampaignID  string
	AdGroupID   string
	KeywordText string
	MatchType   string
	State       string
	// Bid is nil when the keyword inherits its ad group's default bid.
	Bid *float64
}

type TargetRecord struct {
	TargetID   string
	CampaignID string
	AdGroupID  string
	Expression string
	State      string
	Bid        *float64
}

type AdGroupRecord struct {
	AdGroupID  string
	CampaignID string
	Name       string
	DefaultBid float64
}

type CampaignRecord struct {
	CampaignID  string
	Name        string
	State       string
	DailyBudget float64
}

type BidUpdate struct {
	ID  string
	Bid float64
}

type BudgetUpdate struct {
	CampaignID  string
	DailyBudget float64
}

// MutationResult is the per-item outcome of a bulk call.
type MutationResult struct {
	Index   int
	ID      string
	Success bool
	Code    string
	Message string
}

type CampaignSpec struct {
	Name        string
	DailyBudget float64
	StartDate   string
}

type AdGroupSpec struct {
	CampaignID string
	Name       string
	DefaultBid float64
}

type ProductAdSpec struct {
	CampaignID string
	AdGroupID  string
	SKU        string
	ASIN       string
}

type KeywordSpec struct {
	CampaignID string
	AdGroupID  string
	Text       string
	MatchType  entities.MatchType
	Bid        *float64
}

type TargetSpec struct {
	CampaignID string
	AdGroupID  string
	ASIN       string
	Bid        *float64
}

type NegativeKeywordSpec struct {
	CampaignID string
	AdGroupID  string
	Text       string
	MatchType  entities.MatchType
}

type NegativeTargetSpec struct {
	CampaignID string
	AdGroupID  string
	ASIN       string
}

// AdsAPI is the advertising platform. Bulk reads and writes are chunked by
// the implementation.
type AdsAPI interface {
	Ready() bool
	GetKeywords(ctx context.Context, profileID string, keywordIDs []string) ([]KeywordRecord, error)
	GetTargets(ctx context.Context, profileID string, targetIDs []string) ([]TargetRecord, error)
	GetAdGroups(ctx context.Context, profileID string, adGroupIDs []string) ([]AdGroupRecord, error)
	GetCampaigns(ctx context.Context, profileID string, campaignIDs []string) ([]CampaignRecord, error)
	UpdateKeywordBids(ctx context.Context, profileID string, updates []BidUpdate) ([]MutationResult, error)
	UpdateTargetBids(ctx context.Context, profileID string, updates []BidUpdate) ([]MutationResult, error)
	UpdateCampaignBudgets(ctx context.Context, profileID string, updates []BudgetUpdate) ([]MutationResult, error)
	CreateCampaign(ctx context.Context, profileID string, spec CampaignSpec) (string, error)
	CreateAdGroup(ctx context.Context, profileID string, spec AdGroupSpec) (string, error)
	CreateProductAd(ctx context.Context, profileID string, spec ProductAdSpec) (string, error)
	CreateKeywords(ctx context.Context, profileID string, specs []KeywordSpec) ([]MutationResult, error)
	CreateTargets(ctx context.Context, profileID string, specs []TargetSpec) ([]MutationResult, error)
	CreateNegativeKeywords(ctx context.Context, profileID string, specs []NegativeKeywordSpec) ([]MutationResult, error)
	CreateNegativeTargets(ctx context.Context, profileID string, specs []NegativeTargetSpec) ([]MutationResult, error)
}

type Listing struct {
	SKU      string
	SellerID string
	Price    float64
	Currency string
}

type ListingAPI interface {
	GetListing(ctx context.Context, sku string) (Listing, error)
	UpdatePrice(ctx context.Context, listing Listing, price float64) error
}

type ProductDetails struct {
	ASIN    string
	Title   string
	Bullets []string
}

type CatalogLookup interface {
	GetProductDetails(ctx context.Context, asin string) (ProductDetails, error)
	ResolveSKU(ctx context.Context, profileID string, asin string) (string, error)
}

// Classifier judges search-term relevance against a product description.
// Credential selects the API key used for the call.
type Classifier interface {
	Credentials() []string
	ClassifyBatch(ctx context.Context, credential string, product ProductDetails, terms []string) (map[string]bool, error)
	ClassifyTerm(ctx context.Context, credential string, product ProductDetails, term string) (bool, error)
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type EventEnvelope = contractsv1.Envelope

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

type EventSubscriber interface {
	Subscribe(
		ctx context.Context,
		topic string,
		consumerGroup string,
		handler func(context.Context, EventEnvelope) error,
	) error
}

type Metrics interface {
	ObserveRuleRun(ruleType string, status string, elapsed time.Duration)
	TickSkipped()
	ClassifierRetry()
	ObserveAPIRequest(operation string, outcome string)
}
