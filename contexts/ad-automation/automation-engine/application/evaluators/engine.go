package evaluators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	application "adpilot/contexts/ad-automation/automation-engine/application"
	"adpilot/contexts/ad-automation/automation-engine/application/queries"
	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
	"adpilot/contexts/ad-automation/automation-engine/ports"
)

const moduleName = "ad-automation/automation-engine"

type Settings struct {
	ClassifierBatchSize  int
	ClassifierBatchDelay time.Duration
	ClassifierRetry      application.RetryPolicy
	CatalogParallelism   int
	SKUDelay             time.Duration
	NotFoundRetryDelay   time.Duration
	// BudgetResetAt is the "HH:MM" nightly reset. Acceleration rules stop
	// raising budgets once it has passed for the day.
	BudgetResetAt string
}

func (s Settings) withDefaults() Settings {
	if s.ClassifierBatchSize <= 0 {
		s.ClassifierBatchSize = 20
	}
	if s.ClassifierBatchDelay < 0 {
		s.ClassifierBatchDelay = 0
	}
	if s.ClassifierRetry.Attempts <= 0 {
		s.ClassifierRetry = application.ClassifierRetryPolicy
	}
	if s.CatalogParallelism <= 0 {
		s.CatalogParallelism = 4
	}
	if s.NotFoundRetryDelay == 0 {
		s.NotFoundRetryDelay = 60 * time.Second
	}
	return s
}

// Engine evaluates one rule against fresh performance data and applies the
// resulting mutations. Dispatch is by config variant.
type Engine struct {
	Performance queries.FetchPerformance
	Ads         ports.AdsAPI
	Listings    ports.ListingAPI
	Catalog     ports.CatalogLookup
	Classifier  ports.Classifier
	Throttle    ports.ThrottleStore
	Overrides   ports.BudgetOverrideRepository
	Clock       ports.Clock
	IDGen       ports.IDGenerator
	Sleeper     ports.Sleeper
	Metrics     ports.Metrics
	Location    *time.Location
	Settings    Settings
	Logger      *slog.Logger
}

// Result is the outcome of one evaluation.
type Result struct {
	Status  entities.RunStatus
	Summary string
	Details entities.RunDetails
	Acted   []entities.ThrottleEntry
}

// run is the per-evaluation state. It is never shared between rules.
type run struct {
	rule     entities.Rule
	now      time.Time
	throttle entities.ThrottleSet
	details  entities.RunDetails
	acted    []entities.ThrottleEntry
	logger   *slog.Logger
	settings Settings
}

// touch records one cooldown entry per kind and key; a batch upsert may not
// hit the same row twice.
func (r *run) touch(kind entities.ThrottleKind, key string) {
	for _, entry := range r.acted {
		if entry.Kind == kind && entry.EntityKey == key {
			return
		}
	}
	r.acted = append(r.acted, entities.ThrottleEntry{
		RuleID:    r.rule.RuleID,
		Kind:      kind,
		EntityKey: key,
		ActedAt:   r.now,
	})
}

func (e Engine) location() *time.Location {
	if e.Location == nil {
		return time.UTC
	}
	return e.Location
}

func (e Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock.Now().In(e.location())
	}
	return time.Now().In(e.location())
}

// Evaluate runs the rule. Scope and credential problems are returned as
// ErrEmptyScope or ErrMissingCredentials before any external call.
func (e Engine) Evaluate(ctx context.Context, rule entities.Rule) (Result, error) {
	logger := application.ResolveLogger(e.Logger).With(
		"module", moduleName,
		"layer", "application",
		"rule_id", rule.RuleID,
		"rule_type", string(rule.Type),
	)
	if rule.Config == nil {
		return Result{}, fmt.Errorf("rule %s: %w", rule.RuleID, domainerrors.ErrInvalidRuleConfig)
	}
	if err := e.preflight(rule); err != nil {
		return Result{}, err
	}

	started := e.now()
	r := &run{
		rule:     rule,
		now:      started,
		logger:   logger,
		settings: e.Settings.withDefaults(),
	}
	cooldown := rule.Schedule().Cooldown.Duration()
	if e.Throttle != nil && cooldown > 0 {
		entries, err := e.Throttle.ListThrottle(ctx, rule.RuleID, started.Add(-cooldown))
		if err != nil {
			return Result{}, fmt.Errorf("load throttle: %w", err)
		}
		r.throttle = entities.NewThrottleSet(entries, started, cooldown)
	} else {
		r.throttle = entities.NewThrottleSet(nil, started, cooldown)
	}

	var err error
	var verb string
	switch cfg := rule.Config.(type) {
	case entities.BidAdjustmentConfig:
		verb = "bid changes"
		err = e.evaluateBidAdjustment(ctx, r, cfg)
	case entities.SearchTermAutomationConfig:
		verb = "search-term negations"
		err = e.evaluateSearchTermAutomation(ctx, r, cfg)
	case entities.HarvestingConfig:
		verb = "harvest actions"
		err = e.evaluateHarvesting(ctx, r, cfg)
	case entities.BudgetAccelerationConfig:
		verb = "budget overrides"
		err = e.evaluateBudgetAcceleration(ctx, r, cfg)
	case entities.PriceAdjustmentConfig:
		verb = "price updates"
		err = e.evaluatePriceAdjustment(ctx, r, cfg)
	case entities.AINegationConfig:
		verb = "AI negations"
		err = e.evaluateAINegation(ctx, r, cfg)
	default:
		err = fmt.Errorf("%w: %T", domainerrors.ErrUnsupportedRule, rule.Config)
	}
	r.details.DurationMS = e.now().Sub(started).Milliseconds()
	if err != nil {
		return Result{Details: r.details}, err
	}

	if len(r.acted) > 0 && e.Throttle != nil {
		if err := e.Throttle.RecordThrottle(ctx, r.acted); err != nil {
			logger.Error("throttle record failed",
				"event", "automation_throttle_record_failed",
				"entries", len(r.acted),
				"error", err.Error(),
			)
			r.details.AddError("throttle", "", err.Error())
		}
	}
	return finalize(r, verb), nil
}

func (e Engine) preflight(rule entities.Rule) error {
	switch rule.Config.(type) {
	case entities.PriceAdjustmentConfig:
		if e.Listings == nil {
			return fmt.Errorf("listing client: %w", domainerrors.ErrMissingCredentials)
		}
		return nil
	case entities.AINegationConfig:
		if e.Classifier == nil || len(e.Classifier.Credentials()) == 0 {
			return fmt.Errorf("classifier: %w", domainerrors.ErrMissingCredentials)
		}
	}
	if !rule.HasCampaignScope() {
		return domainerrors.ErrEmptyScope
	}
	if e.Ads == nil || !e.Ads.Ready() {
		return fmt.Errorf("ads api: %w", domainerrors.ErrMissingCredentials)
	}
	return nil
}

func finalize(r *run, verb string) Result {
	applied := r.details.SuccessfulActions()
	failed := 0
	for _, records := range r.details.Campaigns {
		for _, rec := range records {
			if !rec.Success {
				failed++
			}
		}
	}
	status := entities.RunStatusNoAction
	if applied > 0 {
		status = entities.RunStatusSuccess
	}
	summary := fmt.Sprintf("%d %s applied across %d campaigns; %d evaluated", applied, verb, campaignsWithSuccess(r.details), r.details.Evaluated)
	if failed > 0 {
		summary += fmt.Sprintf("; %d failed", failed)
	}
	return Result{
		Status:  status,
		Summary: summary,
		Details: r.details,
		Acted:   r.acted,
	}
}

func campaignsWithSuccess(details entities.RunDetails) int {
	n := 0
	for _, records := range details.Campaigns {
		for _, rec := range records {
			if rec.Success {
				n++
				break
			}
		}
	}
	return n
}

// alignResults maps bulk results back onto the submitted items by index.
// Items without a result, or every item when the call failed, come back as
// failures.
func alignResults(count int, results []ports.MutationResult, callErr error) []ports.MutationResult {
	out := make([]ports.MutationResult, count)
	for i := range out {
		out[i] = ports.MutationResult{Index: i, Message: "no result returned"}
		if callErr != nil {
			out[i].Message = callErr.Error()
			out[i].Code = errorCode(callErr)
		}
	}
	if callErr != nil {
		return out
	}
	for _, res := range results {
		if res.Index >= 0 && res.Index < count {
			out[res.Index] = res
		}
	}
	return out
}

// singleResult turns a one-item bulk response into an error.
func singleResult(operation string, results []ports.MutationResult, callErr error) (string, error) {
	if callErr != nil {
		return "", callErr
	}
	aligned := alignResults(1, results, nil)
	if !aligned[0].Success {
		return "", &domainerrors.APIError{Operation: operation, Code: aligned[0].Code, Message: aligned[0].Message}
	}
	return aligned[0].ID, nil
}

func errorCode(err error) string {
	var apiErr *domainerrors.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

func floatPtr(v float64) *float64 { return &v }

func intPtr(v int) *int { return &v }
