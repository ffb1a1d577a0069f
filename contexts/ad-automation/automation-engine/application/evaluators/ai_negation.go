package evaluators

import (
	"context"
	"errors"
	"fmt"
	"sort"

	application "adpilot/contexts/ad-automation/automation-engine/application"
	"adpilot/contexts/ad-automation/automation-engine/application/queries"
	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
	"adpilot/contexts/ad-automation/automation-engine/domain/services"
	"adpilot/contexts/ad-automation/automation-engine/ports"
)

// aiLookbackDays is the age of the single report day classified. Older days
// have complete attribution.
const aiLookbackDays = 3

type aiCandidate struct {
	entity entities.Entity
	match  entities.Match
}

func (e Engine) evaluateAINegation(ctx context.Context, r *run, cfg entities.AINegationConfig) error {
	if e.Catalog == nil {
		return fmt.Errorf("catalog lookup: %w", domainerrors.ErrMissingCredentials)
	}
	reference := entities.Day(r.now).AddDate(0, 0, -aiLookbackDays)
	snapshot, err := e.Performance.Execute(ctx, queries.PerformanceRequest{
		ProfileID:   r.rule.ProfileID,
		CampaignIDs: r.rule.CampaignIDs,
		EntityTypes: []entities.EntityType{entities.EntitySearchTerm},
		Reference:   reference,
		SingleDay:   true,
	})
	if err != nil {
		return err
	}
	r.details.DateRange = &snapshot.Range

	byASIN := make(map[string][]aiCandidate)
	for _, key := range snapshot.SortedKeys() {
		entity := snapshot.Entities[key]
		r.details.Evaluated++
		switch {
		case services.IsCatalogIdentifier(entity.EntityText):
			r.details.Skip("catalog_identifier")
			continue
		case entity.SourceASIN == "":
			r.details.Skip("missing_asin")
			continue
		case r.throttle.CoolingDown(entities.ThrottleNegation, entity.ThrottleKey()):
			r.details.Skip("cooldown")
			continue
		}
		match, ok := entities.FirstMatchMetrics(cfg.ConditionGroups, entity.Daily.Metrics(0, reference))
		if !ok {
			r.details.Skip("no_match")
			continue
		}
		byASIN[entity.SourceASIN] = append(byASIN[entity.SourceASIN], aiCandidate{entity: entity, match: match})
	}
	if len(byASIN) == 0 {
		return nil
	}

	asins := make([]string, 0, len(byASIN))
	for asin := range byASIN {
		asins = append(asins, asin)
	}
	sort.Strings(asins)

	cache := newProductCache(e.Catalog)
	cache.prefetch(ctx, asins, r.settings.CatalogParallelism)

	classifier := termClassifier{engine: e, run: r, credentials: e.Classifier.Credentials()}
	matchType := negativeMatchType(cfg.MatchType)
	var pending []negation
	for _, asin := range asins {
		product, err := cache.get(ctx, asin)
		if err != nil {
			r.details.AddError("product:"+asin, errorCode(err), err.Error())
			for range byASIN[asin] {
				r.details.Skip("product_unavailable")
			}
			continue
		}
		for _, batch := range application.Chunk(byASIN[asin], r.settings.ClassifierBatchSize) {
			if err := ctx.Err(); err != nil {
				return err
			}
			verdicts := classifier.classify(ctx, product, batch)
			for _, c := range batch {
				if verdicts[c.entity.Key()] {
					r.details.Skip("relevant")
					continue
				}
				pending = append(pending, newNegation(c.entity, c.match, matchType))
			}
		}
	}

	// Catalog identifiers were filtered above, so every pending item is a
	// keyword negation submitted in one call.
	e.submitNegations(ctx, r, pending)
	return nil
}

// termClassifier spreads batches over the credential pool and applies the
// fail-safe policy: any term whose classification cannot be obtained is
// treated as relevant.
type termClassifier struct {
	engine      Engine
	run         *run
	credentials []string
	batches     int
}

// classify returns entity key -> relevant for every candidate in the batch.
func (c *termClassifier) classify(ctx context.Context, product ports.ProductDetails, batch []aiCandidate) map[string]bool {
	r := c.run
	out := make(map[string]bool, len(batch))
	for _, cand := range batch {
		out[cand.entity.Key()] = true
	}
	if c.batches > 0 {
		if err := application.Sleep(ctx, c.engine.Sleeper, r.settings.ClassifierBatchDelay); err != nil {
			return out
		}
	}
	credential := c.credentials[c.batches%len(c.credentials)]
	c.batches++

	terms := make([]string, 0, len(batch))
	for _, cand := range batch {
		terms = append(terms, cand.entity.EntityText)
	}

	var verdicts map[string]bool
	err := r.settings.ClassifierRetry.Do(ctx, c.engine.Sleeper, c.onRetry(product.ASIN), func(ctx context.Context) error {
		var callErr error
		verdicts, callErr = c.engine.Classifier.ClassifyBatch(ctx, credential, product, terms)
		return callErr
	})
	if err != nil {
		c.recordFailure(product.ASIN, "", err)
		return out
	}

	for _, cand := range batch {
		relevant, ok := verdicts[entities.NormalizeTerm(cand.entity.EntityText)]
		if !ok {
			relevant = c.classifyOne(ctx, credential, product, cand.entity.EntityText)
		}
		out[cand.entity.Key()] = relevant
	}
	return out
}

// classifyOne is the per-term path for terms the batch answer omitted.
func (c *termClassifier) classifyOne(ctx context.Context, credential string, product ports.ProductDetails, term string) bool {
	r := c.run
	var relevant bool
	err := r.settings.ClassifierRetry.Do(ctx, c.engine.Sleeper, c.onRetry(product.ASIN), func(ctx context.Context) error {
		var callErr error
		relevant, callErr = c.engine.Classifier.ClassifyTerm(ctx, credential, product, term)
		return callErr
	})
	if err != nil {
		c.recordFailure(product.ASIN, term, err)
		return true
	}
	return relevant
}

func (c *termClassifier) onRetry(asin string) func(int, error) {
	return func(attempt int, err error) {
		if c.engine.Metrics != nil {
			c.engine.Metrics.ClassifierRetry()
		}
		c.run.logger.Warn("classifier call retrying",
			"event", "automation_classifier_retry",
			"asin", asin,
			"attempt", attempt,
			"error", err.Error(),
		)
	}
}

func (c *termClassifier) recordFailure(asin, term string, err error) {
	scope := "classifier:" + asin
	if term != "" {
		scope += ":" + term
	}
	code := errorCode(err)
	if code == "" && domainerrors.IsTransient(err) {
		code = "RETRIES_EXHAUSTED"
	}
	if errors.Is(err, context.Canceled) {
		code = "CANCELED"
	}
	c.run.logger.Warn("classifier failed, keeping terms",
		"event", "automation_classifier_failed",
		"asin", asin,
		"term", term,
		"error", err.Error(),
	)
	c.run.details.AddError(scope, code, err.Error())
}
