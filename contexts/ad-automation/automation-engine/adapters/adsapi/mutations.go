package adsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"adpilot/contexts/ad-automation/automation-engine/application"
	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
	"adpilot/contexts/ad-automation/automation-engine/ports"

	"golang.org/x/sync/errgroup"
)

type mutation struct {
	operation string
	method    string
	path      string
	entityKey string
	idField   string
}

var (
	updateKeywords    = mutation{"keywords.update", http.MethodPut, "/sp/keywords", "keywords", "keywordId"}
	updateTargets     = mutation{"targets.update", http.MethodPut, "/sp/targets", "targetingClauses", "targetId"}
	updateCampaigns   = mutation{"campaigns.update", http.MethodPut, "/sp/campaigns", "campaigns", "campaignId"}
	createCampaigns   = mutation{"campaigns.create", http.MethodPost, "/sp/campaigns", "campaigns", "campaignId"}
	createAdGroups    = mutation{"ad_groups.create", http.MethodPost, "/sp/adGroups", "adGroups", "adGroupId"}
	createProductAds  = mutation{"product_ads.create", http.MethodPost, "/sp/productAds", "productAds", "adId"}
	createKeywords    = mutation{"keywords.create", http.MethodPost, "/sp/keywords", "keywords", "keywordId"}
	createTargets     = mutation{"targets.create", http.MethodPost, "/sp/targets", "targetingClauses", "targetId"}
	createNegKeywords = mutation{"negative_keywords.create", http.MethodPost, "/sp/negativeKeywords", "negativeKeywords", "keywordId"}
	createNegTargets  = mutation{"negative_targets.create", http.MethodPost, "/sp/negativeTargets", "negativeTargetingClauses", "targetId"}
)

// mutate sends items in chunks. A chunk that fails as a whole is reported as
// failed items rather than aborting the other chunks; the error is returned
// only when nothing could be sent.
func mutate[T any](ctx context.Context, c *Client, m mutation, profileID string, items []T) ([]ports.MutationResult, error) {
	chunks := application.Chunk(items, c.cfg.ChunkSize)
	if len(chunks) == 0 {
		return nil, nil
	}
	results := make([][]ports.MutationResult, len(chunks))
	failures := make([]error, len(chunks))

	var g errgroup.Group
	g.SetLimit(c.cfg.MaxParallel)
	for i, chunk := range chunks {
		offset := i * c.cfg.ChunkSize
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				failures[i] = err
				results[i] = failedChunk(offset, len(chunk), err)
				return nil
			}
			var raw json.RawMessage
			err := c.do(ctx, m.operation, m.method, m.path, profileID, map[string]any{m.entityKey: chunk}, &raw)
			if err == nil {
				results[i], err = mutationResults(raw, m.entityKey, m.idField, offset, len(chunk))
			}
			if err != nil {
				failures[i] = err
				results[i] = failedChunk(offset, len(chunk), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	var out []ports.MutationResult
	var firstErr error
	failed := 0
	for i := range chunks {
		out = append(out, results[i]...)
		if failures[i] != nil {
			failed++
			if firstErr == nil {
				firstErr = failures[i]
			}
		}
	}
	if failed == len(chunks) {
		return out, firstErr
	}
	return out, nil
}

func failedChunk(offset, size int, err error) []ports.MutationResult {
	code := "REQUEST_FAILED"
	if apiErr, ok := asAPIError(err); ok && apiErr.Code != "" {
		code = apiErr.Code
	}
	out := make([]ports.MutationResult, size)
	for i := range out {
		out[i] = ports.MutationResult{Index: offset + i, Code: code, Message: err.Error()}
	}
	return out
}

// createOne sends a single item and returns the id the platform assigned.
func createOne[T any](ctx context.Context, c *Client, m mutation, profileID string, item T) (string, error) {
	results, err := mutate(ctx, c, m, profileID, []T{item})
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", fmt.Errorf("%s: empty response", m.operation)
	}
	result := results[0]
	if !result.Success || strings.TrimSpace(result.ID) == "" {
		return "", &domainerrors.APIError{
			Operation: m.operation,
			Status:    http.StatusMultiStatus,
			Code:      result.Code,
			Message:   firstNonEmpty(result.Message, "item rejected"),
		}
	}
	return result.ID, nil
}

type bidPayload struct {
	KeywordID string  `json:"keywordId,omitempty"`
	TargetID  string  `json:"targetId,omitempty"`
	Bid       float64 `json:"bid"`
}

type budgetPayload struct {
	BudgetType string  `json:"budgetType"`
	Budget     float64 `json:"budget"`
}

type campaignPayload struct {
	CampaignID    string        `json:"campaignId,omitempty"`
	Name          string        `json:"name,omitempty"`
	TargetingType string        `json:"targetingType,omitempty"`
	State         string        `json:"state,omitempty"`
	StartDate     string        `json:"startDate,omitempty"`
	Budget        budgetPayload `json:"budget"`
}

type adGroupPayload struct {
	CampaignID string  `json:"campaignId"`
	Name       string  `json:"name"`
	State      string  `json:"state"`
	DefaultBid float64 `json:"defaultBid"`
}

type productAdPayload struct {
	CampaignID string `json:"campaignId"`
	AdGroupID  string `json:"adGroupId"`
	SKU        string `json:"sku,omitempty"`
	ASIN       string `json:"asin,omitempty"`
	State      string `json:"state"`
}

type keywordPayload struct {
	CampaignID  string   `json:"campaignId"`
	AdGroupID   string   `json:"adGroupId"`
	KeywordText string   `json:"keywordText"`
	MatchType   string   `json:"matchType"`
	State       string   `json:"state"`
	Bid         *float64 `json:"bid,omitempty"`
}

type expressionPayload struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type targetPayload struct {
	CampaignID     string              `json:"campaignId"`
	AdGroupID      string              `json:"adGroupId"`
	Expression     []expressionPayload `json:"expression"`
	ExpressionType string              `json:"expressionType,omitempty"`
	State          string              `json:"state"`
	Bid            *float64            `json:"bid,omitempty"`
}

const stateEnabled = "ENABLED"

func asinExpression(asin string) []expressionPayload {
	return []expressionPayload{{Type: "ASIN_SAME_AS", Value: strings.ToUpper(strings.TrimSpace(asin))}}
}

func (c *Client) UpdateKeywordBids(ctx context.Context, profileID string, updates []ports.BidUpdate) ([]ports.MutationResult, error) {
	payload := make([]bidPayload, 0, len(updates))
	for _, u := range updates {
		payload = append(payload, bidPayload{KeywordID: u.ID, Bid: u.Bid})
	}
	return mutate(ctx, c, updateKeywords, profileID, payload)
}

func (c *Client) UpdateTargetBids(ctx context.Context, profileID string, updates []ports.BidUpdate) ([]ports.MutationResult, error) {
	payload := make([]bidPayload, 0, len(updates))
	for _, u := range updates {
		payload = append(payload, bidPayload{TargetID: u.ID, Bid: u.Bid})
	}
	return mutate(ctx, c, updateTargets, profileID, payload)
}

func (c *Client) UpdateCampaignBudgets(ctx context.Context, profileID string, updates []ports.BudgetUpdate) ([]ports.MutationResult, error) {
	payload := make([]campaignPayload, 0, len(updates))
	for _, u := range updates {
		payload = append(payload, campaignPayload{
			CampaignID: u.CampaignID,
			Budget:     budgetPayload{BudgetType: "DAILY", Budget: u.DailyBudget},
		})
	}
	return mutate(ctx, c, updateCampaigns, profileID, payload)
}

func (c *Client) CreateCampaign(ctx context.Context, profileID string, spec ports.CampaignSpec) (string, error) {
	return createOne(ctx, c, createCampaigns, profileID, campaignPayload{
		Name:          spec.Name,
		TargetingType: "MANUAL",
		State:         stateEnabled,
		StartDate:     spec.StartDate,
		Budget:        budgetPayload{BudgetType: "DAILY", Budget: spec.DailyBudget},
	})
}

func (c *Client) CreateAdGroup(ctx context.Context, profileID string, spec ports.AdGroupSpec) (string, error) {
	return createOne(ctx, c, createAdGroups, profileID, adGroupPayload{
		CampaignID: spec.CampaignID,
		Name:       spec.Name,
		State:      stateEnabled,
		DefaultBid: spec.DefaultBid,
	})
}

func (c *Client) CreateProductAd(ctx context.Context, profileID string, spec ports.ProductAdSpec) (string, error) {
	return createOne(ctx, c, createProductAds, profileID, productAdPayload{
		CampaignID: spec.CampaignID,
		AdGroupID:  spec.AdGroupID,
		SKU:        spec.SKU,
		ASIN:       spec.ASIN,
		State:      stateEnabled,
	})
}

func (c *Client) CreateKeywords(ctx context.Context, profileID string, specs []ports.KeywordSpec) ([]ports.MutationResult, error) {
	payload := make([]keywordPayload, 0, len(specs))
	for _, s := range specs {
		payload = append(payload, keywordPayload{
			CampaignID:  s.CampaignID,
			AdGroupID:   s.AdGroupID,
			KeywordText: s.Text,
			MatchType:   string(s.MatchType),
			State:       stateEnabled,
			Bid:         s.Bid,
		})
	}
	return mutate(ctx, c, createKeywords, profileID, payload)
}

func (c *Client) CreateTargets(ctx context.Context, profileID string, specs []ports.TargetSpec) ([]ports.MutationResult, error) {
	payload := make([]targetPayload, 0, len(specs))
	for _, s := range specs {
		payload = append(payload, targetPayload{
			CampaignID:     s.CampaignID,
			AdGroupID:      s.AdGroupID,
			Expression:     asinExpression(s.ASIN),
			ExpressionType: "MANUAL",
			State:          stateEnabled,
			Bid:            s.Bid,
		})
	}
	return mutate(ctx, c, createTargets, profileID, payload)
}

func (c *Client) CreateNegativeKeywords(ctx context.Context, profileID string, specs []ports.NegativeKeywordSpec) ([]ports.MutationResult, error) {
	payload := make([]keywordPayload, 0, len(specs))
	for _, s := range specs {
		payload = append(payload, keywordPayload{
			CampaignID:  s.CampaignID,
			AdGroupID:   s.AdGroupID,
			KeywordText: s.Text,
			MatchType:   string(s.MatchType),
			State:       stateEnabled,
		})
	}
	return mutate(ctx, c, createNegKeywords, profileID, payload)
}

func (c *Client) CreateNegativeTargets(ctx context.Context, profileID string, specs []ports.NegativeTargetSpec) ([]ports.MutationResult, error) {
	payload := make([]targetPayload, 0, len(specs))
	for _, s := range specs {
		payload = append(payload, targetPayload{
			CampaignID: s.CampaignID,
			AdGroupID:  s.AdGroupID,
			Expression: asinExpression(s.ASIN),
			State:      stateEnabled,
		})
	}
	return mutate(ctx, c, createNegTargets, profileID, payload)
}
