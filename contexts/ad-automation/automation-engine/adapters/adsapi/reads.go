package adsapi

import (
	"context"
	"encoding/json"
	"net/http"

	"adpilot/contexts/ad-automation/automation-engine/application"
	"adpilot/contexts/ad-automation/automation-engine/ports"

	"golang.org/x/sync/errgroup"
)

type idFilter struct {
	Include []string `json:"include"`
}

type listRequest struct {
	StateFilter    *idFilter `json:"stateFilter,omitempty"`
	KeywordFilter  *idFilter `json:"keywordIdFilter,omitempty"`
	TargetFilter   *idFilter `json:"targetIdFilter,omitempty"`
	AdGroupFilter  *idFilter `json:"adGroupIdFilter,omitempty"`
	CampaignFilter *idFilter `json:"campaignIdFilter,omitempty"`
	MaxResults     int       `json:"maxResults,omitempty"`
}

// fanOut runs fetch over id chunks with bounded parallelism and flattens
// the results in chunk order.
func fanOut[T any](ctx context.Context, c *Client, ids []string, fetch func(context.Context, []string) ([]T, error)) ([]T, error) {
	chunks := application.Chunk(application.Unique(ids), c.cfg.ChunkSize)
	if len(chunks) == 0 {
		return nil, nil
	}
	results := make([][]T, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxParallel)
	for i, chunk := range chunks {
		g.Go(func() error {
			items, err := fetch(gctx, chunk)
			if err != nil {
				return err
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []T
	for _, items := range results {
		out = append(out, items...)
	}
	return out, nil
}

func (c *Client) list(ctx context.Context, operation, path, profileID, entityKey string, req listRequest) ([]object, error) {
	var raw json.RawMessage
	if err := c.do(ctx, operation, http.MethodPost, path, profileID, req, &raw); err != nil {
		return nil, err
	}
	return listItems(raw, entityKey)
}

func (c *Client) GetKeywords(ctx context.Context, profileID string, keywordIDs []string) ([]ports.KeywordRecord, error) {
	return fanOut(ctx, c, keywordIDs, func(ctx context.Context, chunk []string) ([]ports.KeywordRecord, error) {
		items, err := c.list(ctx, "keywords.list", "/sp/keywords/list", profileID, "keywords", listRequest{
			KeywordFilter: &idFilter{Include: chunk},
			MaxResults:    len(chunk),
		})
		if err != nil {
			return nil, err
		}
		out := make([]ports.KeywordRecord, 0, len(items))
		for _, item := range items {
			out = append(out, toKeyword(item))
		}
		return out, nil
	})
}

func (c *Client) GetTargets(ctx context.Context, profileID string, targetIDs []string) ([]ports.TargetRecord, error) {
	return fanOut(ctx, c, targetIDs, func(ctx context.Context, chunk []string) ([]ports.TargetRecord, error) {
		items, err := c.list(ctx, "targets.list", "/sp/targets/list", profileID, "targetingClauses", listRequest{
			TargetFilter: &idFilter{Include: chunk},
			MaxResults:   len(chunk),
		})
		if err != nil {
			return nil, err
		}
		out := make([]ports.TargetRecord, 0, len(items))
		for _, item := range items {
			out = append(out, toTarget(item))
		}
		return out, nil
	})
}

func (c *Client) GetAdGroups(ctx context.Context, profileID string, adGroupIDs []string) ([]ports.AdGroupRecord, error) {
	return fanOut(ctx, c, adGroupIDs, func(ctx context.Context, chunk []string) ([]ports.AdGroupRecord, error) {
		items, err := c.list(ctx, "ad_groups.list", "/sp/adGroups/list", profileID, "adGroups", listRequest{
			AdGroupFilter: &idFilter{Include: chunk},
			MaxResults:    len(chunk),
		})
		if err != nil {
			return nil, err
		}
		out := make([]ports.AdGroupRecord, 0, len(items))
		for _, item := range items {
			out = append(out, toAdGroup(item))
		}
		return out, nil
	})
}

func (c *Client) GetCampaigns(ctx context.Context, profileID string, campaignIDs []string) ([]ports.CampaignRecord, error) {
	return fanOut(ctx, c, campaignIDs, func(ctx context.Context, chunk []string) ([]ports.CampaignRecord, error) {
		items, err := c.list(ctx, "campaigns.list", "/sp/campaigns/list", profileID, "campaigns", listRequest{
			CampaignFilter: &idFilter{Include: chunk},
			MaxResults:     len(chunk),
		})
		if err != nil {
			return nil, err
		}
		out := make([]ports.CampaignRecord, 0, len(items))
		for _, item := range items {
			out = append(out, toCampaign(item))
		}
		return out, nil
	})
}
