package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"adpilot/contexts/ad-automation/automation-engine/adapters/restclient"
	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
	"adpilot/contexts/ad-automation/automation-engine/ports"
)

const maxBullets = 5

type Config struct {
	BaseURL       string
	AccessToken   string
	SellerID      string
	MarketplaceID string
	RatePerSecond float64
	Timeout       time.Duration
	MaxRetries    int
	RetryBase     time.Duration
}

// Client looks up product descriptions and maps advertised ASINs to the
// seller's SKUs.
type Client struct {
	cfg    Config
	caller *restclient.Caller
}

func New(cfg Config, sleeper ports.Sleeper, metrics ports.Metrics, logger *slog.Logger) *Client {
	return &Client{
		cfg: cfg,
		caller: restclient.New(restclient.Options{
			BaseURL:       cfg.BaseURL,
			AccessToken:   cfg.AccessToken,
			RatePerSecond: cfg.RatePerSecond,
			Timeout:       cfg.Timeout,
			MaxRetries:    cfg.MaxRetries,
			RetryBase:     cfg.RetryBase,
			Sleeper:       sleeper,
			Metrics:       metrics,
			Logger:        logger,
		}),
	}
}

type attributeValue struct {
	Value string `json:"value"`
}

type catalogItem struct {
	ASIN      string `json:"asin"`
	Summaries []struct {
		ItemName string `json:"itemName"`
	} `json:"summaries"`
	Attributes struct {
		ItemName    []attributeValue `json:"item_name"`
		BulletPoint []attributeValue `json:"bullet_point"`
	} `json:"attributes"`
}

func (c *Client) GetProductDetails(ctx context.Context, asin string) (ports.ProductDetails, error) {
	asin = strings.ToUpper(strings.TrimSpace(asin))
	query := url.Values{}
	query.Set("includedData", "summaries,attributes")
	if c.cfg.MarketplaceID != "" {
		query.Set("marketplaceIds", c.cfg.MarketplaceID)
	}

	var item catalogItem
	err := c.caller.Do(ctx, restclient.Request{
		Operation: "catalog.get_item",
		Method:    http.MethodGet,
		Path:      "/catalog/2022-04-01/items/" + url.PathEscape(asin) + "?" + query.Encode(),
	}, &item)
	if err != nil {
		return ports.ProductDetails{}, err
	}

	details := ports.ProductDetails{ASIN: restclient.FirstNonEmpty(item.ASIN, asin)}
	for _, s := range item.Summaries {
		if details.Title = strings.TrimSpace(s.ItemName); details.Title != "" {
			break
		}
	}
	if details.Title == "" && len(item.Attributes.ItemName) > 0 {
		details.Title = strings.TrimSpace(item.Attributes.ItemName[0].Value)
	}
	for _, b := range item.Attributes.BulletPoint {
		if len(details.Bullets) == maxBullets {
			break
		}
		if v := strings.TrimSpace(b.Value); v != "" {
			details.Bullets = append(details.Bullets, v)
		}
	}
	return details, nil
}

type searchResponse struct {
	Items []struct {
		SKU       string `json:"sku"`
		Summaries []struct {
			ASIN   string   `json:"asin"`
			Status []string `json:"status"`
		} `json:"summaries"`
	} `json:"items"`
}

// ResolveSKU finds the seller SKU listed under asin. Listings that are
// buyable win over the rest.
func (c *Client) ResolveSKU(ctx context.Context, profileID string, asin string) (string, error) {
	asin = strings.ToUpper(strings.TrimSpace(asin))
	query := url.Values{}
	query.Set("identifiers", asin)
	query.Set("identifiersType", "ASIN")
	query.Set("includedData", "summaries")
	if c.cfg.MarketplaceID != "" {
		query.Set("marketplaceIds", c.cfg.MarketplaceID)
	}

	var resp searchResponse
	err := c.caller.Do(ctx, restclient.Request{
		Operation: "catalog.resolve_sku",
		Method:    http.MethodGet,
		Path:      "/listings/2021-08-01/items/" + url.PathEscape(c.cfg.SellerID) + "?" + query.Encode(),
	}, &resp)
	if err != nil {
		return "", err
	}

	fallback := ""
	for _, item := range resp.Items {
		sku := strings.TrimSpace(item.SKU)
		if sku == "" {
			continue
		}
		for _, s := range item.Summaries {
			if s.ASIN != "" && !strings.EqualFold(s.ASIN, asin) {
				continue
			}
			for _, status := range s.Status {
				if strings.EqualFold(status, "BUYABLE") {
					return sku, nil
				}
			}
		}
		if fallback == "" {
			fallback = sku
		}
	}
	if fallback == "" {
		return "", fmt.Errorf("asin %s for profile %s: %w", asin, profileID, domainerrors.ErrSKUUnresolvable)
	}
	return fallback, nil
}

var _ ports.CatalogLookup = (*Client)(nil)
