package listings

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

const listingsPath = "/listings/2021-08-01/items"

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

// Client reads and patches seller listings. Prices are addressed by
// seller id plus SKU.
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

func (c *Client) Ready() bool {
	return c.caller.BaseURL() != "" && c.cfg.AccessToken != "" && c.cfg.SellerID != ""
}

type money struct {
	Amount       float64 `json:"amount"`
	CurrencyCode string  `json:"currencyCode"`
}

type listingResponse struct {
	SKU    string `json:"sku"`
	Offers []struct {
		MarketplaceID string `json:"marketplaceId"`
		OfferType     string `json:"offerType"`
		Price         money  `json:"price"`
	} `json:"offers"`
}

func (c *Client) itemPath(sku string) string {
	return fmt.Sprintf("%s/%s/%s", listingsPath, url.PathEscape(c.cfg.SellerID), url.PathEscape(sku))
}

func (c *Client) GetListing(ctx context.Context, sku string) (ports.Listing, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return ports.Listing{}, fmt.Errorf("listing sku is required: %w", domainerrors.ErrValidation)
	}
	query := url.Values{}
	query.Set("includedData", "offers")
	if c.cfg.MarketplaceID != "" {
		query.Set("marketplaceIds", c.cfg.MarketplaceID)
	}

	var resp listingResponse
	err := c.caller.Do(ctx, restclient.Request{
		Operation: "listings.get",
		Method:    http.MethodGet,
		Path:      c.itemPath(sku) + "?" + query.Encode(),
	}, &resp)
	if err != nil {
		return ports.Listing{}, err
	}

	for _, offer := range resp.Offers {
		if c.cfg.MarketplaceID != "" && offer.MarketplaceID != "" && offer.MarketplaceID != c.cfg.MarketplaceID {
			continue
		}
		return ports.Listing{
			SKU:      restclient.FirstNonEmpty(resp.SKU, sku),
			SellerID: c.cfg.SellerID,
			Price:    offer.Price.Amount,
			Currency: offer.Price.CurrencyCode,
		}, nil
	}
	return ports.Listing{}, &domainerrors.APIError{
		Operation: "listings.get",
		Status:    http.StatusNotFound,
		Code:      "NOT_FOUND",
		Message:   "listing has no offer for marketplace",
	}
}

type patchRequest struct {
	ProductType string  `json:"productType"`
	Patches     []patch `json:"patches"`
}

type patch struct {
	Op    string       `json:"op"`
	Path  string       `json:"path"`
	Value []offerPatch `json:"value"`
}

type offerPatch struct {
	MarketplaceID string       `json:"marketplace_id,omitempty"`
	Currency      string       `json:"currency,omitempty"`
	OurPrice      []priceValue `json:"our_price"`
}

type priceValue struct {
	Schedule []scheduleValue `json:"schedule"`
}

type scheduleValue struct {
	ValueWithTax float64 `json:"value_with_tax"`
}

type patchResponse struct {
	SKU    string `json:"sku"`
	Status string `json:"status"`
	Issues []struct {
		Code     string `json:"code"`
		Message  string `json:"message"`
		Severity string `json:"severity"`
	} `json:"issues"`
}

// UpdatePrice replaces the offer price. An INVALID submission is reported
// as a validation error carrying the first issue.
func (c *Client) UpdatePrice(ctx context.Context, listing ports.Listing, price float64) error {
	sellerID := restclient.FirstNonEmpty(listing.SellerID, c.cfg.SellerID)
	path := fmt.Sprintf("%s/%s/%s", listingsPath, url.PathEscape(sellerID), url.PathEscape(listing.SKU))
	if c.cfg.MarketplaceID != "" {
		path += "?marketplaceIds=" + url.QueryEscape(c.cfg.MarketplaceID)
	}

	var resp patchResponse
	err := c.caller.Do(ctx, restclient.Request{
		Operation: "listings.update_price",
		Method:    http.MethodPatch,
		Path:      path,
		Body: patchRequest{
			ProductType: "PRODUCT",
			Patches: []patch{{
				Op:   "replace",
				Path: "/attributes/purchasable_offer",
				Value: []offerPatch{{
					MarketplaceID: c.cfg.MarketplaceID,
					Currency:      listing.Currency,
					OurPrice:      []priceValue{{Schedule: []scheduleValue{{ValueWithTax: price}}}},
				}},
			}},
		},
	}, &resp)
	if err != nil {
		return err
	}
	if strings.EqualFold(resp.Status, "INVALID") {
		apiErr := &domainerrors.APIError{Operation: "listings.update_price", Status: http.StatusBadRequest, Code: "INVALID"}
		for _, issue := range resp.Issues {
			if strings.EqualFold(issue.Severity, "ERROR") || apiErr.Message == "" {
				apiErr.Code = restclient.FirstNonEmpty(issue.Code, apiErr.Code)
				apiErr.Message = issue.Message
			}
		}
		return apiErr
	}
	return nil
}

var _ ports.ListingAPI = (*Client)(nil)
