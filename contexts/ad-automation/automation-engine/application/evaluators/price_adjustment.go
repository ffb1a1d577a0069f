package evaluators

import (
	"context"
	"errors"
	"strings"

	application "adpilot/contexts/ad-automation/automation-engine/application"
	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
	"adpilot/contexts/ad-automation/automation-engine/domain/services"
	"adpilot/contexts/ad-automation/automation-engine/ports"
)

// priceBucket groups price actions in the audit payload; listings have no
// campaign.
const priceBucket = "listings"

func (e Engine) evaluatePriceAdjustment(ctx context.Context, r *run, cfg entities.PriceAdjustmentConfig) error {
	for i, item := range cfg.Items {
		if i > 0 {
			if err := application.Sleep(ctx, e.Sleeper, r.settings.SKUDelay); err != nil {
				return err
			}
		}
		sku := strings.TrimSpace(item.SKU)
		r.details.Evaluated++
		if r.throttle.CoolingDown(entities.ThrottlePrice, sku) {
			r.details.Skip("cooldown")
			continue
		}

		listing, err := e.fetchListing(ctx, r, sku)
		if err != nil {
			r.details.AddAction(priceBucket, entities.ActionRecord{
				EntityID:   sku,
				EntityType: entities.EntitySKU,
				Action:     "priceAdjust",
				Error:      err.Error(),
			})
			continue
		}

		next, reset := services.NextPrice(listing.Price, item.Step, item.Limit)
		if !services.PriceDiffers(next, listing.Price) {
			r.details.Skip("unchanged")
			continue
		}
		action := "priceStep"
		if reset {
			action = "priceReset"
		}
		record := entities.ActionRecord{
			EntityID:   sku,
			EntityType: entities.EntitySKU,
			Action:     action,
			OldValue:   floatPtr(listing.Price),
			NewValue:   floatPtr(next),
		}
		if err := e.Listings.UpdatePrice(ctx, listing, next); err != nil {
			r.logger.Warn("price update failed",
				"event", "automation_price_update_failed",
				"sku", sku,
				"error", err.Error(),
			)
			record.Error = err.Error()
		} else {
			record.Success = true
			r.touch(entities.ThrottlePrice, sku)
		}
		r.details.AddAction(priceBucket, record)
	}
	return nil
}

// fetchListing retries exactly once, after a fixed delay, when the listing
// API reports the SKU as not found.
func (e Engine) fetchListing(ctx context.Context, r *run, sku string) (ports.Listing, error) {
	listing, err := e.Listings.GetListing(ctx, sku)
	if err == nil || !errors.Is(err, domainerrors.ErrNotFound) {
		return listing, err
	}
	r.logger.Info("listing not found, retrying once",
		"event", "automation_listing_not_found_retry",
		"sku", sku,
		"delay", r.settings.NotFoundRetryDelay.String(),
	)
	if err := application.Sleep(ctx, e.Sleeper, r.settings.NotFoundRetryDelay); err != nil {
		return ports.Listing{}, err
	}
	return e.Listings.GetListing(ctx, sku)
}
