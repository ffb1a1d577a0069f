package evaluators

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"adpilot/contexts/ad-automation/automation-engine/ports"
)

// productCache memoizes product details for one evaluation. A fresh cache is
// built per run so nothing leaks between rules or engine instances.
type productCache struct {
	catalog  ports.CatalogLookup
	mu       sync.Mutex
	items    map[string]ports.ProductDetails
	failures map[string]error
}

func newProductCache(catalog ports.CatalogLookup) *productCache {
	return &productCache{
		catalog:  catalog,
		items:    make(map[string]ports.ProductDetails),
		failures: make(map[string]error),
	}
}

// prefetch loads every asin with bounded fan-out and waits for all of them.
// Individual failures are remembered, not returned.
func (c *productCache) prefetch(ctx context.Context, asins []string, parallelism int) {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(parallelism)
	for _, asin := range asins {
		group.Go(func() error {
			_, _ = c.get(groupCtx, asin)
			return nil
		})
	}
	_ = group.Wait()
}

func (c *productCache) get(ctx context.Context, asin string) (ports.ProductDetails, error) {
	c.mu.Lock()
	if item, ok := c.items[asin]; ok {
		c.mu.Unlock()
		return item, nil
	}
	if err, ok := c.failures[asin]; ok {
		c.mu.Unlock()
		return ports.ProductDetails{}, err
	}
	c.mu.Unlock()

	item, err := c.catalog.GetProductDetails(ctx, asin)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failures[asin] = err
		return ports.ProductDetails{}, err
	}
	if item.ASIN == "" {
		item.ASIN = asin
	}
	c.items[asin] = item
	return item, nil
}
