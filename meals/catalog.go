package meals

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/smartmess/billing-engine/mess"
)

// =============================================================================
// PLAN CATALOG - Cached read-only plan lookup
// =============================================================================

// Catalog serves plans from a TTL cache in front of the store. A
// reconciliation pass looks up the same few plans for every membership of
// a mess.
type Catalog struct {
	store mess.PlanStore
	cache *cache.Cache
}

// NewCatalog creates a catalog whose entries expire after ttl and are
// purged every ttl/6 (ten minutes for an hour).
func NewCatalog(store mess.PlanStore, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Catalog{
		store: store,
		cache: cache.New(ttl, ttl/6),
	}
}

// Plan returns the plan with id.
func (c *Catalog) Plan(ctx context.Context, id string) (*mess.Plan, error) {
	if x, found := c.cache.Get(id); found {
		p := x.(mess.Plan)
		return &p, nil
	}

	p, err := c.store.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Set(id, *p, cache.DefaultExpiration)
	return p, nil
}

// Plans lists a mess's plans straight from the store and warms the cache.
func (c *Catalog) Plans(ctx context.Context, messID string) ([]mess.Plan, error) {
	plans, err := c.store.ListPlans(ctx, messID)
	if err != nil {
		return nil, err
	}
	for _, p := range plans {
		c.cache.Set(p.ID, p, cache.DefaultExpiration)
	}
	return plans, nil
}

// SavePlan writes through to the store and refreshes the cached copy.
func (c *Catalog) SavePlan(ctx context.Context, p mess.Plan) error {
	if err := c.store.SavePlan(ctx, p); err != nil {
		c.cache.Delete(p.ID)
		return err
	}
	c.cache.Set(p.ID, p, cache.DefaultExpiration)
	return nil
}

// Invalidate drops a cached plan.
func (c *Catalog) Invalidate(id string) {
	c.cache.Delete(id)
}

// Flush drops every cached plan. Used after the store is reset.
func (c *Catalog) Flush() {
	c.cache.Flush()
}
