package merge

import (
	"context"
	"sync"

	"github.com/Gobusters/ectologger"

	"github.com/ourresearch/curate/internal/repositories/entity"
	"github.com/ourresearch/curate/pkg/models"
	"github.com/ourresearch/curate/pkg/tracing"
)

// RedirectLoader lists every merged-away entity and its target.
type RedirectLoader interface {
	ListRedirects(ctx context.Context) ([]entity.Redirect, error)
}

// RedirectCache gives O(1) merged-away to winner lookups. It is built
// explicitly at startup and refreshed explicitly; nothing reloads it behind
// the caller's back. The resolver records each committed merge so the cache
// stays current between refreshes.
type RedirectCache struct {
	mu        sync.RWMutex
	redirects map[models.EntityType]map[int64]int64
	loader    RedirectLoader
	logger    ectologger.Logger
}

// NewRedirectCache creates an empty cache. Call Refresh before first use.
func NewRedirectCache(loader RedirectLoader, logger ectologger.Logger) *RedirectCache {
	return &RedirectCache{
		redirects: make(map[models.EntityType]map[int64]int64),
		loader:    loader,
		logger:    logger,
	}
}

// Refresh rebuilds the cache from the entities table.
func (c *RedirectCache) Refresh(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "merge.RedirectCache.Refresh")
	defer span.End()

	rows, err := c.loader.ListRedirects(ctx)
	if err != nil {
		return err
	}

	fresh := make(map[models.EntityType]map[int64]int64)
	for _, row := range rows {
		byID, ok := fresh[row.EntityType]
		if !ok {
			byID = make(map[int64]int64)
			fresh[row.EntityType] = byID
		}
		byID[row.ID] = row.MergeIntoID
	}

	c.mu.Lock()
	c.redirects = fresh
	c.mu.Unlock()

	c.logger.WithContext(ctx).WithFields(map[string]any{"count": len(rows)}).Info("Refreshed merge redirect cache")
	return nil
}

// Lookup returns the direct redirect target for a merged-away entity.
func (c *RedirectCache) Lookup(entityType models.EntityType, id int64) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byID, ok := c.redirects[entityType]
	if !ok {
		return 0, false
	}
	target, ok := byID[id]
	return target, ok
}

// Resolve follows redirect chains to the terminal winner. An id that was
// never merged away resolves to itself. A cycle (which the merge invariants
// should make impossible) terminates at the first revisited id.
func (c *RedirectCache) Resolve(entityType models.EntityType, id int64) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byID, ok := c.redirects[entityType]
	if !ok {
		return id
	}

	seen := map[int64]bool{id: true}
	current := id
	for {
		target, ok := byID[current]
		if !ok {
			return current
		}
		if seen[target] {
			c.logger.WithFields(map[string]any{
				"entity_type": entityType,
				"id":          id,
			}).Warn("Redirect cycle detected; returning last id before revisit")
			return current
		}
		seen[target] = true
		current = target
	}
}

// Record adds one redirect after a committed merge.
func (c *RedirectCache) Record(entityType models.EntityType, awayID, intoID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byID, ok := c.redirects[entityType]
	if !ok {
		byID = make(map[int64]int64)
		c.redirects[entityType] = byID
	}
	byID[awayID] = intoID
}

// Size returns the number of cached redirects across all types.
func (c *RedirectCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := 0
	for _, byID := range c.redirects {
		total += len(byID)
	}
	return total
}
