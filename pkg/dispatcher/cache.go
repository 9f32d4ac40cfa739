package dispatcher

import (
	"context"
	"time"

	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/persistence"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultCacheSize = 256

// CachedTriggers memoizes trigger lists per filter for a short TTL. The
// out-of-process dispatcher purges it whenever a trigger.* event arrives,
// so the TTL only bounds staleness when an event is lost.
type CachedTriggers struct {
	source TriggerLister
	cache  *expirable.LRU[persistence.TriggerFilter, []*models.WorkflowTrigger]
}

func NewCachedTriggers(source TriggerLister, ttl time.Duration) *CachedTriggers {
	return &CachedTriggers{
		source: source,
		cache:  expirable.NewLRU[persistence.TriggerFilter, []*models.WorkflowTrigger](defaultCacheSize, nil, ttl),
	}
}

func (c *CachedTriggers) List(ctx context.Context, filter persistence.TriggerFilter) ([]*models.WorkflowTrigger, error) {
	if triggers, ok := c.cache.Get(filter); ok {
		return triggers, nil
	}

	triggers, err := c.source.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	c.cache.Add(filter, triggers)

	return triggers, nil
}

// Invalidate drops every cached list.
func (c *CachedTriggers) Invalidate() {
	c.cache.Purge()
}
