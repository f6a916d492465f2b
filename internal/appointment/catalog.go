package appointment

import (
	"context"
	"fmt"
	"sync"
)

// Catalog memoizes status ids. The statuses table never changes after
// provisioning, so an id is cached forever once found.
type Catalog struct {
	mu  sync.RWMutex
	ids map[Status]int64
}

func NewCatalog() *Catalog {
	return &Catalog{ids: make(map[Status]int64, len(Statuses))}
}

// Resolve returns the id for status, querying lookup on a cache miss.
func (c *Catalog) Resolve(ctx context.Context, lookup StatusLookup, status Status) (int64, error) {
	c.mu.RLock()
	id, ok := c.ids[status]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	id, found, err := lookup.StatusID(ctx, status)
	if err != nil {
		return 0, fmt.Errorf("lookup status %q: %w", status, err)
	}
	if !found {
		return 0, fmt.Errorf("%w: %q", ErrStatusNotProvisioned, status)
	}

	c.mu.Lock()
	c.ids[status] = id
	c.mu.Unlock()

	return id, nil
}

// Preload resolves every catalog value. Callers run it at startup so a
// missing value stops the process before it serves requests.
func (c *Catalog) Preload(ctx context.Context, lookup StatusLookup) error {
	for _, s := range Statuses {
		if _, err := c.Resolve(ctx, lookup, s); err != nil {
			return err
		}
	}
	return nil
}
