package core

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachingStore decorates a backing Store with an LRU of recently used
// blocks, grounded on the pack's lru.Cache[K,V] usage for block caches:
// Get consults the cache first; Put/Delete keep it coherent; GetAll
// batches the cache miss set against the backend in one call.
type CachingStore struct {
	backing Store
	cache   *lru.Cache[CID, Block]
}

// NewCachingStore wraps backing with an LRU capped at capacity entries.
func NewCachingStore(backing Store, capacity int) (*CachingStore, error) {
	c, err := lru.New[CID, Block](capacity)
	if err != nil {
		return nil, err
	}
	return &CachingStore{backing: backing, cache: c}, nil
}

var _ Store = (*CachingStore)(nil)

func (c *CachingStore) Put(ctx context.Context, b Block) (bool, error) {
	ok, err := c.backing.Put(ctx, b)
	if err != nil || !ok {
		return ok, err
	}
	c.cache.Add(b.CID(), b)
	return true, nil
}

func (c *CachingStore) PutAll(ctx context.Context, blocks []Block) (int, error) {
	accepted := 0
	for _, b := range blocks {
		ok, err := c.Put(ctx, b)
		if err != nil {
			return accepted, err
		}
		if ok {
			accepted++
		}
	}
	return accepted, nil
}

func (c *CachingStore) Get(ctx context.Context, id CID) (Block, error) {
	if b, ok := c.cache.Get(id); ok {
		return b, nil
	}
	b, err := c.backing.Get(ctx, id)
	if err != nil {
		return Block{}, err
	}
	c.cache.Add(id, b)
	return b, nil
}

func (c *CachingStore) GetAll(ctx context.Context, cids []CID) ([]Block, error) {
	out := make([]Block, 0, len(cids))
	var miss []CID
	for _, id := range cids {
		if b, ok := c.cache.Get(id); ok {
			out = append(out, b)
			continue
		}
		miss = append(miss, id)
	}
	if len(miss) == 0 {
		return out, nil
	}
	fetched, err := c.backing.GetAll(ctx, miss)
	if err != nil {
		return nil, err
	}
	for _, b := range fetched {
		c.cache.Add(b.CID(), b)
		out = append(out, b)
	}
	return out, nil
}

func (c *CachingStore) Has(ctx context.Context, id CID) (bool, error) {
	if c.cache.Contains(id) {
		return true, nil
	}
	return c.backing.Has(ctx, id)
}

func (c *CachingStore) HasAll(ctx context.Context, cids []CID) (map[CID]bool, error) {
	out := make(map[CID]bool, len(cids))
	for _, id := range cids {
		ok, err := c.Has(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = ok
	}
	return out, nil
}

func (c *CachingStore) Delete(ctx context.Context, id CID) error {
	c.cache.Remove(id)
	return c.backing.Delete(ctx, id)
}

func (c *CachingStore) DeleteAll(ctx context.Context, cids []CID) error {
	for _, id := range cids {
		if err := c.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (c *CachingStore) ListCIDs(ctx context.Context) ([]CID, error) {
	return c.backing.ListCIDs(ctx)
}

func (c *CachingStore) GetSize(ctx context.Context, id CID) (int, bool, error) {
	if b, ok := c.cache.Get(id); ok {
		return b.Size(), true, nil
	}
	return c.backing.GetSize(ctx, id)
}

func (c *CachingStore) Stats(ctx context.Context) (StoreStats, error) {
	return c.backing.Stats(ctx)
}

func (c *CachingStore) Close() error {
	c.cache.Purge()
	return c.backing.Close()
}
