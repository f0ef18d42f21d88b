package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/denis567denis/tg-bot-cache/internal/offer"
)

// MemoryCache is the single-node fallback backend (and the test backend).
// Entries expire lazily on read.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	ttl     time.Duration

	now func() time.Time
}

type memEntry struct {
	offers    []offer.Offer
	expiresAt time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryCache{entries: make(map[string]memEntry), ttl: ttl, now: time.Now}
}

func (c *MemoryCache) Put(_ context.Context, key offer.BatchKey, offers []offer.Offer) error {
	cp := make([]offer.Offer, len(offers))
	copy(cp, offers)
	c.mu.Lock()
	c.entries[key.CacheKey()] = memEntry{offers: cp, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Get(_ context.Context, key offer.BatchKey) ([]offer.Offer, error) {
	k := key.CacheKey()
	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, k)
		c.mu.Unlock()
		return nil, ErrNotFound
	}
	cp := make([]offer.Offer, len(e.offers))
	copy(cp, e.offers)
	return cp, nil
}
