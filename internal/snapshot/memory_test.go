package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/denis567denis/tg-bot-cache/internal/offer"
)

func TestMemoryCachePutGet(t *testing.T) {
	t.Parallel()
	c := NewMemoryCache(time.Hour)
	key := offer.BatchKey{Category: "food", Bucket: offer.Bucket30to70, BatchID: "b1"}
	offers := []offer.Offer{{ID: 3}, {ID: 2}, {ID: 1}}

	if err := c.Put(context.Background(), key, offers); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].ID != 3 || got[2].ID != 1 {
		t.Fatalf("order not preserved: %+v", got)
	}
}

func TestMemoryCacheMiss(t *testing.T) {
	t.Parallel()
	c := NewMemoryCache(time.Hour)
	_, err := c.Get(context.Background(), offer.BatchKey{Category: "x", Bucket: offer.BucketFull, BatchID: "nope"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	t.Parallel()
	c := NewMemoryCache(time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	key := offer.BatchKey{Category: "food", Bucket: offer.Bucket30to70, BatchID: "b1"}
	if err := c.Put(context.Background(), key, []offer.Offer{{ID: 1}}); err != nil {
		t.Fatal(err)
	}

	now = now.Add(30 * time.Second)
	if _, err := c.Get(context.Background(), key); err != nil {
		t.Fatalf("entry expired early: %v", err)
	}

	now = now.Add(31 * time.Second)
	if _, err := c.Get(context.Background(), key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound after ttl", err)
	}
}

func TestMemoryCacheOverwriteIsAtomic(t *testing.T) {
	t.Parallel()
	c := NewMemoryCache(time.Hour)
	key := offer.BatchKey{Category: "food", Bucket: offer.Bucket30to70, BatchID: "b1"}

	if err := c.Put(context.Background(), key, []offer.Offer{{ID: 1}, {ID: 2}}); err != nil {
		t.Fatal(err)
	}
	// Redelivered job rewrites the same key; readers see old or new, never a mix.
	if err := c.Put(context.Background(), key, []offer.Offer{{ID: 1}, {ID: 2}}); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get(context.Background(), key)
	if err != nil || len(got) != 2 {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestMemoryCacheCopiesOnRead(t *testing.T) {
	t.Parallel()
	c := NewMemoryCache(time.Hour)
	key := offer.BatchKey{Category: "food", Bucket: offer.Bucket30to70, BatchID: "b1"}
	if err := c.Put(context.Background(), key, []offer.Offer{{ID: 1}}); err != nil {
		t.Fatal(err)
	}
	first, _ := c.Get(context.Background(), key)
	first[0].ID = 999
	second, _ := c.Get(context.Background(), key)
	if second[0].ID != 1 {
		t.Fatal("cache entry mutated through a returned slice")
	}
}
