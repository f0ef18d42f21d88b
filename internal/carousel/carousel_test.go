package carousel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/denis567denis/tg-bot-cache/internal/offer"
	"github.com/denis567denis/tg-bot-cache/internal/snapshot"
)

func seedBatch(t *testing.T, n int) (*Service, offer.BatchKey) {
	t.Helper()
	cache := snapshot.NewMemoryCache(time.Hour)
	key := offer.BatchKey{Category: "food", Bucket: offer.Bucket30to70, BatchID: "batch-1"}
	offers := make([]offer.Offer, n)
	for i := range offers {
		offers[i] = offer.Offer{ID: int64(i + 1), Text: "offer", RatePercent: 50}
	}
	if err := cache.Put(context.Background(), key, offers); err != nil {
		t.Fatal(err)
	}
	return New(cache), key
}

func TestViewCircularNavigation(t *testing.T) {
	t.Parallel()
	svc, key := seedBatch(t, 5)

	cases := []struct {
		index    int
		prev     int
		next     int
	}{
		{0, 4, 1},
		{1, 0, 2},
		{3, 2, 4},
		{4, 3, 0},
	}
	for _, tc := range cases {
		p, err := svc.View(context.Background(), key, tc.index)
		if err != nil {
			t.Fatalf("index %d: %v", tc.index, err)
		}
		if p.PrevIndex != tc.prev || p.NextIndex != tc.next {
			t.Errorf("index %d: prev/next = %d/%d, want %d/%d",
				tc.index, p.PrevIndex, p.NextIndex, tc.prev, tc.next)
		}
		if p.Total != 5 || p.Offer.ID != int64(tc.index+1) {
			t.Errorf("index %d: wrong page %+v", tc.index, p)
		}
	}
}

func TestViewSingleOfferWrapsToItself(t *testing.T) {
	t.Parallel()
	svc, key := seedBatch(t, 1)
	p, err := svc.View(context.Background(), key, 0)
	if err != nil {
		t.Fatal(err)
	}
	if p.PrevIndex != 0 || p.NextIndex != 0 {
		t.Fatalf("prev/next = %d/%d, want 0/0", p.PrevIndex, p.NextIndex)
	}
}

func TestViewInvalidIndex(t *testing.T) {
	t.Parallel()
	svc, key := seedBatch(t, 3)
	for _, idx := range []int{-1, 3, 42} {
		_, err := svc.View(context.Background(), key, idx)
		if !errors.Is(err, ErrInvalidIndex) {
			t.Errorf("index %d: got %v, want ErrInvalidIndex", idx, err)
		}
	}
}

func TestViewExpiredSnapshot(t *testing.T) {
	t.Parallel()
	svc := New(snapshot.NewMemoryCache(time.Hour))
	key := offer.BatchKey{Category: "food", Bucket: offer.Bucket30to70, BatchID: "gone"}
	_, err := svc.View(context.Background(), key, 0)
	if !errors.Is(err, ErrSnapshotExpired) {
		t.Fatalf("got %v, want ErrSnapshotExpired", err)
	}
}
