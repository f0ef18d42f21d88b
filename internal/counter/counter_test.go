package counter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/denis567denis/tg-bot-cache/internal/offer"
	logx "github.com/denis567denis/tg-bot-cache/pkg/logx"
)

func TestMemoryStoreTriggerExactlyOnce(t *testing.T) {
	t.Parallel()
	const threshold = 50
	st := NewMemoryStore()
	key := Key{Category: "food", Bucket: offer.Bucket30to70}

	var triggers atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < threshold; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, triggered, err := st.IncrCheckReset(context.Background(), key, threshold)
			if err != nil {
				t.Error(err)
				return
			}
			if triggered {
				triggers.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := triggers.Load(); got != 1 {
		t.Fatalf("threshold crossings = %d, want exactly 1", got)
	}
	if n := st.Count(key); n != 0 {
		t.Fatalf("count after trigger = %d, want 0", n)
	}
}

func TestMemoryStoreBelowThreshold(t *testing.T) {
	t.Parallel()
	const threshold = 10
	st := NewMemoryStore()
	key := Key{Category: "food", Bucket: offer.BucketFull}

	for i := 1; i < threshold; i++ {
		count, triggered, err := st.IncrCheckReset(context.Background(), key, threshold)
		if err != nil {
			t.Fatal(err)
		}
		if triggered {
			t.Fatalf("triggered at count %d, threshold %d", count, threshold)
		}
		if count != int64(i) {
			t.Fatalf("count = %d, want %d", count, i)
		}
	}
	if n := st.Count(key); n != threshold-1 {
		t.Fatalf("count = %d, want %d", n, threshold-1)
	}
}

func TestMemoryStoreKeysAreIndependent(t *testing.T) {
	t.Parallel()
	st := NewMemoryStore()
	a := Key{Category: "food", Bucket: offer.Bucket30to70}
	b := Key{Category: "food", Bucket: offer.Bucket70to80}

	if _, _, err := st.IncrCheckReset(context.Background(), a, 100); err != nil {
		t.Fatal(err)
	}
	if n := st.Count(b); n != 0 {
		t.Fatalf("sibling key count = %d, want 0", n)
	}
}

func TestServiceTriggersWithFreshBatchID(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var ids []string

	svc := New(NewMemoryStore(), map[string]int{"food": 2},
		func(_ context.Context, category string, bucket offer.RateBucket, batchID string) error {
			mu.Lock()
			defer mu.Unlock()
			if category != "food" || bucket != offer.Bucket30to70 {
				t.Errorf("trigger for %s/%s", category, bucket)
			}
			ids = append(ids, batchID)
			return nil
		}, logx.Nop())

	// Two full threshold cycles.
	for i := 0; i < 4; i++ {
		if err := svc.OnOfferClassified(context.Background(), "food", 50); err != nil {
			t.Fatal(err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ids) != 2 {
		t.Fatalf("triggers = %d, want 2", len(ids))
	}
	if ids[0] == ids[1] || ids[0] == "" {
		t.Fatalf("batch ids must be fresh per trigger, got %q and %q", ids[0], ids[1])
	}
}

func TestServiceSkipsUnconfiguredCategory(t *testing.T) {
	t.Parallel()
	svc := New(NewMemoryStore(), map[string]int{"food": 1},
		func(context.Context, string, offer.RateBucket, string) error {
			t.Error("trigger fired for unconfigured category")
			return nil
		}, logx.Nop())

	if err := svc.OnOfferClassified(context.Background(), "mystery", 50); err != nil {
		t.Fatalf("unconfigured category must be skipped, got %v", err)
	}
}

func TestServiceSwallowsTriggerFailure(t *testing.T) {
	t.Parallel()
	svc := New(NewMemoryStore(), map[string]int{"food": 1},
		func(context.Context, string, offer.RateBucket, string) error {
			return errors.New("queue down")
		}, logx.Nop())

	// The count is already consumed; the caller must not see the failure.
	if err := svc.OnOfferClassified(context.Background(), "food", 50); err != nil {
		t.Fatalf("trigger failure must degrade silently, got %v", err)
	}
}

func TestServiceRejectsBadRate(t *testing.T) {
	t.Parallel()
	svc := New(NewMemoryStore(), map[string]int{"food": 1},
		func(context.Context, string, offer.RateBucket, string) error { return nil }, logx.Nop())
	if err := svc.OnOfferClassified(context.Background(), "food", 101); err == nil {
		t.Fatal("rate 101 must be rejected")
	}
}
