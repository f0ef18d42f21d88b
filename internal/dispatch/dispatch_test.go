package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/denis567denis/tg-bot-cache/internal/offer"
	"github.com/denis567denis/tg-bot-cache/internal/snapshot"
	logx "github.com/denis567denis/tg-bot-cache/pkg/logx"
)

type fakeOffers struct {
	offers []offer.Offer
	err    error
}

func (f *fakeOffers) TopOffers(_ context.Context, _ string, _ offer.RateBucket, limit int) ([]offer.Offer, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.offers) > limit {
		return f.offers[:limit], nil
	}
	return f.offers, nil
}

type fakeSubs struct {
	ids []int64
}

func (f *fakeSubs) FindSubscribers(context.Context, string, offer.RateBucket) ([]int64, error) {
	return f.ids, nil
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []int64
	failOn map[int64]bool
}

func (f *fakeSender) SendBatchAnnouncement(_ context.Context, recipientID int64, _ offer.BatchKey, _ int) error {
	if f.failOn[recipientID] {
		return errors.New("recipient unreachable")
	}
	f.mu.Lock()
	f.sent = append(f.sent, recipientID)
	f.mu.Unlock()
	return nil
}

func newService(t *testing.T, offers *fakeOffers, subs *fakeSubs, sender *fakeSender) (*Service, snapshot.Cache) {
	t.Helper()
	cache := snapshot.NewMemoryCache(time.Hour)
	svc := New(Config{
		SendTimeout: time.Second,
		BatchSizes:  map[string]int{"food": 3},
	}, offers, subs, cache, logx.Nop())
	svc.SetSender(sender)
	return svc, cache
}

func payload(t *testing.T, p JobPayload) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestHandleSnapshotsAndFansOut(t *testing.T) {
	t.Parallel()
	offers := &fakeOffers{offers: []offer.Offer{{ID: 5}, {ID: 4}, {ID: 3}, {ID: 2}, {ID: 1}}}
	subs := &fakeSubs{ids: []int64{10, 20, 30}}
	sender := &fakeSender{}
	svc, cache := newService(t, offers, subs, sender)

	p := JobPayload{Category: "food", Bucket: offer.Bucket30to70, BatchID: "batch-1"}
	if err := svc.Handle(context.Background(), payload(t, p)); err != nil {
		t.Fatal(err)
	}

	key := offer.BatchKey{Category: "food", Bucket: offer.Bucket30to70, BatchID: "batch-1"}
	got, err := cache.Get(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	// Truncated to the category batch size, newest first.
	if len(got) != 3 || got[0].ID != 5 || got[2].ID != 3 {
		t.Fatalf("snapshot = %+v, want top 3 newest", got)
	}
	if len(sender.sent) != 3 {
		t.Fatalf("sent to %d recipients, want 3", len(sender.sent))
	}
}

func TestHandleIsolatesRecipientFailures(t *testing.T) {
	t.Parallel()
	offers := &fakeOffers{offers: []offer.Offer{{ID: 1}}}
	subs := &fakeSubs{ids: []int64{10, 20, 30}}
	sender := &fakeSender{failOn: map[int64]bool{20: true}}
	svc, _ := newService(t, offers, subs, sender)

	p := JobPayload{Category: "food", Bucket: offer.Bucket30to70, BatchID: "batch-1"}
	if err := svc.Handle(context.Background(), payload(t, p)); err != nil {
		t.Fatalf("one bad recipient must not fail the batch: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("sent = %v, want the other two recipients", sender.sent)
	}
}

func TestHandleEmptyBatchSkipsFanOut(t *testing.T) {
	t.Parallel()
	offers := &fakeOffers{}
	subs := &fakeSubs{ids: []int64{10}}
	sender := &fakeSender{}
	svc, cache := newService(t, offers, subs, sender)

	p := JobPayload{Category: "food", Bucket: offer.BucketFull, BatchID: "batch-1"}
	if err := svc.Handle(context.Background(), payload(t, p)); err != nil {
		t.Fatal(err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("empty batch must not announce, sent %v", sender.sent)
	}
	// The snapshot still exists so stale references resolve cleanly.
	key := offer.BatchKey{Category: "food", Bucket: offer.BucketFull, BatchID: "batch-1"}
	if _, err := cache.Get(context.Background(), key); err != nil {
		t.Fatalf("empty snapshot must still be written: %v", err)
	}
}

func TestHandleRedeliveryIsIdempotentOnSnapshot(t *testing.T) {
	t.Parallel()
	offers := &fakeOffers{offers: []offer.Offer{{ID: 2}, {ID: 1}}}
	subs := &fakeSubs{ids: []int64{10}}
	sender := &fakeSender{}
	svc, cache := newService(t, offers, subs, sender)

	p := JobPayload{Category: "food", Bucket: offer.Bucket30to70, BatchID: "batch-1"}
	for i := 0; i < 2; i++ {
		if err := svc.Handle(context.Background(), payload(t, p)); err != nil {
			t.Fatal(err)
		}
	}

	key := offer.BatchKey{Category: "food", Bucket: offer.Bucket30to70, BatchID: "batch-1"}
	got, err := cache.Get(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != 2 {
		t.Fatalf("redelivery corrupted the snapshot: %+v", got)
	}
}

func TestHandleRejectsBadPayload(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t, &fakeOffers{}, &fakeSubs{}, &fakeSender{})
	err := svc.Handle(context.Background(), json.RawMessage(`{broken`))
	if err == nil {
		t.Fatal("bad payload must error")
	}
	err = svc.Handle(context.Background(), payload(t, JobPayload{Category: "food", Bucket: offer.BucketFull}))
	if err == nil {
		t.Fatal("missing batch id must error")
	}
}

func TestHandleTransientStoreError(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t, &fakeOffers{err: errors.New("db locked")}, &fakeSubs{}, &fakeSender{})
	p := JobPayload{Category: "food", Bucket: offer.Bucket30to70, BatchID: "batch-1"}
	if err := svc.Handle(context.Background(), payload(t, p)); err == nil {
		t.Fatal("store failure must propagate so the queue retries")
	}
}

func TestSnapshotNowMintsFreshKeys(t *testing.T) {
	t.Parallel()
	offers := &fakeOffers{offers: []offer.Offer{{ID: 1}}}
	svc, cache := newService(t, offers, &fakeSubs{}, &fakeSender{})

	k1, n1, err := svc.SnapshotNow(context.Background(), "food", offer.Bucket30to70)
	if err != nil || n1 != 1 {
		t.Fatalf("n=%d err=%v", n1, err)
	}
	k2, _, err := svc.SnapshotNow(context.Background(), "food", offer.Bucket30to70)
	if err != nil {
		t.Fatal(err)
	}
	if k1.BatchID == k2.BatchID {
		t.Fatal("browse snapshots must not share batch ids")
	}
	if _, err := cache.Get(context.Background(), k1); err != nil {
		t.Fatalf("first snapshot vanished: %v", err)
	}
}
