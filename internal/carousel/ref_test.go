package carousel

import (
	"testing"

	"github.com/denis567denis/tg-bot-cache/internal/offer"
)

func TestRefRoundTrip(t *testing.T) {
	t.Parallel()
	refs := []Ref{
		{Category: "food", Bucket: offer.Bucket30to70, BatchID: "5e0f0f6e-9f7a-4b1c-8d2e-0123456789ab", Index: 0},
		{Category: "дом и сад", Bucket: offer.BucketFull, BatchID: "not-a-uuid", Index: 17},
		{Category: "x.y:z", Bucket: offer.Bucket80to100, BatchID: "b", Index: 3},
	}
	for _, r := range refs {
		s, err := EncodeRef(r)
		if err != nil {
			t.Fatalf("%+v: %v", r, err)
		}
		got, err := DecodeRef(s)
		if err != nil {
			t.Fatalf("%q: %v", s, err)
		}
		if got != r {
			t.Errorf("round trip: got %+v, want %+v", got, r)
		}
	}
}

// Callback data including the "ofr:nav:" routing prefix must stay within
// Telegram's 64 byte limit for realistic category keys.
func TestRefFitsCallbackBudget(t *testing.T) {
	t.Parallel()
	r := Ref{
		Category: "electronics",
		Bucket:   offer.Bucket80to100,
		BatchID:  "5e0f0f6e-9f7a-4b1c-8d2e-0123456789ab",
		Index:    99,
	}
	s, err := EncodeRef(r)
	if err != nil {
		t.Fatal(err)
	}
	if budget := 64 - len("ofr:nav:"); len(s) > budget {
		t.Fatalf("encoded ref is %d bytes, budget %d: %q", len(s), budget, s)
	}
}

func TestDecodeRefRejectsGarbage(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"", "1.2", "x.30-70.ub.Zm9v", "1.13-37.sYg.Zm9v", "1.30-70.q.Zm9v"} {
		if _, err := DecodeRef(s); err == nil {
			t.Errorf("DecodeRef(%q) accepted", s)
		}
	}
}

func TestEncodeRefRequiresBatchID(t *testing.T) {
	t.Parallel()
	if _, err := EncodeRef(Ref{Category: "food", Bucket: offer.Bucket30to70}); err == nil {
		t.Fatal("empty batch id must be rejected")
	}
}
