// Package carousel serves single-offer pages out of cached batch snapshots
// with circular prev/next navigation. Navigation state lives entirely in the
// callback reference, never in server memory.
package carousel

import (
	"context"
	"errors"
	"fmt"

	"github.com/denis567denis/tg-bot-cache/internal/offer"
	"github.com/denis567denis/tg-bot-cache/internal/snapshot"
)

var (
	// ErrSnapshotExpired means the referenced batch is no longer cached.
	// Stale buttons on old messages are the normal way to hit this.
	ErrSnapshotExpired = errors.New("carousel: snapshot expired")
	// ErrInvalidIndex means the reference's index is outside the batch.
	ErrInvalidIndex = errors.New("carousel: invalid index")
)

// Page is one rendered position within a batch.
type Page struct {
	Offer     offer.Offer
	Index     int
	Total     int
	PrevIndex int
	NextIndex int
}

type Service struct {
	cache snapshot.Cache
}

func New(cache snapshot.Cache) *Service {
	return &Service{cache: cache}
}

// View resolves one page of the batch. Prev/next wrap around: from the first
// offer, prev lands on the last; from the last, next lands on the first.
func (s *Service) View(ctx context.Context, key offer.BatchKey, index int) (Page, error) {
	offers, err := s.cache.Get(ctx, key)
	if errors.Is(err, snapshot.ErrNotFound) {
		return Page{}, ErrSnapshotExpired
	}
	if err != nil {
		return Page{}, fmt.Errorf("load snapshot: %w", err)
	}
	n := len(offers)
	if n == 0 {
		// An empty snapshot has no viewable position.
		return Page{}, ErrSnapshotExpired
	}
	if index < 0 || index >= n {
		return Page{}, fmt.Errorf("%w: %d of %d", ErrInvalidIndex, index, n)
	}

	prev := index - 1
	if index == 0 {
		prev = n - 1
	}
	next := index + 1
	if index == n-1 {
		next = 0
	}
	return Page{Offer: offers[index], Index: index, Total: n, PrevIndex: prev, NextIndex: next}, nil
}
