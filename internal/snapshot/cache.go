// Package snapshot is the short-lived cache of triggered offer batches.
//
// A snapshot is written exactly once per BatchKey (batch IDs are unique per
// trigger) and then read many times by the pagination side. Rewrites under
// the same key only happen on at-least-once job redelivery and are idempotent
// overwrites of identical content.
package snapshot

import (
	"context"
	"errors"

	"github.com/denis567denis/tg-bot-cache/internal/offer"
)

// ErrNotFound is returned when a key is absent (expired or never written).
var ErrNotFound = errors.New("snapshot: not found")

type Cache interface {
	// Put stores the batch under key. The write is a single atomic operation;
	// readers never observe a partial batch.
	Put(ctx context.Context, key offer.BatchKey, offers []offer.Offer) error
	// Get returns the batch for key, or ErrNotFound.
	Get(ctx context.Context, key offer.BatchKey) ([]offer.Offer, error)
}
