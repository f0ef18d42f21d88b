// Package counter maintains per-(category, bucket) counts of unacknowledged
// offers and fires exactly one notification trigger per threshold crossing.
package counter

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/denis567denis/tg-bot-cache/internal/offer"
	logx "github.com/denis567denis/tg-bot-cache/pkg/logx"
)

// Key identifies one counter. Keys are independent: no operation ever spans
// two keys.
type Key struct {
	Category string
	Bucket   offer.RateBucket
}

// Store is the counter backend. IncrCheckReset must be a single atomic
// read-modify-write with respect to concurrent calls on the same key:
// two callers racing at the threshold must never both observe it (double
// trigger) nor both reset (lost count).
type Store interface {
	// IncrCheckReset increments the counter and, when the post-increment
	// value reaches threshold, resets it to zero in the same atomic unit.
	// count is the post-increment value (pre-reset).
	IncrCheckReset(ctx context.Context, key Key, threshold int64) (count int64, triggered bool, err error)
}

// TriggerFunc emits one notification job for a freshly triggered batch.
type TriggerFunc func(ctx context.Context, category string, bucket offer.RateBucket, batchID string) error

type Service struct {
	store      Store
	thresholds map[string]int
	trigger    TriggerFunc
	log        logx.Logger
}

func New(store Store, thresholds map[string]int, trigger TriggerFunc, log logx.Logger) *Service {
	return &Service{store: store, thresholds: thresholds, trigger: trigger, log: log}
}

// OnOfferClassified is called once per (offer, category) after classification.
// Offers carrying several categories go through here once per category.
func (s *Service) OnOfferClassified(ctx context.Context, category string, ratePercent int) error {
	bucket, err := offer.ResolveBucket(ratePercent)
	if err != nil {
		return fmt.Errorf("resolve bucket: %w", err)
	}

	threshold, ok := s.thresholds[category]
	if !ok {
		// The classifier is prompted with the configured category list, so
		// this means the model invented a label. Don't count it.
		s.log.Warn("offer for unconfigured category, skipping count",
			logx.String("category", category), logx.Int("rate", ratePercent))
		return nil
	}

	count, triggered, err := s.store.IncrCheckReset(ctx, Key{Category: category, Bucket: bucket}, int64(threshold))
	if err != nil {
		return fmt.Errorf("bucket counter: %w", err)
	}
	if !triggered {
		s.log.Debug("bucket count incremented",
			logx.String("category", category), logx.String("bucket", string(bucket)),
			logx.Int64("count", count), logx.Int("threshold", threshold))
		return nil
	}

	batchID := uuid.NewString()
	if err := s.trigger(ctx, category, bucket, batchID); err != nil {
		// The counter is already reset; this trigger is lost. Retry
		// belongs to the job queue, not here.
		s.log.Error("notification trigger lost after counter reset",
			logx.String("category", category), logx.String("bucket", string(bucket)),
			logx.String("batch_id", batchID), logx.Err(err))
		return nil
	}

	s.log.Info("bucket threshold triggered",
		logx.String("category", category), logx.String("bucket", string(bucket)),
		logx.String("batch_id", batchID), logx.Int64("count", count))
	return nil
}
