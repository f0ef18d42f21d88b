// Package ingest turns raw supplier posts into stored, counted offers.
//
// The ingest bot enqueues one job per post; the handler here classifies the
// text, persists the offer, and bumps the bucket counter once per category.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/denis567denis/tg-bot-cache/internal/classify"
	"github.com/denis567denis/tg-bot-cache/internal/counter"
	"github.com/denis567denis/tg-bot-cache/internal/offer"
	"github.com/denis567denis/tg-bot-cache/internal/queue"
	"github.com/denis567denis/tg-bot-cache/internal/store"
	logx "github.com/denis567denis/tg-bot-cache/pkg/logx"
)

// JobType is the queue job type for incoming posts.
const JobType = "message_processing"

// JobPayload is one raw supplier post.
type JobPayload struct {
	Text     string `json:"text"`
	MediaRef string `json:"media_ref,omitempty"`
}

// Classifier is the subset of classify.Service used here.
type Classifier interface {
	Classify(ctx context.Context, text string) (classify.Result, error)
}

type Service struct {
	classifier Classifier
	store      *store.Store
	counter    *counter.Service
	log        logx.Logger
}

func New(classifier Classifier, st *store.Store, ctr *counter.Service, log logx.Logger) *Service {
	return &Service{classifier: classifier, store: st, counter: ctr, log: log}
}

// Handle processes one queued post. Classification failures that cannot
// improve on retry are wrapped NoRetry; transient classifier or storage
// errors propagate so the queue retries the whole job (re-running a
// classification is harmless before the offer row exists).
func (s *Service) Handle(ctx context.Context, payload json.RawMessage) error {
	var p JobPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return queue.NoRetry(fmt.Errorf("bad ingest payload: %w", err))
	}

	res, err := s.classifier.Classify(ctx, p.Text)
	if errors.Is(err, classify.ErrNotAnOffer) {
		s.log.Debug("post is not an offer, dropping", logx.String("media", p.MediaRef))
		return queue.NoRetry(err)
	}
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}

	o := offer.Offer{
		Provider:    res.Provider,
		RatePercent: res.Percentage,
		Categories:  res.Categories,
		MediaRef:    p.MediaRef,
		Text:        p.Text,
		CreatedAt:   time.Now(),
	}
	id, err := s.store.InsertOffer(ctx, o)
	if err != nil {
		return fmt.Errorf("store offer: %w", err)
	}

	s.log.Info("offer ingested",
		logx.Int64("offer", id), logx.String("provider", o.Provider),
		logx.Int("rate", o.RatePercent), logx.Any("categories", o.Categories))

	// Counting happens after the insert so a triggered batch always sees its
	// own offer. Counter errors are logged, not returned: the offer is stored
	// and re-running the job would double-insert it.
	for _, cat := range o.Categories {
		if err := s.counter.OnOfferClassified(ctx, cat, o.RatePercent); err != nil {
			s.log.Error("bucket count failed",
				logx.Int64("offer", id), logx.String("category", cat), logx.Err(err))
		}
	}
	return nil
}
