// Package dispatch handles triggered notification batches: it snapshots the
// current top offers for a (category, bucket), caches them under the batch
// key, and fans the announcement out to every subscriber.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/denis567denis/tg-bot-cache/internal/offer"
	"github.com/denis567denis/tg-bot-cache/internal/queue"
	"github.com/denis567denis/tg-bot-cache/internal/snapshot"
	logx "github.com/denis567denis/tg-bot-cache/pkg/logx"
)

// JobType is the queue job type for triggered notifications.
const JobType = "notification"

// JobPayload identifies one triggered batch.
type JobPayload struct {
	Category string           `json:"category"`
	Bucket   offer.RateBucket `json:"bucket"`
	BatchID  string           `json:"batch_id"`
}

// OfferSource reads the current top offers for a key.
type OfferSource interface {
	TopOffers(ctx context.Context, category string, bucket offer.RateBucket, limit int) ([]offer.Offer, error)
}

// SubscriberSource lists the recipients interested in a key.
type SubscriberSource interface {
	FindSubscribers(ctx context.Context, category string, bucket offer.RateBucket) ([]int64, error)
}

// Sender delivers one batch announcement to one recipient. Implemented by the
// client bot transport.
type Sender interface {
	SendBatchAnnouncement(ctx context.Context, recipientID int64, key offer.BatchKey, total int) error
}

type Config struct {
	// SendTimeout bounds each per-recipient send. Default 10s.
	SendTimeout time.Duration
	// SendsPerMinute caps fan-out sends so a large subscriber list doesn't
	// blow the Telegram ceiling inside one job. Default 15.
	SendsPerMinute int
	// BatchSizes maps category to its snapshot size.
	BatchSizes map[string]int
}

type Service struct {
	cfg     Config
	offers  OfferSource
	subs    SubscriberSource
	cache   snapshot.Cache
	sender  Sender
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, offers OfferSource, subs SubscriberSource, cache snapshot.Cache, log logx.Logger) *Service {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.SendsPerMinute <= 0 {
		cfg.SendsPerMinute = 15
	}
	lim := rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.SendsPerMinute)), cfg.SendsPerMinute)
	return &Service{cfg: cfg, offers: offers, subs: subs, cache: cache, limiter: lim, log: log}
}

// SetSender wires the announcement transport. The client bot needs this
// service for the browse flow, so the sender arrives after construction;
// call it before the queue starts delivering jobs.
func (s *Service) SetSender(sender Sender) { s.sender = sender }

// Handle processes one notification job: snapshot, cache, fan out.
//
// Redelivery is safe: the snapshot rewrite under the same batch ID is an
// idempotent overwrite, and recipients at worst see the announcement twice.
func (s *Service) Handle(ctx context.Context, payload json.RawMessage) error {
	var p JobPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return queue.NoRetry(fmt.Errorf("bad notification payload: %w", err))
	}
	if p.BatchID == "" {
		return queue.NoRetry(fmt.Errorf("notification payload missing batch id"))
	}

	key := offer.BatchKey{Category: p.Category, Bucket: p.Bucket, BatchID: p.BatchID}
	total, err := s.snapshotBatch(ctx, key)
	if err != nil {
		return err
	}
	if total == 0 {
		// Counter and store can disagree briefly (e.g. after a wipe). The
		// snapshot is written so stale references resolve, but there is
		// nothing to announce.
		s.log.Warn("triggered batch is empty, skipping fan-out",
			logx.String("category", p.Category), logx.String("bucket", string(p.Bucket)),
			logx.String("batch_id", p.BatchID))
		return nil
	}

	recipients, err := s.subs.FindSubscribers(ctx, p.Category, p.Bucket)
	if err != nil {
		return fmt.Errorf("find subscribers: %w", err)
	}

	sent := 0
	for _, rid := range recipients {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := s.sendOne(ctx, rid, key, total); err != nil {
			// One unreachable recipient must not sink the batch.
			s.log.Warn("batch announcement failed",
				logx.Int64("recipient", rid), logx.String("batch_id", p.BatchID), logx.Err(err))
			continue
		}
		sent++
	}

	s.log.Info("batch dispatched",
		logx.String("category", p.Category), logx.String("bucket", string(p.Bucket)),
		logx.String("batch_id", p.BatchID), logx.Int("offers", total),
		logx.Int("recipients", len(recipients)), logx.Int("sent", sent))
	return nil
}

func (s *Service) sendOne(ctx context.Context, recipientID int64, key offer.BatchKey, total int) error {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	return s.sender.SendBatchAnnouncement(sctx, recipientID, key, total)
}

// snapshotBatch reads the current top offers for key and writes them to the
// cache in one atomic put. Returns the batch size.
func (s *Service) snapshotBatch(ctx context.Context, key offer.BatchKey) (int, error) {
	limit := s.cfg.BatchSizes[key.Category]
	if limit <= 0 {
		limit = 10
	}
	offers, err := s.offers.TopOffers(ctx, key.Category, key.Bucket, limit)
	if err != nil {
		return 0, fmt.Errorf("load batch offers: %w", err)
	}
	if err := s.cache.Put(ctx, key, offers); err != nil {
		return 0, fmt.Errorf("cache batch: %w", err)
	}
	return len(offers), nil
}

// SnapshotNow builds an on-demand batch for browsing outside any trigger
// (the "look at goods now" flow). It mints a fresh batch ID so the snapshot
// lives under its own key and expires independently.
func (s *Service) SnapshotNow(ctx context.Context, category string, bucket offer.RateBucket) (offer.BatchKey, int, error) {
	key := offer.BatchKey{Category: category, Bucket: bucket, BatchID: uuid.NewString()}
	total, err := s.snapshotBatch(ctx, key)
	if err != nil {
		return offer.BatchKey{}, 0, err
	}
	return key, total, nil
}
