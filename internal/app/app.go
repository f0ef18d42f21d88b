// Package app wires the whole bot together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/denis567denis/tg-bot-cache/internal/carousel"
	"github.com/denis567denis/tg-bot-cache/internal/classify"
	"github.com/denis567denis/tg-bot-cache/internal/config"
	"github.com/denis567denis/tg-bot-cache/internal/counter"
	"github.com/denis567denis/tg-bot-cache/internal/dispatch"
	"github.com/denis567denis/tg-bot-cache/internal/ingest"
	"github.com/denis567denis/tg-bot-cache/internal/offer"
	"github.com/denis567denis/tg-bot-cache/internal/queue"
	"github.com/denis567denis/tg-bot-cache/internal/snapshot"
	"github.com/denis567denis/tg-bot-cache/internal/store"
	"github.com/denis567denis/tg-bot-cache/internal/transport/telegram"
	logx "github.com/denis567denis/tg-bot-cache/pkg/logx"
)

// Run builds every component from cfg and blocks until ctx is cancelled.
// Configuration problems surface as errors here, before anything starts.
func Run(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	defer logSvc.Close()
	log.Info("starting", logx.String("config", cfgPath))

	// Shared-state backends: Redis when configured, in-process otherwise.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		defer rdb.Close()
	}

	snapshotTTL := config.DurationOr(cfg.Dispatch.SnapshotTTL, 24*time.Hour)
	var counterStore counter.Store
	var cache snapshot.Cache
	if rdb != nil {
		counterStore = counter.NewRedisStore(rdb)
		cache = snapshot.NewRedisCache(rdb, snapshotTTL)
		log.Info("using redis backends", logx.String("addr", cfg.Redis.Addr))
	} else {
		counterStore = counter.NewMemoryStore()
		cache = snapshot.NewMemoryCache(snapshotTTL)
		log.Warn("redis not configured, counters and snapshots are in-process only")
	}

	st, err := store.Open(store.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: config.DurationOr(cfg.Storage.BusyTimeout, 5*time.Second),
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	q := queue.New(queue.Config{
		Workers:        cfg.Queue.Workers,
		QueueSize:      cfg.Queue.QueueSize,
		RetryMax:       cfg.Queue.RetryMax,
		RetryBase:      config.DurationOr(cfg.Queue.RetryBase, 0),
		RetryMaxDelay:  config.DurationOr(cfg.Queue.RetryMaxDelay, 0),
		RatePerMinute:  cfg.Queue.RatePerMinute,
		DefaultTimeout: config.DurationOr(cfg.Queue.DefaultTimeout, 0),
		FailedKeep:     cfg.Queue.FailedKeep,
		FailedGrace:    config.DurationOr(cfg.Queue.FailedGrace, 0),
	}, log.With(logx.String("comp", "queue")))

	thresholds := make(map[string]int, len(cfg.Categories))
	batchSizes := make(map[string]int, len(cfg.Categories))
	titles := make(map[string]string, len(cfg.Categories))
	for name, p := range cfg.Categories {
		thresholds[name] = p.Threshold
		batchSizes[name] = p.BatchSize
		titles[name] = p.Title
	}

	disp := dispatch.New(dispatch.Config{
		SendTimeout:    config.DurationOr(cfg.Dispatch.SendTimeout, 10*time.Second),
		SendsPerMinute: cfg.Queue.RatePerMinute,
		BatchSizes:     batchSizes,
	}, st, st, cache, log.With(logx.String("comp", "dispatch")))

	ctr := counter.New(counterStore, thresholds,
		func(tctx context.Context, category string, bucket offer.RateBucket, batchID string) error {
			_, err := q.Enqueue(tctx, dispatch.JobType, dispatch.JobPayload{
				Category: category, Bucket: bucket, BatchID: batchID,
			}, queue.PriorityHigh)
			return err
		},
		log.With(logx.String("comp", "counter")))

	classifier := classify.New(classify.Config{
		APIKey:  cfg.Classifier.APIKey,
		BaseURL: cfg.Classifier.BaseURL,
		Model:   cfg.Classifier.Model,
		Timeout: config.DurationOr(cfg.Classifier.Timeout, 0),
	}, titles, log.With(logx.String("comp", "classify")))

	ing := ingest.New(classifier, st, ctr, log.With(logx.String("comp", "ingest")))

	car := carousel.New(cache)
	pollTimeout := config.DurationOr(cfg.Telegram.PollTimeout, 0)

	clientBot, err := telegram.NewClientBot(telegram.ClientConfig{
		Token:        cfg.Telegram.ClientToken,
		PollTimeout:  pollTimeout,
		RedirectHost: cfg.Telegram.RedirectHost,
	}, st, disp, car, titles, log.With(logx.String("comp", "bot.client")))
	if err != nil {
		return fmt.Errorf("client bot: %w", err)
	}
	disp.SetSender(clientBot)

	ingestBot, err := telegram.NewIngestBot(telegram.IngestConfig{
		Token:       cfg.Telegram.IngestToken,
		PollTimeout: pollTimeout,
	}, q, log.With(logx.String("comp", "bot.ingest")))
	if err != nil {
		return fmt.Errorf("ingest bot: %w", err)
	}

	if err := q.Subscribe(ingest.JobType, ing.Handle); err != nil {
		return err
	}
	if err := q.Subscribe(dispatch.JobType, disp.Handle); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	q.Start(gctx)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		q.Stop(sctx)
	}()

	cr := cron.New()
	if _, err := cr.AddFunc("@every 10m", func() {
		if n := q.PruneFailed(time.Now()); n > 0 {
			log.Debug("pruned failed jobs", logx.Int("count", n))
		}
	}); err != nil {
		return err
	}
	if _, err := cr.AddFunc("5 0 * * *", func() {
		day := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
		conns, reqs, users, err := st.DailyStats(context.Background(), day)
		if err != nil {
			log.Warn("daily stats read failed", logx.String("day", day), logx.Err(err))
			return
		}
		log.Info("daily usage",
			logx.String("day", day), logx.Int64("connections", conns),
			logx.Int64("requests", reqs), logx.Int64("unique_users", users))
	}); err != nil {
		return err
	}
	cr.Start()
	defer cr.Stop()

	g.Go(func() error { return clientBot.Run(gctx) })
	g.Go(func() error { return ingestBot.Run(gctx) })

	// Live-reloadable settings: log level/sinks and the send-rate ceiling.
	// Everything else requires a restart.
	g.Go(func() error {
		return config.Watch(gctx, cfgPath, log.With(logx.String("comp", "config")), func(next config.Config) {
			logSvc.Apply(logx.Config{
				Level:   next.Logging.Level,
				Console: next.Logging.Console,
				File:    logx.FileConfig{Enabled: next.Logging.File.Enabled, Path: next.Logging.File.Path},
			})
			if next.Queue.RatePerMinute > 0 {
				q.SetRate(next.Queue.RatePerMinute)
			}
		})
	})

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		log.Debug("sd_notify ready sent")
	}

	log.Info("started")
	err = g.Wait()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	log.Info("stopped")
	return err
}
