package telegram

import (
	"context"
	"errors"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/denis567denis/tg-bot-cache/internal/ingest"
	"github.com/denis567denis/tg-bot-cache/internal/queue"
	logx "github.com/denis567denis/tg-bot-cache/pkg/logx"
)

// Enqueuer is the queue surface the bots need.
type Enqueuer interface {
	TryEnqueue(jobType string, payload any, prio queue.Priority) (string, error)
}

type IngestConfig struct {
	Token       string
	PollTimeout time.Duration
}

// IngestBot listens in supplier chats and feeds every post into the
// processing queue. It never blocks the poll loop: a full queue drops the
// post with a warning instead of stalling Telegram updates.
type IngestBot struct {
	bot   *tele.Bot
	queue Enqueuer
	log   logx.Logger
}

func NewIngestBot(cfg IngestConfig, q Enqueuer, log logx.Logger) (*IngestBot, error) {
	b, err := newBot(cfg.Token, cfg.PollTimeout)
	if err != nil {
		return nil, err
	}
	ib := &IngestBot{bot: b, queue: q, log: log}
	ib.register()
	return ib, nil
}

func (b *IngestBot) register() {
	b.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil {
			return nil
		}
		b.enqueue(m.Text, "")
		return nil
	})
	b.bot.Handle(tele.OnPhoto, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Photo == nil {
			return nil
		}
		b.enqueue(m.Caption, m.Photo.FileID)
		return nil
	})
}

func (b *IngestBot) enqueue(text, mediaRef string) {
	id, err := b.queue.TryEnqueue(ingest.JobType, ingest.JobPayload{Text: text, MediaRef: mediaRef}, queue.PriorityNormal)
	if errors.Is(err, queue.ErrQueueFull) {
		b.log.Warn("ingest queue full, post dropped", logx.String("media", mediaRef))
		return
	}
	if err != nil {
		b.log.Error("ingest enqueue failed", logx.Err(err))
		return
	}
	b.log.Debug("post enqueued", logx.String("job", id), logx.String("media", mediaRef))
}

func (b *IngestBot) Run(ctx context.Context) error {
	b.log.Info("ingest bot polling started")
	defer b.log.Info("ingest bot polling stopped")
	return runBot(ctx, b.bot)
}
