package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/denis567denis/tg-bot-cache/internal/carousel"
	"github.com/denis567denis/tg-bot-cache/internal/dispatch"
	"github.com/denis567denis/tg-bot-cache/internal/offer"
	"github.com/denis567denis/tg-bot-cache/internal/store"
	logx "github.com/denis567denis/tg-bot-cache/pkg/logx"
)

const (
	btnAdd      = "➕ Добавить"
	btnRemove   = "🗑 Удалить"
	btnSettings = "📊 Мои настройки"
	btnBrowse   = "🔎 Посмотреть товары"

	msgWelcome = "Привет! Я присылаю подборки товаров с кэшбэком по твоим подпискам.\n" +
		"Выбери действие на клавиатуре ниже."
	msgPickCategory  = "Выберите категорию:"
	msgPickBucket    = "Выберите диапазон кэшбэка:"
	msgSubscribed    = "Подписка оформлена"
	msgUnsubscribed  = "Подписка удалена"
	msgNoSubs        = "У вас пока нет подписок."
	msgNoOffers      = "По этому фильтру пока нет товаров."
	msgExpired       = "Подборка устарела, запросите товары заново."
	msgBadCallback   = "Кнопка устарела"
	msgBatchArrived  = "Новая подборка по вашей подписке!"
	captionTextLimit = 900
)

type ClientConfig struct {
	Token        string
	PollTimeout  time.Duration
	RedirectHost string
}

// Subscriptions is the store surface the client bot needs.
type Subscriptions interface {
	UpsertSubscription(ctx context.Context, recipientID int64, category string, bucket offer.RateBucket) error
	RemoveSubscription(ctx context.Context, recipientID int64, category string, bucket offer.RateBucket) error
	ListSubscriptions(ctx context.Context, recipientID int64) ([]store.Subscription, error)
	BumpDailyStats(ctx context.Context, recipientID int64, connection bool) error
}

// Browser builds on-demand batches for the browse flow.
type Browser interface {
	SnapshotNow(ctx context.Context, category string, bucket offer.RateBucket) (offer.BatchKey, int, error)
}

// ClientBot is the subscriber-facing bot. It also implements
// dispatch.Sender for triggered batch announcements.
type ClientBot struct {
	cfg      ClientConfig
	bot      *tele.Bot
	subs     Subscriptions
	browser  Browser
	carousel *carousel.Service
	titles   map[string]string // category key -> button title
	log      logx.Logger
}

var _ dispatch.Sender = (*ClientBot)(nil)

func NewClientBot(cfg ClientConfig, subs Subscriptions, browser Browser, car *carousel.Service, titles map[string]string, log logx.Logger) (*ClientBot, error) {
	b, err := newBot(cfg.Token, cfg.PollTimeout)
	if err != nil {
		return nil, err
	}
	cb := &ClientBot{cfg: cfg, bot: b, subs: subs, browser: browser, carousel: car, titles: titles, log: log}
	cb.register()
	return cb, nil
}

func (b *ClientBot) Run(ctx context.Context) error {
	b.log.Info("client bot polling started")
	defer b.log.Info("client bot polling stopped")
	return runBot(ctx, b.bot)
}

func (b *ClientBot) register() {
	b.bot.Handle("/start", func(c tele.Context) error {
		b.bumpStats(c.Sender().ID, true)
		return c.Send(msgWelcome, mainKeyboard())
	})

	b.bot.Handle(tele.OnText, func(c tele.Context) error {
		b.bumpStats(c.Sender().ID, false)
		switch strings.TrimSpace(c.Text()) {
		case btnAdd:
			return c.Send(msgPickBucket, bucketKeyboard(actAddBucket))
		case btnBrowse:
			return c.Send(msgPickBucket, bucketKeyboard(actBrowseBucket))
		case btnRemove:
			return b.sendRemoveList(c)
		case btnSettings:
			return b.sendSettings(c)
		default:
			return c.Send(msgWelcome, mainKeyboard())
		}
	})

	b.bot.Handle(tele.OnCallback, b.onCallback)
}

func (b *ClientBot) onCallback(c tele.Context) error {
	cb := c.Callback()
	if cb == nil {
		return nil
	}
	b.bumpStats(cb.Sender.ID, false)

	action, payload, ok := splitCallback(cb.Data)
	if !ok {
		return c.Respond(&tele.CallbackResponse{Text: msgBadCallback})
	}

	var err error
	switch action {
	case actNoop:
		err = c.Respond()
	case actAddBucket:
		err = b.onBucketPicked(c, payload, actSubscribe)
	case actBrowseBucket:
		err = b.onBucketPicked(c, payload, actBrowse)
	case actSubscribe:
		err = b.onSubscribe(c, payload)
	case actUnsubscribe:
		err = b.onUnsubscribe(c, payload)
	case actBrowse:
		err = b.onBrowse(c, payload)
	case actNavigate:
		err = b.onNavigate(c, payload)
	default:
		err = c.Respond(&tele.CallbackResponse{Text: msgBadCallback})
	}
	if err != nil {
		b.log.Warn("callback handling failed",
			logx.String("action", action), logx.Int64("from", cb.Sender.ID), logx.Err(err))
	}
	return nil
}

// onBucketPicked advances either flow from bucket to category choice. The
// next action decides whether the category press subscribes or browses.
func (b *ClientBot) onBucketPicked(c tele.Context, payload, nextAction string) error {
	bucket, ok := offer.ParseBucket(payload)
	if !ok {
		return c.Respond(&tele.CallbackResponse{Text: msgBadCallback})
	}
	if err := c.Edit(msgPickCategory, b.categoryKeyboard(bucket, nextAction)); err != nil {
		return err
	}
	return c.Respond()
}

func (b *ClientBot) onSubscribe(c tele.Context, payload string) error {
	category, bucket, err := unpackKey(payload)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: msgBadCallback})
	}
	if _, known := b.titles[category]; !known {
		// Stale button from a category that was removed from the config.
		return c.Respond(&tele.CallbackResponse{Text: msgBadCallback})
	}
	ctx := context.Background()
	if err := b.subs.UpsertSubscription(ctx, c.Sender().ID, category, bucket); err != nil {
		return err
	}
	if err := c.Edit(fmt.Sprintf("%s: %s, %s%%", msgSubscribed, b.title(category), bucket)); err != nil {
		return err
	}
	return c.Respond(&tele.CallbackResponse{Text: msgSubscribed})
}

func (b *ClientBot) onUnsubscribe(c tele.Context, payload string) error {
	category, bucket, err := unpackKey(payload)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: msgBadCallback})
	}
	ctx := context.Background()
	if err := b.subs.RemoveSubscription(ctx, c.Sender().ID, category, bucket); err != nil {
		return err
	}
	if err := c.Respond(&tele.CallbackResponse{Text: msgUnsubscribed}); err != nil {
		return err
	}
	return b.editRemoveList(c)
}

func (b *ClientBot) onBrowse(c tele.Context, payload string) error {
	category, bucket, err := unpackKey(payload)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: msgBadCallback})
	}
	ctx := context.Background()
	key, total, err := b.browser.SnapshotNow(ctx, category, bucket)
	if err != nil {
		return err
	}
	if total == 0 {
		if err := c.Edit(msgNoOffers); err != nil {
			return err
		}
		return c.Respond()
	}
	page, err := b.carousel.View(ctx, key, 0)
	if err != nil {
		return err
	}
	what, markup, err := b.renderPage(key, page)
	if err != nil {
		return err
	}
	// The bucket-choice message is plain text; a photo page can't be edited
	// over it, so delete and send fresh.
	_ = c.Delete()
	if err := c.Send(what, markup); err != nil {
		return err
	}
	return c.Respond()
}

func (b *ClientBot) onNavigate(c tele.Context, payload string) error {
	ref, err := carousel.DecodeRef(payload)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: msgBadCallback})
	}
	ctx := context.Background()
	page, err := b.carousel.View(ctx, ref.Key(), ref.Index)
	if err != nil {
		switch {
		case errors.Is(err, carousel.ErrSnapshotExpired):
			return c.Respond(&tele.CallbackResponse{Text: msgExpired, ShowAlert: true})
		case errors.Is(err, carousel.ErrInvalidIndex):
			return c.Respond(&tele.CallbackResponse{Text: msgBadCallback})
		}
		return err
	}
	what, markup, err := b.renderPage(ref.Key(), page)
	if err != nil {
		return err
	}
	if err := c.Edit(what, markup); err != nil {
		return err
	}
	return c.Respond()
}

// SendBatchAnnouncement implements dispatch.Sender: the recipient gets the
// first page of the freshly triggered batch.
func (b *ClientBot) SendBatchAnnouncement(ctx context.Context, recipientID int64, key offer.BatchKey, total int) error {
	page, err := b.carousel.View(ctx, key, 0)
	if err != nil {
		return err
	}
	what, markup, err := b.renderPage(key, page)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	chat := &tele.Chat{ID: recipientID}
	if _, err := b.bot.Send(chat, msgBatchArrived); err != nil {
		return err
	}
	_, err = b.bot.Send(chat, what, markup)
	return err
}

// ---- rendering ----

func (b *ClientBot) renderPage(key offer.BatchKey, page carousel.Page) (any, *tele.ReplyMarkup, error) {
	o := page.Offer
	text := o.Text
	if rs := []rune(text); len(rs) > captionTextLimit {
		text = string(rs[:captionTextLimit]) + "…"
	}
	caption := fmt.Sprintf("%s\n\nПост %d/%d", text, page.Index+1, page.Total)

	prevRef, err := carousel.EncodeRef(carousel.Ref{
		Category: key.Category, Bucket: key.Bucket, BatchID: key.BatchID, Index: page.PrevIndex,
	})
	if err != nil {
		return nil, nil, err
	}
	nextRef, err := carousel.EncodeRef(carousel.Ref{
		Category: key.Category, Bucket: key.Bucket, BatchID: key.BatchID, Index: page.NextIndex,
	})
	if err != nil {
		return nil, nil, err
	}

	rows := [][]tele.InlineButton{{
		{Text: "⬅️", Data: callbackData(actNavigate, prevRef)},
		{Text: fmt.Sprintf("%d/%d", page.Index+1, page.Total), Data: callbackData(actNoop, "")},
		{Text: "➡️", Data: callbackData(actNavigate, nextRef)},
	}}
	if link := b.providerLink(o.Provider); link != "" {
		rows = append(rows, []tele.InlineButton{{Text: "Перейти к продавцу", URL: link}})
	}
	markup := &tele.ReplyMarkup{InlineKeyboard: rows}

	if o.MediaRef != "" {
		return &tele.Photo{File: tele.File{FileID: o.MediaRef}, Caption: caption}, markup, nil
	}
	return caption, markup, nil
}

// providerLink builds the deep link that routes the buyer to the seller via
// the redirect host. Empty when no host is configured.
func (b *ClientBot) providerLink(provider string) string {
	host := strings.TrimSpace(b.cfg.RedirectHost)
	provider = strings.TrimSpace(strings.TrimPrefix(provider, "@"))
	if host == "" || provider == "" {
		return ""
	}
	return "https://" + host + "?start=" + url.QueryEscape(provider)
}

func (b *ClientBot) sendRemoveList(c tele.Context) error {
	markup, empty, err := b.removeListMarkup(c.Sender().ID)
	if err != nil {
		return err
	}
	if empty {
		return c.Send(msgNoSubs)
	}
	return c.Send("Нажмите на подписку, чтобы удалить её:", markup)
}

func (b *ClientBot) editRemoveList(c tele.Context) error {
	markup, empty, err := b.removeListMarkup(c.Sender().ID)
	if err != nil {
		return err
	}
	if empty {
		return c.Edit(msgNoSubs)
	}
	return c.Edit("Нажмите на подписку, чтобы удалить её:", markup)
}

func (b *ClientBot) removeListMarkup(recipientID int64) (*tele.ReplyMarkup, bool, error) {
	subs, err := b.subs.ListSubscriptions(context.Background(), recipientID)
	if err != nil {
		return nil, false, err
	}
	if len(subs) == 0 {
		return nil, true, nil
	}
	rows := make([][]tele.InlineButton, 0, len(subs))
	for _, s := range subs {
		rows = append(rows, []tele.InlineButton{{
			Text: fmt.Sprintf("❌ %s, %s%%", b.title(s.Category), s.Bucket),
			Data: callbackData(actUnsubscribe, packKey(s.Category, s.Bucket)),
		}})
	}
	return &tele.ReplyMarkup{InlineKeyboard: rows}, false, nil
}

func (b *ClientBot) sendSettings(c tele.Context) error {
	subs, err := b.subs.ListSubscriptions(context.Background(), c.Sender().ID)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return c.Send(msgNoSubs)
	}
	var sb strings.Builder
	sb.WriteString("Ваши подписки:\n")
	for _, s := range subs {
		fmt.Fprintf(&sb, "• %s, кэшбэк %s%%\n", b.title(s.Category), s.Bucket)
	}
	return c.Send(sb.String())
}

func (b *ClientBot) title(category string) string {
	if t, ok := b.titles[category]; ok && t != "" {
		return t
	}
	return category
}

func (b *ClientBot) bumpStats(recipientID int64, connection bool) {
	if err := b.subs.BumpDailyStats(context.Background(), recipientID, connection); err != nil {
		b.log.Debug("daily stats bump failed", logx.Int64("recipient", recipientID), logx.Err(err))
	}
}

// ---- keyboards ----

func mainKeyboard() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{
		ResizeKeyboard: true,
		ReplyKeyboard: [][]tele.ReplyButton{
			{{Text: btnAdd}, {Text: btnRemove}},
			{{Text: btnSettings}, {Text: btnBrowse}},
		},
	}
}

func bucketKeyboard(action string) *tele.ReplyMarkup {
	buckets := offer.Buckets()
	rows := make([][]tele.InlineButton, 0, len(buckets))
	for _, bk := range buckets {
		rows = append(rows, []tele.InlineButton{{
			Text: string(bk) + "%",
			Data: callbackData(action, string(bk)),
		}})
	}
	return &tele.ReplyMarkup{InlineKeyboard: rows}
}

func (b *ClientBot) categoryKeyboard(bucket offer.RateBucket, action string) *tele.ReplyMarkup {
	keys := make([]string, 0, len(b.titles))
	for k := range b.titles {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return b.title(keys[i]) < b.title(keys[j]) })

	rows := make([][]tele.InlineButton, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []tele.InlineButton{{
			Text: b.title(k),
			Data: callbackData(action, packKey(k, bucket)),
		}})
	}
	return &tele.ReplyMarkup{InlineKeyboard: rows}
}
