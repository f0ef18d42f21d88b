// Package telegram hosts both bot identities: the ingest bot that reads
// supplier posts and the client bot that subscribers talk to.
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

const defaultPollTimeout = 10 * time.Second

func newBot(token string, pollTimeout time.Duration) (*tele.Bot, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}
	return tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: pollTimeout},
	})
}

// runBot drives a telebot poll loop under ctx. Returns nil on a clean
// context-driven shutdown, an error if the poller exits on its own.
func runBot(ctx context.Context, b *tele.Bot) error {
	stopped := make(chan struct{})
	go func() {
		b.Start()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		b.Stop()
		// b.Stop() is synchronous in telebot v4 but wait for the poll
		// goroutine anyway so we never leak it past shutdown.
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
		}
		return nil
	case <-stopped:
		return errors.New("telegram poller exited unexpectedly")
	}
}
