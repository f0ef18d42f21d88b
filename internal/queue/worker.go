package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	logx "github.com/denis567denis/tg-bot-cache/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, high, normal <-chan Job, idx int) {
	// Per-worker RNG: avoids global lock contention when many jobs retry
	// concurrently.
	seed := time.Now().UnixNano() ^ (int64(idx) << 32)
	rng := rand.New(rand.NewSource(seed))

	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		// Drain the high band before touching the normal one.
		select {
		case j := <-high:
			s.execOne(ctx, stopCh, j, rng)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-high:
			s.execOne(ctx, stopCh, j, rng)
		case j := <-normal:
			s.execOne(ctx, stopCh, j, rng)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, j Job, rng *rand.Rand) {
	s.mu.Lock()
	cfg := s.cfg
	h := s.handlers[j.Type]
	s.mu.Unlock()

	if h == nil {
		// Subscribe() gates Enqueue, so this only happens on programmer error.
		s.recordFailed(j, fmt.Errorf("%w: %q", ErrNoHandler, j.Type))
		return
	}

	start := time.Now()
	queueDelay := start.Sub(j.CreatedAt)
	if queueDelay < 0 {
		queueDelay = 0
	}
	s.log.Debug("job started", logx.String("job", j.ID), logx.String("type", j.Type), logx.Duration("queue_delay", queueDelay))

	var err error
	maxAttempts := 1 + cfg.RetryMax
attemptLoop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		j.Attempt = attempt

		// The queue-wide ceiling applies per attempt: a retry storm must not
		// push the downstream over its send limit either.
		if lim := s.limiter.Load(); lim != nil {
			if werr := lim.Wait(ctx); werr != nil {
				err = werr
				break
			}
		}

		runCtx := ctx
		var cancel context.CancelFunc
		if cfg.DefaultTimeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, cfg.DefaultTimeout)
		}
		// Guard against handler panics: convert to error so one bad payload
		// can't kill a worker.
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
					s.log.Error("job panic", logx.String("job", j.ID), logx.String("type", j.Type),
						logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			err = h(runCtx, j.Payload)
		}()
		if cancel != nil {
			cancel()
		}
		if err == nil {
			break
		}

		var nr noRetryError
		if errors.As(err, &nr) {
			err = nr.err
			break
		}
		if attempt >= maxAttempts {
			break
		}

		delay := backoffDelayWithHint(cfg, attempt, err, rng)
		s.log.Debug("job retry scheduled", logx.String("job", j.ID), logx.String("type", j.Type),
			logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			err = ctx.Err()
			break attemptLoop
		case <-stopCh:
			if !tmr.Stop() {
				<-tmr.C
			}
			err = errors.New("job queue stopped mid-retry")
			break attemptLoop
		case <-tmr.C:
		}
	}

	dur := time.Since(start)
	if err != nil {
		s.log.Warn("job failed", logx.String("job", j.ID), logx.String("type", j.Type),
			logx.Int("attempts", j.Attempt), logx.Duration("dur", dur), logx.Err(err))
		s.recordFailed(j, err)
		return
	}
	s.log.Debug("job completed", logx.String("job", j.ID), logx.String("type", j.Type),
		logx.Int("attempts", j.Attempt), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
}

func backoffDelayWithHint(cfg Config, retry int, err error, rng *rand.Rand) time.Duration {
	// Respect explicit retry-after hints if the handler provided one.
	var ra RetryAfterError
	if err != nil && errors.As(err, &ra) {
		d := ra.RetryAfter()
		if d < 0 {
			d = 0
		}
		if d > cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
		}
		return jitter(d, cfg.RetryJitter, cfg.RetryMaxDelay, rng)
	}
	return backoffDelay(cfg, retry, rng)
}

func backoffDelay(cfg Config, retry int, rng *rand.Rand) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d > cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	return jitter(d, cfg.RetryJitter, cfg.RetryMaxDelay, rng)
}

func jitter(d time.Duration, j float64, maxD time.Duration, rng *rand.Rand) time.Duration {
	if j > 0 && d > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * j
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > maxD {
		d = maxD
	}
	return d
}
