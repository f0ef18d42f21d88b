// Package queue is a generic in-process job queue: typed handlers, a bounded
// worker pool, at-least-once delivery with exponential-backoff retries, a
// queue-wide rate ceiling for downstream sends, and bounded retention of
// exhausted jobs. It carries no knowledge of any particular job type.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	logx "github.com/denis567denis/tg-bot-cache/pkg/logx"
)

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	handlers map[string]Handler

	high   chan Job
	normal chan Job

	limiter atomic.Pointer[rate.Limiter]

	stopCh   chan struct{}
	stopDone chan struct{}
	wg       sync.WaitGroup

	fmu    sync.Mutex
	failed []FailedJob

	idSeq atomic.Uint64
}

func New(cfg Config, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	s := &Service{
		cfg:      cfg,
		log:      log,
		handlers: make(map[string]Handler),
	}
	s.limiter.Store(newLimiter(cfg.RatePerMinute))
	return s
}

func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		perMinute = 15
	}
	// Allow a short burst up to the full window budget; the steady rate is
	// what protects the downstream ceiling.
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}

// Subscribe registers the handler invoked once per delivery of jobType.
// Must be called before Start; one handler per type.
func (s *Service) Subscribe(jobType string, h Handler) error {
	jobType = strings.TrimSpace(jobType)
	if jobType == "" {
		return fmt.Errorf("job type is required")
	}
	if h == nil {
		return fmt.Errorf("handler is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return fmt.Errorf("subscribe after start")
	}
	if _, dup := s.handlers[jobType]; dup {
		return fmt.Errorf("handler already subscribed for %q", jobType)
	}
	s.handlers[jobType] = h
	return nil
}

// SetRate swaps the downstream rate ceiling at runtime (config reload).
func (s *Service) SetRate(perMinute int) {
	s.limiter.Store(newLimiter(perMinute))
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	cfg := s.cfg
	s.high = make(chan Job, cfg.QueueSize)
	s.normal = make(chan Job, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	high, normal := s.high, s.normal
	s.mu.Unlock()

	s.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		idx := i
		go func() {
			defer s.wg.Done()
			s.worker(ctx, stopCh, high, normal, idx)
		}()
	}

	s.log.Info("job queue started",
		logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize),
		logx.Int("rate_per_minute", cfg.RatePerMinute))
}

func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	s.mu.Unlock()

	go func() {
		s.wg.Wait()
		s.mu.Lock()
		s.high = nil
		s.normal = nil
		s.stopCh = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("job queue stopped")
	case <-ctx.Done():
		s.log.Warn("job queue stop timed out", logx.Err(ctx.Err()))
	}
}

// Enqueue marshals payload and queues a job. It blocks while the band is full
// until ctx is done or the queue stops. Returns the job ID as the handle.
func (s *Service) Enqueue(ctx context.Context, jobType string, payload any, prio Priority) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.enqueue(ctx, jobType, payload, prio, true)
}

// TryEnqueue is the non-blocking variant; a full band returns ErrQueueFull.
// Use it from latency-sensitive callers (e.g. Telegram update handlers).
func (s *Service) TryEnqueue(jobType string, payload any, prio Priority) (string, error) {
	return s.enqueue(context.Background(), jobType, payload, prio, false)
}

func (s *Service) enqueue(ctx context.Context, jobType string, payload any, prio Priority, block bool) (string, error) {
	jobType = strings.TrimSpace(jobType)
	if jobType == "" {
		return "", fmt.Errorf("job type is required")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	s.mu.Lock()
	_, known := s.handlers[jobType]
	stopCh := s.stopCh
	stopping := s.stopDone != nil
	high, normal := s.high, s.normal
	s.mu.Unlock()

	if !known {
		return "", fmt.Errorf("%w: %q", ErrNoHandler, jobType)
	}
	if stopCh == nil {
		return "", ErrStopped
	}
	if stopping {
		return "", ErrStopping
	}

	j := Job{
		ID:        s.newJobID(),
		Type:      jobType,
		Payload:   raw,
		Priority:  prio,
		Attempt:   0,
		CreatedAt: time.Now(),
	}

	band := normal
	if prio == PriorityHigh {
		band = high
	}

	if !block {
		select {
		case band <- j:
		default:
			return "", ErrQueueFull
		}
		s.log.Debug("job enqueued", logx.String("job", j.ID), logx.String("type", j.Type), logx.Int("priority", int(prio)))
		return j.ID, nil
	}

	select {
	case band <- j:
		s.log.Debug("job enqueued", logx.String("job", j.ID), logx.String("type", j.Type), logx.Int("priority", int(prio)))
		return j.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-stopCh:
		return "", ErrStopping
	}
}

// Failed returns a copy of the retained exhausted jobs, newest last.
func (s *Service) Failed() []FailedJob {
	s.fmu.Lock()
	defer s.fmu.Unlock()
	out := make([]FailedJob, len(s.failed))
	copy(out, s.failed)
	return out
}

// PruneFailed drops retained entries older than the grace period. Called
// periodically by the maintenance cron.
func (s *Service) PruneFailed(now time.Time) int {
	cutoff := now.Add(-s.cfg.FailedGrace)
	s.fmu.Lock()
	defer s.fmu.Unlock()
	kept := s.failed[:0]
	for _, f := range s.failed {
		if f.FailedAt.After(cutoff) {
			kept = append(kept, f)
		}
	}
	n := len(s.failed) - len(kept)
	s.failed = kept
	return n
}

func (s *Service) recordFailed(j Job, err error) {
	s.fmu.Lock()
	defer s.fmu.Unlock()
	s.failed = append(s.failed, FailedJob{Job: j, Error: err.Error(), FailedAt: time.Now()})
	if len(s.failed) > s.cfg.FailedKeep {
		s.failed = s.failed[len(s.failed)-s.cfg.FailedKeep:]
	}
}

func (s *Service) newJobID() string {
	seq := s.idSeq.Add(1)
	return fmt.Sprintf("job-%x-%x", time.Now().UnixNano(), seq)
}
