package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Priority selects the band a job is drained from. Workers always prefer the
// high band; within a band there is no ordering guarantee.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// Job is the queue's wire record. Payload is opaque to the queue; only the
// subscribed handler interprets it.
type Job struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Priority  Priority        `json:"priority"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Handler consumes one job delivery. Returning nil acks the job; returning an
// error fails the delivery and the queue retries with backoff (unless the
// error is wrapped with NoRetry). Delivery is at-least-once.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Config controls the worker pool and retry policy.
type Config struct {
	Workers   int
	QueueSize int

	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%

	// RatePerMinute caps handler invocations queue-wide, to respect the
	// downstream message-send ceiling. 0 applies the default.
	RatePerMinute int

	// DefaultTimeout bounds a single handler attempt. 0 disables.
	DefaultTimeout time.Duration

	// FailedKeep bounds the retained exhausted-job list; FailedGrace is how
	// long entries stay inspectable before the prune sweep drops them.
	FailedKeep  int
	FailedGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.RetryJitter <= 0 {
		c.RetryJitter = 0.2
	}
	if c.RatePerMinute <= 0 {
		c.RatePerMinute = 15
	}
	if c.FailedKeep <= 0 {
		c.FailedKeep = 1000
	}
	if c.FailedGrace <= 0 {
		c.FailedGrace = time.Hour
	}
	return c
}

// FailedJob is a job that exhausted its attempt budget. Kept (bounded) for
// inspection instead of being silently dropped.
type FailedJob struct {
	Job      Job
	Error    string
	FailedAt time.Time
}
