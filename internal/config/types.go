package config

// Config is the full bot configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Files may be JSON or YAML; both are decoded strictly (unknown keys are
// rejected) so typos fail at startup instead of being silently ignored.
type Config struct {
	Telegram   TelegramConfig            `json:"telegram"`
	Logging    LoggingConfig             `json:"logging"`
	Redis      RedisConfig               `json:"redis,omitempty"`
	Storage    StorageConfig             `json:"storage"`
	Queue      QueueConfig               `json:"queue,omitempty"`
	Dispatch   DispatchConfig            `json:"dispatch,omitempty"`
	Classifier ClassifierConfig          `json:"classifier"`
	Categories map[string]CategoryPolicy `json:"categories"`
}

// TelegramConfig holds both bot identities: the ingest bot reads offer posts
// from supplier chats, the client bot talks to subscribers.
type TelegramConfig struct {
	IngestToken string `json:"ingest_token"`
	ClientToken string `json:"client_token"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// RedirectHost builds the provider deep-link button
	// (https://<host>?start=<provider>).
	RedirectHost string `json:"redirect_host,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// RedisConfig selects the shared-state backend for bucket counters and the
// snapshot cache. If Addr is empty, both fall back to in-process memory
// backends (single-node mode; fine for development and tests).
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

// StorageConfig controls the sqlite record store (offers, subscriptions,
// daily usage stats).
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// QueueConfig controls the job queue workers and retry policy.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 256
//   - retry_max: 3
//   - retry_base: "1s", retry_max_delay: "30s"
//   - rate_per_minute: 15 (downstream Telegram send ceiling)
//   - failed_keep: 1000, failed_grace: "1h"
type QueueConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`
	RatePerMinute  int    `json:"rate_per_minute,omitempty"`
	FailedKeep     int    `json:"failed_keep,omitempty"`
	FailedGrace    string `json:"failed_grace,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
}

// DispatchConfig controls notification fan-out and snapshot lifetime.
type DispatchConfig struct {
	// SendTimeout bounds each per-recipient send attempt.
	SendTimeout string `json:"send_timeout,omitempty"`
	// SnapshotTTL is how long a triggered batch stays browsable.
	SnapshotTTL string `json:"snapshot_ttl,omitempty"`
}

type ClassifierConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url,omitempty"` // default: DeepSeek API
	Model   string `json:"model,omitempty"`    // default: "deepseek-chat"
	Timeout string `json:"timeout,omitempty"`
}

// CategoryPolicy is the per-category trigger policy. Every category the bot
// works with must declare both values; there are no runtime defaults (a
// missing entry is a startup error, not a silent fallback).
type CategoryPolicy struct {
	// Threshold is how many new offers accumulate in a (category, bucket)
	// before a notification batch triggers.
	Threshold int `json:"threshold"`
	// BatchSize bounds the snapshot written at trigger time.
	BatchSize int `json:"batch_size"`
	// Title is the human-facing category name shown on buttons.
	Title string `json:"title"`
}
