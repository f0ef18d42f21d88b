package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// ErrInvalid marks configuration errors. They are fatal at startup: the
// process must not run with an incomplete category table.
var ErrInvalid = errors.New("invalid config")

// Load reads, decodes, and validates a config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	jsonBytes, format, err := coerceToJSONBytes(path, data)
	if err != nil {
		return Config{}, fmt.Errorf("parse config (%s): %w", format, err)
	}

	dec := json.NewDecoder(bytes.NewReader(jsonBytes))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config (%s): %w", format, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks everything that must hold before any component starts.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Telegram.IngestToken) == "" {
		return fmt.Errorf("%w: telegram.ingest_token is required", ErrInvalid)
	}
	if strings.TrimSpace(c.Telegram.ClientToken) == "" {
		return fmt.Errorf("%w: telegram.client_token is required", ErrInvalid)
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("%w: storage.path is required", ErrInvalid)
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("%w: at least one category must be configured", ErrInvalid)
	}
	for name, p := range c.Categories {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: empty category name", ErrInvalid)
		}
		if p.Threshold < 1 {
			return fmt.Errorf("%w: category %q: threshold must be >= 1 (got %d)", ErrInvalid, name, p.Threshold)
		}
		if p.BatchSize < 1 {
			return fmt.Errorf("%w: category %q: batch_size must be >= 1 (got %d)", ErrInvalid, name, p.BatchSize)
		}
	}
	for _, field := range []struct{ name, val string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"queue.retry_base", c.Queue.RetryBase},
		{"queue.retry_max_delay", c.Queue.RetryMaxDelay},
		{"queue.failed_grace", c.Queue.FailedGrace},
		{"queue.default_timeout", c.Queue.DefaultTimeout},
		{"dispatch.send_timeout", c.Dispatch.SendTimeout},
		{"dispatch.snapshot_ttl", c.Dispatch.SnapshotTTL},
		{"classifier.timeout", c.Classifier.Timeout},
	} {
		if field.val == "" {
			continue
		}
		if _, err := time.ParseDuration(field.val); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, field.name, err)
		}
	}
	return nil
}

// DurationOr parses a Go duration string, falling back to def when the field
// is empty. Call only on fields Validate() has already checked.
func DurationOr(s string, def time.Duration) time.Duration {
	if strings.TrimSpace(s) == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// coerceToJSONBytes converts YAML config to JSON bytes so the strict JSON
// decoder (DisallowUnknownFields) serves both formats.
//
// Returns (jsonBytes, format, err) where format is "json" or "yaml".
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, "json", nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, "yaml", fmt.Errorf("yaml unmarshal: %w", err)
	}

	v = normalizeYAML(v)

	j, err := json.Marshal(v)
	if err != nil {
		return nil, "yaml", fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, "yaml", nil
}

// normalizeYAML ensures all map keys are strings so the result can be
// JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}
