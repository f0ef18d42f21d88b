package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validYAML = `
telegram:
  ingest_token: "100:ingest"
  client_token: "200:client"
  redirect_host: "shop.example.com"
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
storage:
  path: ./data/bot.db
queue:
  rate_per_minute: 20
  retry_base: 2s
classifier:
  api_key: sk-test
categories:
  food:
    threshold: 3
    batch_size: 10
    title: "Еда"
  home:
    threshold: 5
    batch_size: 8
    title: "Дом"
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeConfig(t, "config.yaml", validYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.ClientToken != "200:client" {
		t.Errorf("client token = %q", cfg.Telegram.ClientToken)
	}
	if cfg.Queue.RatePerMinute != 20 {
		t.Errorf("rate = %d, want 20", cfg.Queue.RatePerMinute)
	}
	if got := cfg.Categories["food"]; got.Threshold != 3 || got.BatchSize != 10 || got.Title != "Еда" {
		t.Errorf("food policy = %+v", got)
	}
	if d := DurationOr(cfg.Queue.RetryBase, 0); d != 2*time.Second {
		t.Errorf("retry_base = %v, want 2s", d)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	body := validYAML + "\nnot_a_real_section:\n  foo: 1\n"
	if _, err := Load(writeConfig(t, "config.yaml", body)); err == nil {
		t.Fatal("unknown key must be rejected")
	}
}

func TestValidateFailures(t *testing.T) {
	t.Parallel()
	base := func() Config {
		return Config{
			Telegram:   TelegramConfig{IngestToken: "a", ClientToken: "b"},
			Storage:    StorageConfig{Path: "x.db"},
			Categories: map[string]CategoryPolicy{"food": {Threshold: 1, BatchSize: 1}},
		}
	}
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing ingest token", func(c *Config) { c.Telegram.IngestToken = "" }},
		{"missing client token", func(c *Config) { c.Telegram.ClientToken = "" }},
		{"missing storage path", func(c *Config) { c.Storage.Path = " " }},
		{"no categories", func(c *Config) { c.Categories = nil }},
		{"zero threshold", func(c *Config) { c.Categories["food"] = CategoryPolicy{Threshold: 0, BatchSize: 1} }},
		{"zero batch size", func(c *Config) { c.Categories["food"] = CategoryPolicy{Threshold: 1, BatchSize: 0} }},
		{"bad duration", func(c *Config) { c.Queue.RetryBase = "three seconds" }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("got %v, want ErrInvalid", err)
			}
		})
	}
}

func TestValidateAcceptsMinimal(t *testing.T) {
	t.Parallel()
	cfg := Config{
		Telegram:   TelegramConfig{IngestToken: "a", ClientToken: "b"},
		Storage:    StorageConfig{Path: "x.db"},
		Categories: map[string]CategoryPolicy{"food": {Threshold: 1, BatchSize: 1}},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}
