// Package classify extracts structured offer data from raw post text using a
// chat-completion model (DeepSeek via the OpenAI-compatible API).
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	logx "github.com/denis567denis/tg-bot-cache/pkg/logx"
)

const (
	defaultBaseURL = "https://api.deepseek.com/v1"
	defaultModel   = "deepseek-chat"
	defaultTimeout = 30 * time.Second
)

// ErrNotAnOffer means the model could not extract offer fields from the text.
// Terminal: retrying the same text produces the same answer.
var ErrNotAnOffer = errors.New("text does not describe an offer")

// Result is the structured classification of one post.
type Result struct {
	Provider   string   `json:"provider"`
	Percentage int      `json:"percentage"`
	Categories []string `json:"categories"`
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type Service struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	prompt  string
	breaker *gobreaker.CircuitBreaker
	log     logx.Logger
}

// New builds the classifier. categoryTitles maps category key to its
// human-facing title; the model is constrained to choose among these keys.
func New(cfg Config, categoryTitles map[string]string, log logx.Logger) *Service {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = base

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "classifier",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("classifier breaker state changed",
				logx.String("from", from.String()), logx.String("to", to.String()))
		},
	})

	return &Service{
		client:  openai.NewClientWithConfig(oc),
		model:   model,
		timeout: timeout,
		prompt:  buildPrompt(categoryTitles),
		breaker: cb,
		log:     log,
	}
}

func buildPrompt(categoryTitles map[string]string) string {
	keys := make([]string, 0, len(categoryTitles))
	for k := range categoryTitles {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("You extract structured data from promotional posts about discounted goods.\n")
	b.WriteString("Reply with a single JSON object and nothing else:\n")
	b.WriteString(`{"provider":"<seller @username or name>","percentage":<cashback/discount percent, integer 0-100>,"categories":["<key>", ...]}` + "\n")
	b.WriteString("Allowed category keys (use ONLY these, pick every one that applies):\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, categoryTitles[k])
	}
	b.WriteString(`If the text is not a promotional offer, reply exactly {"provider":"","percentage":-1,"categories":[]}.`)
	return b.String()
}

// Classify runs one post through the model. Transport and API failures are
// returned as-is (retryable); a well-formed "not an offer" answer returns
// ErrNotAnOffer.
func (s *Service) Classify(ctx context.Context, text string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, ErrNotAnOffer
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	v, err := s.breaker.Execute(func() (any, error) {
		resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: s.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: s.prompt},
				{Role: openai.ChatMessageRoleUser, Content: text},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Temperature: 0,
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("empty completion")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("classifier request: %w", err)
	}

	raw, _ := v.(string)
	var res Result
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &res); err != nil {
		return Result{}, fmt.Errorf("classifier answer is not valid json: %w", err)
	}
	if res.Percentage < 0 || res.Provider == "" || len(res.Categories) == 0 {
		return Result{}, ErrNotAnOffer
	}
	if res.Percentage > 100 {
		res.Percentage = 100
	}
	return res, nil
}
