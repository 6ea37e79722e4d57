// Package genai provides the chat-completion transport used by the form oracle.
//
// Two backends implement Completer: Client talks to any OpenAI-compatible endpoint through
// openai-go, GeminiClient talks to Gemini through google.golang.org/genai.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Completer returns the model's reply to a conversation.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

var (
	// ErrNoChoicesReturned is returned when the model response carries no text.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrMissingAPIKey is returned when no API key is configured.
	ErrMissingAPIKey = errors.New("api key not set")
)

// DefaultModel is the OpenAI model used when none is configured.
const DefaultModel = openai.ChatModelGPT4oMini

// Opts holds configuration for the completion clients.
type Opts struct {
	APIKey              string
	BaseURL             string
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	DebugDir            string // when set, every exchange is written there as JSON
}

// Option configures a completion client.
type Option func(*Opts)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the OpenAI client at a compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxCompletionTokens caps the reply length.
func WithMaxCompletionTokens(n int64) Option {
	return func(o *Opts) { o.MaxCompletionTokens = n }
}

// WithDebugDir records every exchange under dir.
func WithDebugDir(dir string) Option {
	return func(o *Opts) { o.DebugDir = dir }
}

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

type completions struct {
	svc *openai.ChatCompletionService
}

func (c completions) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := c.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat                chatService
	model               string
	temperature         float64
	maxCompletionTokens int64
	debugDir            string
}

// NewClient creates an OpenAI-compatible client. The key defaults to OPENAI_API_KEY and the base URL
// to OPENAI_BASE_URL. Retries are left to the oracle.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		APIKey:  os.Getenv("OPENAI_API_KEY"),
		BaseURL: os.Getenv("OPENAI_BASE_URL"),
		Model:   DefaultModel,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	slog.Debug("Client.NewClient: openai client created", "model", cfg.Model, "base_url_set", cfg.BaseURL != "")
	return &Client{
		chat:                completions{svc: &cli.Chat.Completions},
		model:               cfg.Model,
		temperature:         cfg.Temperature,
		maxCompletionTokens: cfg.MaxCompletionTokens,
		debugDir:            cfg.DebugDir,
	}, nil
}

// Complete sends the conversation and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: toOpenAI(messages),
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	if c.maxCompletionTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxCompletionTokens)
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("Client.Complete: chat completion failed", "model", c.model, "error", err)
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	content := resp.Choices[0].Message.Content
	slog.Debug("Client.Complete: reply received", "model", c.model, "chars", len(content), "elapsed", time.Since(start))
	writeDebug(c.debugDir, "openai", messages, content)
	return content, nil
}

func toOpenAI(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// New builds the completer for provider ("openai" or "gemini").
func New(ctx context.Context, provider string, opts ...Option) (Completer, error) {
	switch strings.ToLower(provider) {
	case "", "openai":
		return NewClient(opts...)
	case "gemini":
		return NewGeminiClient(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown genai provider %q", provider)
	}
}

type debugRecord struct {
	Provider string    `json:"provider"`
	Time     time.Time `json:"time"`
	Messages []Message `json:"messages"`
	Reply    string    `json:"reply"`
}

func writeDebug(dir, provider string, messages []Message, reply string) {
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("genai.writeDebug: cannot create debug dir", "dir", dir, "error", err)
		return
	}
	rec := debugRecord{Provider: provider, Time: time.Now().UTC(), Messages: messages, Reply: reply}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return
	}
	name := filepath.Join(dir, fmt.Sprintf("%s-%d.json", provider, rec.Time.UnixNano()))
	if err := os.WriteFile(name, data, 0o644); err != nil {
		slog.Warn("genai.writeDebug: write failed", "file", name, "error", err)
	}
}
