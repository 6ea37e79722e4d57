package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	gemini "google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured for Gemini.
const DefaultGeminiModel = "gemini-2.5-flash"

type modelService interface {
	GenerateContent(ctx context.Context, model string, contents []*gemini.Content, config *gemini.GenerateContentConfig) (*gemini.GenerateContentResponse, error)
}

// GeminiClient talks to the Gemini API.
type GeminiClient struct {
	models      modelService
	model       string
	temperature float64
	maxTokens   int64
	debugDir    string
}

// NewGeminiClient creates a Gemini client. The key defaults to GEMINI_API_KEY, then GOOGLE_API_KEY.
func NewGeminiClient(ctx context.Context, opts ...Option) (*GeminiClient, error) {
	cfg := Opts{APIKey: os.Getenv("GEMINI_API_KEY")}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GOOGLE_API_KEY")
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrMissingAPIKey)
	}
	if cfg.Model == "" || cfg.Model == DefaultModel {
		cfg.Model = DefaultGeminiModel
	}

	client, err := gemini.NewClient(ctx, &gemini.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: gemini.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{
		models:      client.Models,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxCompletionTokens,
		debugDir:    cfg.DebugDir,
	}, nil
}

// Complete sends the conversation to Gemini. System messages become the system instruction.
func (c *GeminiClient) Complete(ctx context.Context, messages []Message) (string, error) {
	var system []string
	var contents []*gemini.Content
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, gemini.NewContentFromText(m.Content, gemini.RoleModel))
		default:
			contents = append(contents, gemini.NewContentFromText(m.Content, gemini.RoleUser))
		}
	}

	cfg := &gemini.GenerateContentConfig{}
	if len(system) > 0 {
		cfg.SystemInstruction = gemini.NewContentFromText(strings.Join(system, "\n\n"), gemini.RoleUser)
	}
	if c.temperature > 0 {
		t := float32(c.temperature)
		cfg.Temperature = &t
	}
	if c.maxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.maxTokens)
	}

	resp, err := c.models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		slog.Error("GeminiClient.Complete: generate content failed", "model", c.model, "error", err)
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", ErrNoChoicesReturned
	}
	slog.Debug("GeminiClient.Complete: reply received", "model", c.model, "chars", len(text))
	writeDebug(c.debugDir, "gemini", messages, text)
	return text, nil
}
