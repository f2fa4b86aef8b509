// Package llm wraps OpenAI-compatible chat endpoints behind a single-question
// completion call and holds the quality gate applied to cheap-model answers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/bigdegenenergy/open-cloud-ops/tutor/internal/config"
)

// SystemPrompt frames every question sent to a model.
const SystemPrompt = `You are a helpful AI tutor for Singapore O-Level students. Provide clear, concise explanations for mathematics and music questions.

Focus on:
- Step-by-step solutions for math problems
- Basic music theory concepts
- Clear explanations suitable for O-Level students
- Use simple LaTeX for math: $x^2 + 2x + 1$

Keep responses under 300 words and direct to the point.`

// Generation limits.
const (
	MaxOutputTokens = 300
	Temperature     = 0.7
)

// MinResponseLength is the shortest answer the quality gate accepts.
const MinResponseLength = 30

var refusalPhrases = []string{"I cannot", "I don't know", "sorry", "Sorry"}

// ErrEmptyResponse is returned when the model produced no content.
var ErrEmptyResponse = errors.New("llm: empty response")

// Generator is the subset of an eino chat model used here.
type Generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Client answers single questions with one model.
type Client struct {
	name string
	gen  Generator
}

// New wraps gen. name is the model identifier reported to callers.
func New(name string, gen Generator) *Client {
	return &Client{name: name, gen: gen}
}

// NewOpenAI builds a Client for an OpenAI-compatible endpoint such as Workers AI
// or Anthropic's compatibility API.
func NewOpenAI(ctx context.Context, cfg config.ModelConfig, timeout time.Duration) (*Client, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("llm: model %q is not configured", cfg.Name)
	}
	maxTokens := MaxOutputTokens
	temperature := float32(Temperature)

	chat, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Name,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
		Timeout:     timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: creating %s client: %w", cfg.Name, err)
	}
	return New(cfg.Name, chat), nil
}

// Name returns the short model name, without any provider path prefix.
func (c *Client) Name() string {
	if i := strings.LastIndex(c.name, "/"); i >= 0 {
		return c.name[i+1:]
	}
	return c.name
}

// Complete asks the model one question under the tutor system prompt.
func (c *Client) Complete(ctx context.Context, question string) (string, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(SystemPrompt),
		schema.UserMessage(question),
	}
	resp, err := c.gen.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("llm: %s: %w", c.Name(), err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("llm: %s: %w", c.Name(), ErrEmptyResponse)
	}
	return resp.Content, nil
}

// Acceptable reports whether a cheap-model answer passes the quality gate:
// long enough and free of refusal phrases.
func Acceptable(response string) bool {
	if len(response) < MinResponseLength {
		return false
	}
	for _, phrase := range refusalPhrases {
		if strings.Contains(response, phrase) {
			return false
		}
	}
	return true
}

// EstimateTokens approximates a token count as one token per four characters.
func EstimateTokens(text string) int64 {
	return int64(len([]rune(text)) / 4)
}
