package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	openai "github.com/sashabaranov/go-openai"
)

// Defaults target Gemini's OpenAI-compatible endpoint.
const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultModel   = "gemini-2.5-flash"
	DefaultTimeout = 2 * time.Minute

	pingPrompt = "Hello, this is a test message."
)

// ErrMissingAPIKey is returned when no LLM credential is configured.
var ErrMissingAPIKey = errors.New("LLM API key not configured")

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gradeflow",
		Subsystem: "llm",
		Name:      "request_duration_seconds",
		Help:      "Duration of LLM generate requests",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
	}, []string{"model"})

	requestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gradeflow",
		Subsystem: "llm",
		Name:      "request_failures_total",
		Help:      "Number of failed LLM generate requests",
	}, []string{"model"})
)

// Generator produces free-form text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config holds the LLM connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// Timeout bounds a single request; zero disables the bound.
	Timeout time.Duration
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

// New creates a new LLM client. It returns ErrMissingAPIKey when cfg carries no key.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Generate sends prompt as a single user message and returns the model's text reply.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	requestDuration.WithLabelValues(c.model).Observe(time.Since(start).Seconds())
	if err != nil {
		requestFailures.WithLabelValues(c.model).Inc()
		return "", fmt.Errorf("LLM API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		requestFailures.WithLabelValues(c.model).Inc()
		return "", fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "model", c.model, "chars", len(raw))
	return raw, nil
}

// Ping checks connectivity with a trivial prompt. Any successful reply counts as connected.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.Generate(ctx, pingPrompt); err != nil {
		return fmt.Errorf("LLM ping: %w", err)
	}
	return nil
}
