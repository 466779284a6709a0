// Package llm is a chat-completion client for OpenAI-compatible endpoints.
package llm

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/WessleyAI/stylesearch/engine/domain"
	"github.com/WessleyAI/stylesearch/pkg/resilience"
)

const (
	DefaultModel       = openai.GPT3Dot5Turbo
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 512
	DefaultTimeout     = 60 * time.Second

	providerName = "openai"
)

// ErrEmptyCompletion is returned when the endpoint answers without choices.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role
	Content string
}

// System returns a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Usage reports token counts of one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Duration         time.Duration
}

// Config configures a Client.
type Config struct {
	APIKey string
	// BaseURL overrides the OpenAI endpoint for compatible servers.
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	HTTPClient  *http.Client
	Breaker     *resilience.Breaker
	Logger      *slog.Logger
}

// Client sends chat completions.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	breaker     *resilience.Breaker
	log         *slog.Logger
}

// New creates a Client. Zero fields in cfg take their defaults.
func New(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = newHTTPClient(cfg.Timeout)
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewBreaker(resilience.BreakerOpts{Name: providerName})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = cfg.HTTPClient

	return &Client{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		breaker:     cfg.Breaker,
		log:         cfg.Logger,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Chat sends messages and returns the first choice. Failures are reported as
// *domain.ProviderError.
func (c *Client) Chat(ctx context.Context, messages []Message) (string, Usage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages:    convertMessages(messages),
	}

	resp, err := resilience.Execute(c.breaker, ctx, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		return c.client.CreateChatCompletion(ctx, req)
	})
	if err != nil {
		return "", Usage{}, &domain.ProviderError{Provider: providerName, Op: "chat", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, &domain.ProviderError{Provider: providerName, Op: "chat", Err: ErrEmptyCompletion}
	}

	usage := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		Duration:         time.Since(start),
	}
	c.log.Debug("llm: chat",
		"model", c.model,
		"messages", len(messages),
		"total_tokens", usage.TotalTokens,
		"duration", usage.Duration,
	)
	return resp.Choices[0].Message.Content, usage, nil
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	return out
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}
