// Package rag answers shopping questions. It retrieves matching products and
// video segments, builds a grounded prompt and asks a chat model for the
// answer, returning the sources alongside it.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/WessleyAI/stylesearch/engine/domain"
	"github.com/WessleyAI/stylesearch/engine/retrieval"
	"github.com/WessleyAI/stylesearch/pkg/llm"
	"github.com/WessleyAI/stylesearch/pkg/metrics"
)

// Retriever runs the searches behind the service.
type Retriever interface {
	RetrieveText(ctx context.Context, query string) ([]domain.SearchHit, error)
	RetrieveImage(ctx context.Context, image []byte, topK int) ([]domain.SearchHit, error)
	RetrieveMultimodal(ctx context.Context, query string) (retrieval.Multimodal, error)
}

// Chatter is a chat-completion backend.
type Chatter interface {
	Chat(ctx context.Context, messages []llm.Message) (string, llm.Usage, error)
	Model() string
}

// DefaultSystemPrompt frames the model as a shopping advisor.
const DefaultSystemPrompt = `You are a professional fashion advisor and AI shopping assistant.
Use only the products in the context.
First answer the customer's question directly.
Then describe the most relevant products: their key features, fit and how to style them.
Finish with brief general fashion advice that fits the request.`

// Composer turns retrieved hits into a RagResponse.
type Composer struct {
	chat    Chatter
	prompt  string
	metrics *metrics.Metrics
	log     *slog.Logger
}

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(p string) ComposerOption {
	return func(c *Composer) { c.prompt = p }
}

// WithMetrics records response outcomes.
func WithMetrics(m *metrics.Metrics) ComposerOption {
	return func(c *Composer) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ComposerOption {
	return func(c *Composer) { c.log = l }
}

// NewComposer creates a Composer.
func NewComposer(chat Chatter, opts ...ComposerOption) *Composer {
	c := &Composer{chat: chat, prompt: DefaultSystemPrompt, log: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Compose asks the model about query given the hits. With no hits it returns
// the no-matches response without calling the model. A model failure keeps
// the sources and swaps the answer for a fixed apology.
func (c *Composer) Compose(ctx context.Context, text, video []domain.SearchHit, query string) domain.RagResponse {
	if len(text) == 0 && len(video) == 0 {
		c.metrics.ObserveResponse("no_matches")
		return domain.NoMatchesResponse()
	}
	meta := domain.NewResponseMetadata(text, video)

	answer, err := c.generate(ctx, query, BuildContext(text, video))
	if err != nil {
		c.log.Error("rag: generation failed", "err", err)
		c.metrics.ObserveResponse("generation_failed")
		return domain.RagResponse{Response: domain.GenerationMessage, Metadata: meta}
	}
	c.metrics.ObserveResponse("answered")
	return domain.RagResponse{Response: answer, Metadata: meta}
}

func (c *Composer) generate(ctx context.Context, query, sources string) (string, error) {
	answer, usage, err := c.chat.Chat(ctx, []llm.Message{
		llm.System(c.prompt),
		llm.User(UserTurn(query, sources)),
	})
	if err != nil {
		return "", &domain.GenerationError{Model: c.chat.Model(), Err: err}
	}
	c.log.Debug("rag: answered", "model", c.chat.Model(), "total_tokens", usage.TotalTokens)
	return answer, nil
}

// UserTurn renders the user message sent to the model.
func UserTurn(query, sources string) string {
	return fmt.Sprintf("Question: %s\n\nContext: %s", query, sources)
}

// BuildContext renders the hits as prompt context. Text hits become product
// blocks and video hits one sentence each. Vectors never appear.
func BuildContext(text, video []domain.SearchHit) string {
	parts := make([]string, 0, len(text)+len(video))
	for _, h := range text {
		parts = append(parts, fmt.Sprintf("Product: %s\nDescription: %s\nLink: %s", h.Title, h.Description, h.Link))
	}
	for _, h := range video {
		k := h.Key()
		parts = append(parts, fmt.Sprintf("Video match for %s: segment %ss-%ss (%s%% match).",
			h.Title, num(k.Start), num(k.End), num(h.Similarity)))
	}
	return strings.Join(parts, "\n\n")
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Service is the query-side entry point used by the HTTP API and the CLI.
type Service struct {
	retriever Retriever
	composer  *Composer
	metrics   *metrics.Metrics
	log       *slog.Logger
}

// New creates a Service.
func New(r Retriever, c *Composer, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{retriever: r, composer: c, metrics: m, log: logger}
}

// Ask answers a free-text question. It never fails: internal errors are
// logged and reported with domain.ErrorResponse.
func (s *Service) Ask(ctx context.Context, query string) domain.RagResponse {
	res, err := s.retriever.RetrieveMultimodal(ctx, query)
	if err != nil {
		s.log.Error("rag: retrieval failed", "err", err)
		s.metrics.ObserveResponse("error")
		return domain.ErrorResponse()
	}
	return s.composer.Compose(ctx, res.Text, res.Video, query)
}

// SearchText returns the best text hits for query.
func (s *Service) SearchText(ctx context.Context, query string) ([]domain.SearchHit, error) {
	return s.retriever.RetrieveText(ctx, query)
}

// SearchImage returns the video segments closest to an uploaded image.
func (s *Service) SearchImage(ctx context.Context, image []byte, topK int) ([]domain.SearchHit, error) {
	return s.retriever.RetrieveImage(ctx, image, topK)
}
