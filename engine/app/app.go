// Package app builds the service graph from configuration. Every binary
// constructs its dependencies through Build so the API, the worker and the
// CLI share one wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/stylesearch/engine/catalog"
	"github.com/WessleyAI/stylesearch/engine/embedding"
	"github.com/WessleyAI/stylesearch/engine/ingest"
	"github.com/WessleyAI/stylesearch/engine/rag"
	"github.com/WessleyAI/stylesearch/engine/retrieval"
	"github.com/WessleyAI/stylesearch/engine/semantic"
	"github.com/WessleyAI/stylesearch/engine/similarity"
	"github.com/WessleyAI/stylesearch/pkg/config"
	"github.com/WessleyAI/stylesearch/pkg/llm"
	"github.com/WessleyAI/stylesearch/pkg/metrics"
	"github.com/WessleyAI/stylesearch/pkg/resilience"
	"github.com/WessleyAI/stylesearch/pkg/telemetry"
	"github.com/WessleyAI/stylesearch/pkg/twelvelabs"
)

// Options selects optional startup work.
type Options struct {
	// ServiceName labels traces.
	ServiceName string
	// EnsureCollection creates the Qdrant collection and indexes on start.
	EnsureCollection bool
	// SkipExisting makes ingestion reject products the catalog already has.
	SkipExisting bool
}

// App holds the constructed components. Catalog and NATS are nil when not
// configured.
type App struct {
	Config    *config.Config
	Log       *slog.Logger
	Metrics   *metrics.Metrics
	Telemetry *telemetry.Provider

	Embedder  embedding.Client
	Store     *semantic.VectorStore
	Catalog   *catalog.Catalog
	NATS      *nats.Conn
	LLM       *llm.Client
	Pipeline  *ingest.Pipeline
	Retrieval *retrieval.Engine
	RAG       *rag.Service

	closers []func(context.Context) error
}

// Build connects to every configured backend. On error, whatever was already
// opened is closed again.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger, opts Options) (_ *App, err error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{Config: cfg, Log: log, Metrics: metrics.New()}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.Telemetry, err = telemetry.Init(ctx, telemetry.Config{
		ServiceName:  opts.ServiceName,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Telemetry.Shutdown)

	a.Embedder = NewEmbedder(cfg, a.Metrics)

	a.Store, err = semantic.New(cfg.QdrantURL, cfg.Collection, cfg.VectorDims)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return a.Store.Close() })
	if opts.EnsureCollection {
		if err := a.Store.EnsureCollection(ctx, cfg.VectorDims); err != nil {
			return nil, err
		}
	}

	if cfg.Neo4jURL != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return nil, fmt.Errorf("app: neo4j driver: %w", err)
		}
		a.closers = append(a.closers, driver.Close)
		a.Catalog = catalog.New(driver, log)
		if err := a.Catalog.EnsureSchema(ctx); err != nil {
			log.Warn("app: catalog schema", "err", err)
		}
	}

	if cfg.NATSURL != "" {
		a.NATS, err = nats.Connect(cfg.NATSURL, nats.Name("stylesearch-"+opts.ServiceName))
		if err != nil {
			return nil, fmt.Errorf("app: nats connect: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return a.NATS.Drain() })
	}

	deps := ingest.Deps{
		Embedder: a.Embedder,
		Index:    a.Store,
		Metrics:  a.Metrics,
		Logger:   log,
	}
	if a.Catalog != nil {
		deps.Registry = a.Catalog
	}
	a.Pipeline = ingest.NewPipeline(deps, ingest.Config{
		ClipLength:   cfg.ClipLength(),
		PollInterval: cfg.VideoPollInterval,
		VideoTimeout: cfg.VideoTimeout,
		SkipExisting: opts.SkipExisting,
	})

	norm, err := NewNormalizer(cfg)
	if err != nil {
		return nil, err
	}
	a.Retrieval = retrieval.New(a.Embedder, a.Store, norm, retrieval.Options{
		TextLimit:  cfg.TextLimit,
		VideoLimit: cfg.VideoLimit,
	}, a.Metrics, log)

	a.LLM = llm.New(llm.Config{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.ChatModel,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Breaker:     NewBreaker("llm", a.Metrics, log),
		Logger:      log,
	})
	a.RAG = rag.New(a.Retrieval, rag.NewComposer(a.LLM, rag.WithMetrics(a.Metrics), rag.WithLogger(log)), a.Metrics, log)

	log.Info("app: ready",
		"qdrant", cfg.QdrantURL,
		"collection", cfg.Collection,
		"embedding_provider", cfg.EmbeddingProvider,
		"catalog", a.Catalog != nil,
		"nats", a.NATS != nil,
		"tracing", a.Telemetry.Enabled(),
	)
	return a, nil
}

// Close releases every connection in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewEmbedder returns the configured embedding provider.
func NewEmbedder(cfg *config.Config, m *metrics.Metrics) embedding.Client {
	if cfg.EmbeddingProvider == config.ProviderHash {
		return embedding.NewHashEmbedder(cfg.VectorDims)
	}
	return twelvelabs.New(twelvelabs.Config{
		APIKey:  cfg.TwelveLabsAPIKey,
		BaseURL: cfg.TwelveLabsBaseURL,
		Model:   cfg.EmbeddingModel,
		Retries: cfg.EmbedRetries,
		Breaker: NewBreaker("twelvelabs", m, slog.Default()),
	})
}

// NewNormalizer builds the similarity normalizer for the configured
// convention.
func NewNormalizer(cfg *config.Config) (similarity.Normalizer, error) {
	conv, err := similarity.ParseConvention(strings.ToLower(cfg.SimilarityConvention))
	if err != nil {
		return similarity.Normalizer{}, err
	}
	n := similarity.New(conv)
	if cfg.SimilaritySigmoid {
		n = n.WithSigmoid(similarity.DefaultAlpha, similarity.DefaultBeta)
	}
	return n, nil
}

// NewBreaker returns a breaker that publishes its state to m and logs
// transitions.
func NewBreaker(name string, m *metrics.Metrics, log *slog.Logger) *resilience.Breaker {
	return resilience.NewBreaker(resilience.BreakerOpts{
		Name: name,
		OnStateChange: func(name string, from, to resilience.State) {
			m.SetBreakerState(name, int(to))
			log.Warn("breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}
