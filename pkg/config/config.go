// Package config loads service configuration from the environment and
// optional .env files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalid         = errors.New("invalid configuration")
)

// Embedding providers.
const (
	ProviderTwelveLabs = "twelvelabs"
	ProviderHash       = "hash"
)

type Config struct {
	Port       string `envconfig:"PORT" default:"8080"`
	CORSOrigin string `envconfig:"CORS_ORIGIN" default:"*"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`

	// Vector index
	QdrantURL  string `envconfig:"QDRANT_URL" default:"localhost:6334"`
	Collection string `envconfig:"COLLECTION_NAME" default:"fashion_products"`
	VectorDims int    `envconfig:"VECTOR_DIMS" default:"1024"`

	// Embedding provider
	EmbeddingProvider string        `envconfig:"EMBEDDING_PROVIDER" default:"twelvelabs"`
	TwelveLabsAPIKey  string        `envconfig:"TWELVELABS_API_KEY"`
	TwelveLabsBaseURL string        `envconfig:"TWELVELABS_BASE_URL"`
	EmbeddingModel    string        `envconfig:"EMBEDDING_MODEL" default:"Marengo-retrieval-2.7"`
	EmbedRetries      int           `envconfig:"EMBED_RETRIES" default:"0"`
	VideoClipSeconds  int           `envconfig:"VIDEO_CLIP_SECONDS" default:"6"`
	VideoPollInterval time.Duration `envconfig:"VIDEO_POLL_INTERVAL" default:"2s"`
	VideoTimeout      time.Duration `envconfig:"VIDEO_TIMEOUT" default:"10m"`

	// Chat model
	OpenAIAPIKey  string  `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string  `envconfig:"OPENAI_BASE_URL"`
	ChatModel     string  `envconfig:"CHAT_MODEL" default:"gpt-3.5-turbo"`
	Temperature   float32 `envconfig:"CHAT_TEMPERATURE" default:"0.7"`
	MaxTokens     int     `envconfig:"CHAT_MAX_TOKENS" default:"512"`

	// Retrieval
	SimilarityConvention string `envconfig:"SIMILARITY_CONVENTION" default:"score"`
	SimilaritySigmoid    bool   `envconfig:"SIMILARITY_SIGMOID" default:"false"`
	TextLimit            int    `envconfig:"TEXT_LIMIT" default:"2"`
	VideoLimit           int    `envconfig:"VIDEO_LIMIT" default:"3"`

	// Catalog and queue. Empty disables them.
	Neo4jURL  string `envconfig:"NEO4J_URL"`
	Neo4jUser string `envconfig:"NEO4J_USER" default:"neo4j"`
	Neo4jPass string `envconfig:"NEO4J_PASS"`
	NATSURL   string `envconfig:"NATS_URL"`

	OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
}

// Load reads .env files (missing ones are ignored, ".env" when none are
// given), then the environment, and validates the result. Variables already
// set in the environment win over .env values.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.QdrantURL == "" {
		return fmt.Errorf("%w: QDRANT_URL", ErrMissingRequired)
	}
	if c.Collection == "" {
		return fmt.Errorf("%w: COLLECTION_NAME", ErrMissingRequired)
	}
	if c.VectorDims <= 0 {
		return fmt.Errorf("%w: VECTOR_DIMS must be positive", ErrInvalid)
	}

	switch c.EmbeddingProvider {
	case ProviderTwelveLabs:
		if c.TwelveLabsAPIKey == "" {
			return fmt.Errorf("%w: TWELVELABS_API_KEY", ErrMissingRequired)
		}
	case ProviderHash:
	default:
		return fmt.Errorf("%w: EMBEDDING_PROVIDER %q", ErrInvalid, c.EmbeddingProvider)
	}
	if c.EmbedRetries < 0 || c.EmbedRetries > 1 {
		return fmt.Errorf("%w: EMBED_RETRIES must be 0 or 1", ErrInvalid)
	}
	if c.VideoClipSeconds <= 0 {
		return fmt.Errorf("%w: VIDEO_CLIP_SECONDS must be positive", ErrInvalid)
	}

	// A custom base URL points at a local OpenAI-compatible server, which
	// usually needs no key.
	if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY", ErrMissingRequired)
	}

	switch strings.ToLower(c.SimilarityConvention) {
	case "score", "distance":
	default:
		return fmt.Errorf("%w: SIMILARITY_CONVENTION %q", ErrInvalid, c.SimilarityConvention)
	}
	if c.TextLimit < 0 || c.VideoLimit < 0 {
		return fmt.Errorf("%w: TEXT_LIMIT and VIDEO_LIMIT must not be negative", ErrInvalid)
	}
	return nil
}

// ClipLength returns the video segment length.
func (c *Config) ClipLength() time.Duration {
	return time.Duration(c.VideoClipSeconds) * time.Second
}
