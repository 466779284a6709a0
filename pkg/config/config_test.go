package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/stylesearch/pkg/config"
)

func minimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TWELVELABS_API_KEY", "tl-key")
	t.Setenv("OPENAI_API_KEY", "sk-key")
}

// unset clears keys for the test and restores them afterwards, so values
// loaded from a .env file do not leak into other tests.
func unset(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	minimalEnv(t)

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "localhost:6334", cfg.QdrantURL)
	assert.Equal(t, 1024, cfg.VectorDims)
	assert.Equal(t, config.ProviderTwelveLabs, cfg.EmbeddingProvider)
	assert.Equal(t, "gpt-3.5-turbo", cfg.ChatModel)
	assert.Equal(t, "score", cfg.SimilarityConvention)
	assert.Equal(t, 2, cfg.TextLimit)
	assert.Equal(t, 3, cfg.VideoLimit)
	assert.Equal(t, 2*time.Second, cfg.VideoPollInterval)
	assert.Equal(t, 10*time.Minute, cfg.VideoTimeout)
	assert.Equal(t, 6*time.Second, cfg.ClipLength())
	assert.Empty(t, cfg.NATSURL)
}

func TestLoad_FromEnvFile(t *testing.T) {
	minimalEnv(t)
	unset(t, "COLLECTION_NAME", "SIMILARITY_CONVENTION")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("COLLECTION_NAME=from_file\nSIMILARITY_CONVENTION=distance\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from_file", cfg.Collection)
	assert.Equal(t, "distance", cfg.SimilarityConvention)
}

func TestLoad_EnvironmentWinsOverFile(t *testing.T) {
	minimalEnv(t)
	t.Setenv("CHAT_MODEL", "gpt-4o-mini")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CHAT_MODEL=from-file\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.ChatModel)
}

func TestLoad_HashProvider(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "hash")
	t.Setenv("TWELVELABS_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:11434/v1")
	t.Setenv("VIDEO_POLL_INTERVAL", "10ms")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "none"))
	require.NoError(t, err)
	assert.Equal(t, config.ProviderHash, cfg.EmbeddingProvider)
	assert.Equal(t, 10*time.Millisecond, cfg.VideoPollInterval)
}

func TestLoad_BadValue(t *testing.T) {
	minimalEnv(t)
	t.Setenv("VECTOR_DIMS", "many")

	_, err := config.Load(filepath.Join(t.TempDir(), "none"))
	assert.Error(t, err)
}

func validConfig() config.Config {
	return config.Config{
		QdrantURL:            "localhost:6334",
		Collection:           "c",
		VectorDims:           1024,
		EmbeddingProvider:    config.ProviderTwelveLabs,
		TwelveLabsAPIKey:     "tl",
		VideoClipSeconds:     6,
		OpenAIAPIKey:         "sk",
		SimilarityConvention: "score",
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		errIs  error
	}{
		{"valid", func(*config.Config) {}, nil},
		{"missing qdrant url", func(c *config.Config) { c.QdrantURL = "" }, config.ErrMissingRequired},
		{"missing collection", func(c *config.Config) { c.Collection = "" }, config.ErrMissingRequired},
		{"zero dims", func(c *config.Config) { c.VectorDims = 0 }, config.ErrInvalid},
		{"missing twelvelabs key", func(c *config.Config) { c.TwelveLabsAPIKey = "" }, config.ErrMissingRequired},
		{"hash needs no key", func(c *config.Config) {
			c.EmbeddingProvider = config.ProviderHash
			c.TwelveLabsAPIKey = ""
		}, nil},
		{"unknown provider", func(c *config.Config) { c.EmbeddingProvider = "clip" }, config.ErrInvalid},
		{"too many retries", func(c *config.Config) { c.EmbedRetries = 3 }, config.ErrInvalid},
		{"zero clip", func(c *config.Config) { c.VideoClipSeconds = 0 }, config.ErrInvalid},
		{"missing openai key", func(c *config.Config) { c.OpenAIAPIKey = "" }, config.ErrMissingRequired},
		{"local llm without key", func(c *config.Config) {
			c.OpenAIAPIKey = ""
			c.OpenAIBaseURL = "http://localhost:8000/v1"
		}, nil},
		{"unknown convention", func(c *config.Config) { c.SimilarityConvention = "dot" }, config.ErrInvalid},
		{"convention is case-insensitive", func(c *config.Config) { c.SimilarityConvention = "Distance" }, nil},
		{"negative limit", func(c *config.Config) { c.VideoLimit = -1 }, config.ErrInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errIs == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.errIs)
		})
	}
}
