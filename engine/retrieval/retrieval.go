// Package retrieval embeds queries, searches the vector index and turns raw
// index values into ranked, deduplicated search hits.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/WessleyAI/stylesearch/engine/domain"
	"github.com/WessleyAI/stylesearch/engine/embedding"
	"github.com/WessleyAI/stylesearch/engine/semantic"
	"github.com/WessleyAI/stylesearch/engine/similarity"
	"github.com/WessleyAI/stylesearch/pkg/imageprep"
	"github.com/WessleyAI/stylesearch/pkg/metrics"
)

// Searcher is the read side of the vector index.
type Searcher interface {
	Search(ctx context.Context, vector []float32, typeFilter domain.EmbeddingType, limit int) ([]semantic.RawHit, error)
}

// Embedder embeds queries.
type Embedder interface {
	embedding.TextEmbedder
	embedding.ImageEmbedder
}

// Limits.
const (
	DefaultTextLimit  = 2
	DefaultVideoLimit = 3
	DefaultImageTopK  = 2
	MaxImageTopK      = 20
)

// Options configures an Engine. Zero values take defaults.
type Options struct {
	TextLimit  int
	VideoLimit int
	Image      imageprep.Options
}

// Multimodal holds the two result lists of a free-text query.
type Multimodal struct {
	Text  []domain.SearchHit `json:"text"`
	Video []domain.SearchHit `json:"video"`
}

// Empty reports whether neither partition matched.
func (m Multimodal) Empty() bool {
	return len(m.Text) == 0 && len(m.Video) == 0
}

// Engine runs retrieval queries.
type Engine struct {
	embedder Embedder
	index    Searcher
	norm     similarity.Normalizer
	opts     Options
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// New creates an Engine. norm must use the convention of index.
func New(embedder Embedder, index Searcher, norm similarity.Normalizer, opts Options, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if opts.TextLimit <= 0 {
		opts.TextLimit = DefaultTextLimit
	}
	if opts.VideoLimit <= 0 {
		opts.VideoLimit = DefaultVideoLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{embedder: embedder, index: index, norm: norm, opts: opts, metrics: m, log: logger}
}

// RetrieveText returns the best text hits for query.
func (e *Engine) RetrieveText(ctx context.Context, query string) (hits []domain.SearchHit, err error) {
	start := time.Now()
	defer func() {
		e.metrics.ObserveSearch("text", time.Since(start), err, map[string]int{"text": len(hits)})
	}()

	vec, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return e.search(ctx, vec, domain.EmbeddingText, e.opts.TextLimit)
}

// RetrieveImage preprocesses an uploaded image and returns the topK best
// video segments. topK is clamped to [1, MaxImageTopK]; zero or less means
// DefaultImageTopK.
func (e *Engine) RetrieveImage(ctx context.Context, image []byte, topK int) (hits []domain.SearchHit, err error) {
	start := time.Now()
	defer func() {
		e.metrics.ObserveSearch("image", time.Since(start), err, map[string]int{"video": len(hits)})
	}()

	jpeg, err := imageprep.Prepare(image, e.opts.Image)
	if err != nil {
		return nil, fmt.Errorf("retrieval: image: %w", err)
	}
	vec, err := e.embedder.EmbedImage(ctx, jpeg)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed image: %w", err)
	}
	return e.search(ctx, vec, domain.EmbeddingVideo, ClampTopK(topK))
}

// RetrieveMultimodal embeds query once and searches both partitions with the
// same vector.
func (e *Engine) RetrieveMultimodal(ctx context.Context, query string) (res Multimodal, err error) {
	start := time.Now()
	defer func() {
		e.metrics.ObserveSearch("multimodal", time.Since(start), err,
			map[string]int{"text": len(res.Text), "video": len(res.Video)})
	}()

	vec, err := e.embedQuery(ctx, query)
	if err != nil {
		return Multimodal{}, err
	}
	text, err := e.search(ctx, vec, domain.EmbeddingText, e.opts.TextLimit)
	if err != nil {
		return Multimodal{}, err
	}
	video, err := e.search(ctx, vec, domain.EmbeddingVideo, e.opts.VideoLimit)
	if err != nil {
		return Multimodal{}, err
	}
	e.log.Debug("retrieval: multimodal", "text_hits", len(text), "video_hits", len(video))
	return Multimodal{Text: text, Video: video}, nil
}

func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if err := domain.ValidateQuery(query); err != nil {
		return nil, err
	}
	vec, err := e.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	return vec, nil
}

func (e *Engine) search(ctx context.Context, vec []float32, t domain.EmbeddingType, limit int) ([]domain.SearchHit, error) {
	raw, err := e.index.Search(ctx, vec, t, limit)
	if err != nil {
		return nil, fmt.Errorf("retrieval: search %s: %w", t, err)
	}
	hits := make([]domain.SearchHit, 0, len(raw))
	for _, r := range raw {
		if r.Type != t {
			continue
		}
		hits = append(hits, domain.HitFromMetadata(t, r.Metadata, r.Raw, e.norm.Normalize(r.Raw)))
	}
	if t == domain.EmbeddingVideo {
		hits = Dedupe(hits)
	}
	Rank(hits)
	return hits, nil
}

// ClampTopK bounds a requested result count for visual search.
func ClampTopK(k int) int {
	switch {
	case k <= 0:
		return DefaultImageTopK
	case k > MaxImageTopK:
		return MaxImageTopK
	default:
		return k
	}
}

// Dedupe drops video hits repeating an earlier (product, start, end) segment.
// The first occurrence wins.
func Dedupe(hits []domain.SearchHit) []domain.SearchHit {
	seen := make(map[domain.SegmentKey]struct{}, len(hits))
	out := hits[:0]
	for _, h := range hits {
		k := h.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, h)
	}
	return out
}

// Rank sorts hits by similarity, best first. Ties keep their order.
func Rank(hits []domain.SearchHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
}
