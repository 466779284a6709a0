package retrieval

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/WessleyAI/stylesearch/engine/domain"
	"github.com/WessleyAI/stylesearch/engine/embedding"
	"github.com/WessleyAI/stylesearch/engine/ingest"
	"github.com/WessleyAI/stylesearch/engine/semantic"
	"github.com/WessleyAI/stylesearch/engine/similarity"
)

// --- Mocks ---

// memIndex is an in-memory index that reports cosine distance.
type memIndex struct {
	mu      sync.Mutex
	records []domain.EmbeddingRecord
}

func (m *memIndex) InsertBatch(_ context.Context, records []domain.EmbeddingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return nil
}

func (m *memIndex) DeleteByIDs(context.Context, []int64) error { return nil }

func (m *memIndex) Search(_ context.Context, vec []float32, t domain.EmbeddingType, limit int) ([]semantic.RawHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hits []semantic.RawHit
	for _, r := range m.records {
		if r.Type != t {
			continue
		}
		hits = append(hits, semantic.RawHit{ID: r.ID, Raw: 1 - cosine(vec, r.Vector), Type: r.Type, Metadata: r.Metadata})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Raw < hits[j].Raw })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type stubSearcher struct {
	hits      map[domain.EmbeddingType][]semantic.RawHit
	err       error
	lastLimit map[domain.EmbeddingType]int
	calls     int
}

func (s *stubSearcher) Search(_ context.Context, _ []float32, t domain.EmbeddingType, limit int) ([]semantic.RawHit, error) {
	s.calls++
	if s.lastLimit == nil {
		s.lastLimit = map[domain.EmbeddingType]int{}
	}
	s.lastLimit[t] = limit
	if s.err != nil {
		return nil, &domain.IndexSearchError{Filter: t, Err: s.err}
	}
	return s.hits[t], nil
}

type countingEmbedder struct {
	*embedding.HashEmbedder
	textCalls  int
	imageCalls int
}

func (c *countingEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	c.textCalls++
	return c.HashEmbedder.EmbedText(ctx, text)
}

func (c *countingEmbedder) EmbedImage(ctx context.Context, img []byte) ([]float32, error) {
	c.imageCalls++
	return c.HashEmbedder.EmbedImage(ctx, img)
}

// fixedEmbedder embeds every text and image to the same vector.
type fixedEmbedder struct {
	vec []float32
}

func (f fixedEmbedder) EmbedText(context.Context, string) ([]float32, error)  { return f.vec, nil }
func (f fixedEmbedder) EmbedImage(context.Context, []byte) ([]float32, error) { return f.vec, nil }

// lookupEmbedder maps known texts to fixed vectors and falls back to hashing.
type lookupEmbedder struct {
	*embedding.HashEmbedder
	vectors map[string][]float32
}

func (l *lookupEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if v, ok := l.vectors[text]; ok {
		return v, nil
	}
	return l.HashEmbedder.EmbedText(ctx, text)
}

// --- Helpers ---

var catalog = []domain.Product{
	{ProductID: "P1", Title: "Black Dress", Description: "Elegant evening wear", Link: "http://x/1", VideoURL: "http://v/1.mp4"},
	{ProductID: "P2", Title: "Denim Jacket", Description: "Washed blue cotton", Link: "http://x/2", VideoURL: "http://v/2.mp4"},
	{ProductID: "P3", Title: "White Sneakers", Description: "Leather low tops", Link: "http://x/3", VideoURL: "http://v/3.mp4"},
}

func seeded(t *testing.T, emb ingest.Embedder) *memIndex {
	t.Helper()
	idx := &memIndex{}
	p := ingest.NewPipeline(ingest.Deps{Embedder: emb, Index: idx}, ingest.Config{PollInterval: time.Millisecond})
	for _, prod := range catalog {
		if _, err := p.Ingest(context.Background(), prod); err != nil {
			t.Fatal(err)
		}
	}
	return idx
}

func clip(product string, start, end, raw float64) semantic.RawHit {
	m := domain.Metadata{ProductID: product, Title: product}.WithClip(start, end)
	return semantic.RawHit{Raw: raw, Type: domain.EmbeddingVideo, Metadata: m}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	img.Set(3, 3, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// --- Tests ---

func TestRoundTrip_ExactTemplateScoresHundred(t *testing.T) {
	emb := embedding.NewHashEmbedder(64)
	idx := seeded(t, emb)
	e := New(emb, idx, similarity.New(similarity.Distance), Options{}, nil, nil)

	hits, err := e.RetrieveText(context.Background(), ingest.EmbeddingText(catalog[0]))
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != DefaultTextLimit {
		t.Fatalf("hits = %d, want %d", len(hits), DefaultTextLimit)
	}
	if hits[0].ProductID != "P1" || hits[0].Similarity != 100 {
		t.Fatalf("top hit = %s at %v", hits[0].ProductID, hits[0].Similarity)
	}
	if hits[0].Title != "Black Dress" || hits[0].Link != "http://x/1" || hits[0].Type != domain.EmbeddingText {
		t.Fatalf("metadata lost: %+v", hits[0])
	}
	for _, h := range hits {
		if h.Similarity < 0 || h.Similarity > 100 {
			t.Fatalf("similarity out of range: %v", h.Similarity)
		}
	}
}

func TestRetrieveText_SingleProductIdenticalVector(t *testing.T) {
	vec := []float32{0.3, -0.1, 0.7, 0.2}
	idx := &memIndex{}
	if err := idx.InsertBatch(context.Background(), ingest.BuildRecords(catalog[0], vec, nil, nil)); err != nil {
		t.Fatal(err)
	}
	e := New(fixedEmbedder{vec: vec}, idx, similarity.New(similarity.Distance), Options{}, nil, nil)

	hits, err := e.RetrieveText(context.Background(), "black dress")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
	if hits[0].ProductID != "P1" || hits[0].Similarity != 100.0 {
		t.Fatalf("hit = %s at %v", hits[0].ProductID, hits[0].Similarity)
	}
}

func TestRoundTrip_TitleFindsProduct(t *testing.T) {
	const dims = 8
	emb := &lookupEmbedder{HashEmbedder: embedding.NewHashEmbedder(dims), vectors: map[string][]float32{}}
	for i, p := range catalog {
		v := make([]float32, dims)
		v[i] = 1
		emb.vectors[p.Title] = v
		emb.vectors[ingest.EmbeddingText(p)] = v
	}
	idx := seeded(t, emb)
	e := New(emb, idx, similarity.New(similarity.Distance), Options{}, nil, nil)

	for _, p := range catalog {
		hits, err := e.RetrieveText(context.Background(), p.Title)
		if err != nil {
			t.Fatal(err)
		}
		found := false
		for _, h := range hits[:min(2, len(hits))] {
			if h.ProductID == p.ProductID {
				found = true
			}
		}
		if !found {
			t.Fatalf("title %q: %s not in top 2: %+v", p.Title, p.ProductID, hits)
		}
	}
}

func TestMultimodal_PartitionsStaySeparate(t *testing.T) {
	emb := embedding.NewHashEmbedder(32)
	idx := seeded(t, emb)
	e := New(emb, idx, similarity.New(similarity.Distance), Options{}, nil, nil)

	res, err := e.RetrieveMultimodal(context.Background(), "black dress")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Text) != DefaultTextLimit || len(res.Video) != DefaultVideoLimit {
		t.Fatalf("got %d text, %d video", len(res.Text), len(res.Video))
	}
	for _, h := range res.Video {
		if h.Type != domain.EmbeddingVideo || h.StartTime == nil {
			t.Fatalf("video search returned %+v", h)
		}
	}
	for _, h := range res.Text {
		if h.Type != domain.EmbeddingText {
			t.Fatalf("text search returned %+v", h)
		}
	}
}

func TestMultimodal_EmbedsOnce(t *testing.T) {
	emb := &countingEmbedder{HashEmbedder: embedding.NewHashEmbedder(8)}
	s := &stubSearcher{}
	e := New(emb, s, similarity.New(similarity.Score), Options{TextLimit: 4, VideoLimit: 7}, nil, nil)

	res, err := e.RetrieveMultimodal(context.Background(), "red scarf")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Empty() {
		t.Fatalf("expected no hits, got %+v", res)
	}
	if emb.textCalls != 1 {
		t.Fatalf("embed calls = %d", emb.textCalls)
	}
	if s.lastLimit[domain.EmbeddingText] != 4 || s.lastLimit[domain.EmbeddingVideo] != 7 {
		t.Fatalf("limits = %v", s.lastLimit)
	}
}

func TestMultimodal_DedupesVideoBeforeRanking(t *testing.T) {
	s := &stubSearcher{hits: map[domain.EmbeddingType][]semantic.RawHit{
		domain.EmbeddingVideo: {
			clip("P1", 0, 6, 0.2),
			clip("P2", 0, 6, 0.9),
			clip("P1", 0, 6, 0.95),
			clip("P1", 6, 12, 0.2),
		},
	}}
	e := New(embedding.NewHashEmbedder(8), s, similarity.New(similarity.Score), Options{}, nil, nil)

	res, err := e.RetrieveMultimodal(context.Background(), "dress")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Video) != 3 {
		t.Fatalf("video hits = %d, want 3", len(res.Video))
	}
	if res.Video[0].ProductID != "P2" {
		t.Fatalf("best hit = %s, want P2", res.Video[0].ProductID)
	}
	// first P1 0-6 occurrence (0.2) wins over the later 0.95 duplicate
	if res.Video[1].Raw != 0.2 || *res.Video[1].StartTime != 0 {
		t.Fatalf("unexpected dedup winner %+v", res.Video[1])
	}
	// equal similarity keeps index order
	if *res.Video[2].StartTime != 6 {
		t.Fatalf("tie order broken: %+v", res.Video[2])
	}
}

func TestRetrieveText_RejectsBadQuery(t *testing.T) {
	emb := &countingEmbedder{HashEmbedder: embedding.NewHashEmbedder(8)}
	e := New(emb, &stubSearcher{}, similarity.New(similarity.Score), Options{}, nil, nil)

	if _, err := e.RetrieveText(context.Background(), "   "); !errors.Is(err, domain.ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
	long := string(bytes.Repeat([]byte("a"), domain.MaxQueryLength+1))
	if _, err := e.RetrieveMultimodal(context.Background(), long); !errors.Is(err, domain.ErrQueryTooLong) {
		t.Fatalf("expected ErrQueryTooLong, got %v", err)
	}
	if emb.textCalls != 0 {
		t.Fatal("invalid queries must not be embedded")
	}
}

func TestRetrieve_SearchErrorPropagates(t *testing.T) {
	e := New(embedding.NewHashEmbedder(8), &stubSearcher{err: errors.New("qdrant down")},
		similarity.New(similarity.Score), Options{}, nil, nil)

	_, err := e.RetrieveMultimodal(context.Background(), "dress")
	var se *domain.IndexSearchError
	if !errors.As(err, &se) || se.Filter != domain.EmbeddingText {
		t.Fatalf("expected IndexSearchError, got %v", err)
	}
}

func TestRetrieveImage(t *testing.T) {
	emb := &countingEmbedder{HashEmbedder: embedding.NewHashEmbedder(8)}
	s := &stubSearcher{hits: map[domain.EmbeddingType][]semantic.RawHit{
		domain.EmbeddingVideo: {clip("P1", 0, 6, 0.4), clip("P3", 6, 12, 0.8)},
	}}
	e := New(emb, s, similarity.New(similarity.Score), Options{}, nil, nil)

	hits, err := e.RetrieveImage(context.Background(), pngBytes(t), 50)
	if err != nil {
		t.Fatal(err)
	}
	if s.lastLimit[domain.EmbeddingVideo] != MaxImageTopK {
		t.Fatalf("limit = %d", s.lastLimit[domain.EmbeddingVideo])
	}
	if _, ok := s.lastLimit[domain.EmbeddingText]; ok {
		t.Fatal("visual search must not touch the text partition")
	}
	if len(hits) != 2 || hits[0].ProductID != "P3" || hits[0].Similarity != 90 {
		t.Fatalf("unexpected hits %+v", hits)
	}
	if emb.imageCalls != 1 {
		t.Fatalf("image embeds = %d", emb.imageCalls)
	}
}

func TestRetrieveImage_RejectsGarbage(t *testing.T) {
	s := &stubSearcher{}
	e := New(embedding.NewHashEmbedder(8), s, similarity.New(similarity.Score), Options{}, nil, nil)
	if _, err := e.RetrieveImage(context.Background(), []byte("nope"), 2); err == nil {
		t.Fatal("expected decode error")
	}
	if s.calls != 0 {
		t.Fatal("index must not be searched")
	}
}

func TestClampTopK(t *testing.T) {
	cases := map[int]int{-3: DefaultImageTopK, 0: DefaultImageTopK, 1: 1, 7: 7, 20: 20, 21: 20}
	for in, want := range cases {
		if got := ClampTopK(in); got != want {
			t.Errorf("ClampTopK(%d) = %d, want %d", in, got, want)
		}
	}
}
