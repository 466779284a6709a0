// Package ingest embeds products and commits their text and video-segment
// records to the vector index.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/stylesearch/engine/domain"
	"github.com/WessleyAI/stylesearch/engine/embedding"
	"github.com/WessleyAI/stylesearch/pkg/fn"
	"github.com/WessleyAI/stylesearch/pkg/metrics"
)

// Embedder is the part of the embedding provider ingestion needs.
type Embedder interface {
	embedding.TextEmbedder
	embedding.VideoEmbedder
}

// Index is the write side of the vector index.
type Index interface {
	InsertBatch(ctx context.Context, records []domain.EmbeddingRecord) error
	DeleteByIDs(ctx context.Context, ids []int64) error
}

// Registry tracks ingested products. It is optional.
type Registry interface {
	Exists(ctx context.Context, productID string) (bool, error)
	Register(ctx context.Context, p domain.Product, records []domain.EmbeddingRecord) error
}

// Config tunes the pipeline. Zero values take defaults.
type Config struct {
	ClipLength   time.Duration
	PollInterval time.Duration
	// VideoTimeout bounds the wait for the segmentation task.
	VideoTimeout time.Duration
	// SkipExisting rejects products the registry already knows with
	// domain.ErrAlreadyIngested.
	SkipExisting bool
}

// DefaultVideoTimeout bounds a single video segmentation task.
const DefaultVideoTimeout = 10 * time.Minute

// Deps holds the external dependencies of the pipeline.
type Deps struct {
	Embedder Embedder
	Index    Index
	Registry Registry
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// NewID overrides record id generation.
	NewID func() int64
}

// Result summarizes a successful ingestion.
type Result struct {
	ProductID    string  `json:"product_id"`
	TextRecords  int     `json:"text_records"`
	VideoRecords int     `json:"video_records"`
	RecordIDs    []int64 `json:"record_ids"`
}

// job is the value flowing between stages.
type job struct {
	Product  domain.Product
	Text     []float32
	Segments []embedding.Segment
	Records  []domain.EmbeddingRecord
}

// Pipeline runs validate → embed text → embed video → build → commit →
// register.
type Pipeline struct {
	deps Deps
	cfg  Config
	log  *slog.Logger
	run  fn.Stage[domain.Product, Result]
}

// NewPipeline wires the stages.
func NewPipeline(deps Deps, cfg Config) *Pipeline {
	if cfg.ClipLength <= 0 {
		cfg.ClipLength = embedding.DefaultClipLength
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = embedding.DefaultPollInterval
	}
	if cfg.VideoTimeout <= 0 {
		cfg.VideoTimeout = DefaultVideoTimeout
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{deps: deps, cfg: cfg, log: log}

	validated := fn.TracedStage("ingest.validate", p.validate)
	text := fn.Then(validated, fn.Then(loggedTap[job]("embed_text", log), fn.TracedStage("ingest.embed_text", p.embedText)))
	video := fn.Then(text, fn.Then(loggedTap[job]("embed_video", log), fn.TracedStage("ingest.embed_video", p.embedVideo)))
	built := fn.Then(video, fn.MapStage(p.build))
	committed := fn.Then(built, fn.Then(loggedTap[job]("commit", log), fn.TracedStage("ingest.commit", p.commit)))
	p.run = fn.Then(committed, fn.TracedStage("ingest.register", p.register))
	return p
}

// Ingest embeds and commits a product. Failures carry the underlying error;
// nothing is retried here.
func (p *Pipeline) Ingest(ctx context.Context, product domain.Product) (Result, error) {
	start := time.Now()
	res, err := p.run(ctx, product).Unwrap()
	outcome := "ok"
	switch {
	case errors.Is(err, domain.ErrAlreadyIngested):
		outcome = "skipped"
	case err != nil:
		outcome = "error"
	}
	p.deps.Metrics.ObserveIngest(outcome, time.Since(start), res.TextRecords, res.VideoRecords)
	if err != nil {
		p.log.Error("ingest: failed", "product_id", product.ProductID, "err", err)
		return Result{}, err
	}
	p.log.Info("ingest: done", "product_id", res.ProductID,
		"text_records", res.TextRecords, "video_records", res.VideoRecords,
		"duration", time.Since(start))
	return res, nil
}

func (p *Pipeline) validate(ctx context.Context, product domain.Product) fn.Result[job] {
	if err := domain.ValidateProduct(product); err != nil {
		return fn.Err[job](err)
	}
	j := job{Product: product}
	if p.deps.Registry == nil {
		return fn.Ok(j)
	}
	known, err := p.deps.Registry.Exists(ctx, product.ProductID)
	if err != nil {
		// The registry is advisory.
		p.log.Warn("ingest: registry lookup failed", "product_id", product.ProductID, "err", err)
		return fn.Ok(j)
	}
	if known && p.cfg.SkipExisting {
		return fn.Err[job](fmt.Errorf("ingest: %s: %w", product.ProductID, domain.ErrAlreadyIngested))
	}
	return fn.Ok(j)
}

func (p *Pipeline) embedText(ctx context.Context, j job) fn.Result[job] {
	vec, err := p.deps.Embedder.EmbedText(ctx, EmbeddingText(j.Product))
	if err != nil {
		return fn.Err[job](fmt.Errorf("ingest: embed text: %w", err))
	}
	j.Text = vec
	return fn.Ok(j)
}

func (p *Pipeline) embedVideo(ctx context.Context, j job) fn.Result[job] {
	segments, err := embedding.EmbedVideo(ctx, p.deps.Embedder, j.Product.VideoURL, p.cfg.ClipLength, embedding.WaitOptions{
		Interval: p.cfg.PollInterval,
		Timeout:  p.cfg.VideoTimeout,
		Observer: func(taskID string, status embedding.TaskStatus) {
			p.deps.Metrics.ObserveVideoPoll(string(status))
			p.log.Debug("ingest: video task", "task_id", taskID, "status", status, "product_id", j.Product.ProductID)
		},
	})
	if err != nil {
		return fn.Err[job](fmt.Errorf("ingest: embed video: %w", err))
	}
	j.Segments = segments
	return fn.Ok(j)
}

func (p *Pipeline) build(j job) job {
	j.Records = BuildRecords(j.Product, j.Text, j.Segments, p.deps.NewID)
	return j
}

// commit writes every record in one batch. If the batch fails, the ids it
// staged are deleted again; records from earlier ingestions stay.
func (p *Pipeline) commit(ctx context.Context, j job) fn.Result[job] {
	err := p.deps.Index.InsertBatch(ctx, j.Records)
	if err == nil {
		return fn.Ok(j)
	}
	ids := make([]int64, len(j.Records))
	for i, r := range j.Records {
		ids[i] = r.ID
	}
	if derr := p.deps.Index.DeleteByIDs(context.WithoutCancel(ctx), ids); derr != nil {
		p.log.Error("ingest: compensating delete failed", "product_id", j.Product.ProductID, "ids", len(ids), "err", derr)
	}
	return fn.Err[job](fmt.Errorf("ingest: commit %d records: %w", len(j.Records), err))
}

func (p *Pipeline) register(ctx context.Context, j job) fn.Result[Result] {
	res := Result{
		ProductID:    j.Product.ProductID,
		TextRecords:  1,
		VideoRecords: len(j.Records) - 1,
		RecordIDs:    make([]int64, len(j.Records)),
	}
	for i, r := range j.Records {
		res.RecordIDs[i] = r.ID
	}
	if p.deps.Registry != nil {
		if err := p.deps.Registry.Register(ctx, j.Product, j.Records); err != nil {
			p.log.Warn("ingest: registry update failed", "product_id", j.Product.ProductID, "err", err)
		}
	}
	return fn.Ok(res)
}

// loggedTap logs stage entry.
func loggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return fn.TapStage(func(ctx context.Context, _ T) {
		log.DebugContext(ctx, "stage.enter", "stage", name)
	})
}
