// Package twelvelabs provides a TwelveLabs Embed API implementation of
// embedding.Client.
package twelvelabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/WessleyAI/stylesearch/engine/domain"
	"github.com/WessleyAI/stylesearch/engine/embedding"
	"github.com/WessleyAI/stylesearch/pkg/fn"
	"github.com/WessleyAI/stylesearch/pkg/resilience"
)

const (
	DefaultBaseURL = "https://api.twelvelabs.io/v1.2"
	DefaultModel   = "Marengo-retrieval-2.7"
	DefaultDims    = 1024

	providerName = "twelvelabs"
)

// Config configures a Client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Retries is the number of automatic retries for text and image embeds.
	// Only 0 and 1 are honoured.
	Retries    int
	RetryWait  time.Duration
	RateLimit  rate.Limit
	Burst      int
	HTTPClient *http.Client
	Breaker    *resilience.Breaker
}

// Client talks to the TwelveLabs Embed API over HTTP.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	retry   fn.RetryOpts
	limiter *rate.Limiter
	http    *http.Client
	breaker *resilience.Breaker
}

var _ embedding.Client = (*Client)(nil)

// New creates a Client. Zero fields in cfg take their defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = rate.Every(200 * time.Millisecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewBreaker(resilience.BreakerOpts{Name: providerName})
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	if retries > 1 {
		retries = 1
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		retry: fn.RetryOpts{
			Attempts:  1 + retries,
			Wait:      cfg.RetryWait,
			Retryable: retryable,
		},
		limiter: rate.NewLimiter(cfg.RateLimit, cfg.Burst),
		http:    cfg.HTTPClient,
		breaker: cfg.Breaker,
	}
}

type segmentJSON struct {
	EmbeddingsFloat []float64 `json:"embeddings_float"`
	StartOffsetSec  float64   `json:"start_offset_sec"`
	EndOffsetSec    float64   `json:"end_offset_sec"`
	EmbeddingScope  string    `json:"embedding_scope"`
}

type embeddingJSON struct {
	Segments []segmentJSON `json:"segments"`
}

type embedResp struct {
	TextEmbedding  *embeddingJSON `json:"text_embedding"`
	ImageEmbedding *embeddingJSON `json:"image_embedding"`
}

type taskResp struct {
	ID             string         `json:"_id"`
	Status         string         `json:"status"`
	VideoEmbedding *embeddingJSON `json:"video_embedding"`
}

// StatusError is a non-2xx response from the API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return !errors.Is(err, resilience.ErrCircuitOpen) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// EmbedText embeds text into a single vector.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return c.embedOnce(ctx, "embed_text", func(w *multipart.Writer) error {
		return w.WriteField("text", text)
	}, func(r embedResp) *embeddingJSON { return r.TextEmbedding })
}

// EmbedImage embeds an encoded image into a single vector.
func (c *Client) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	if len(image) == 0 {
		return nil, &domain.ProviderError{Provider: providerName, Op: "embed_image", Err: errors.New("empty image")}
	}
	return c.embedOnce(ctx, "embed_image", func(w *multipart.Writer) error {
		part, err := w.CreateFormFile("image_file", "query.jpg")
		if err != nil {
			return err
		}
		_, err = part.Write(image)
		return err
	}, func(r embedResp) *embeddingJSON { return r.ImageEmbedding })
}

func (c *Client) embedOnce(ctx context.Context, op string, fill func(*multipart.Writer) error, pick func(embedResp) *embeddingJSON) ([]float32, error) {
	res := fn.Retry(ctx, c.retry, func(ctx context.Context) fn.Result[[]float32] {
		var out embedResp
		if err := c.postMultipart(ctx, "/embed", fill, &out); err != nil {
			return fn.Err[[]float32](err)
		}
		emb := pick(out)
		if emb == nil || len(emb.Segments) == 0 || len(emb.Segments[0].EmbeddingsFloat) == 0 {
			return fn.Err[[]float32](errors.New("response has no embedding"))
		}
		return fn.Ok(toFloat32(emb.Segments[0].EmbeddingsFloat))
	})
	vec, err := res.Unwrap()
	if err != nil {
		return nil, &domain.ProviderError{Provider: providerName, Op: op, Err: err}
	}
	return vec, nil
}

// EmbedVideoAsync creates a server-side segmentation task for videoURL.
func (c *Client) EmbedVideoAsync(ctx context.Context, videoURL string, clipLength time.Duration) (embedding.Task, error) {
	secs := int(clipLength.Round(time.Second) / time.Second)
	if secs <= 0 {
		secs = int(embedding.DefaultClipLength / time.Second)
	}
	var out taskResp
	err := c.postMultipart(ctx, "/embed/tasks", func(w *multipart.Writer) error {
		if err := w.WriteField("video_url", videoURL); err != nil {
			return err
		}
		return w.WriteField("video_clip_length", strconv.Itoa(secs))
	}, &out)
	if err != nil {
		return nil, &domain.ProviderError{Provider: providerName, Op: "create_video_task", Err: err}
	}
	if out.ID == "" {
		return nil, &domain.ProviderError{Provider: providerName, Op: "create_video_task", Err: errors.New("response has no task id")}
	}
	return &videoTask{c: c, id: out.ID}, nil
}

type videoTask struct {
	c  *Client
	id string
}

func (t *videoTask) ID() string { return t.id }

func (t *videoTask) Poll(ctx context.Context) (embedding.TaskStatus, error) {
	var out taskResp
	if err := t.c.get(ctx, "/embed/tasks/"+t.id+"/status", &out); err != nil {
		return embedding.TaskProcessing, &domain.ProviderError{Provider: providerName, Op: "task_status", Err: err}
	}
	return mapStatus(out.Status), nil
}

func (t *videoTask) Segments(ctx context.Context) ([]embedding.Segment, error) {
	var out taskResp
	if err := t.c.get(ctx, "/embed/tasks/"+t.id, &out); err != nil {
		return nil, &domain.ProviderError{Provider: providerName, Op: "task_retrieve", Err: err}
	}
	if out.VideoEmbedding == nil {
		return nil, nil
	}
	segs := make([]embedding.Segment, 0, len(out.VideoEmbedding.Segments))
	for _, s := range out.VideoEmbedding.Segments {
		if len(s.EmbeddingsFloat) == 0 {
			continue
		}
		segs = append(segs, embedding.Segment{
			Vector:      toFloat32(s.EmbeddingsFloat),
			StartOffset: s.StartOffsetSec,
			EndOffset:   s.EndOffsetSec,
			Scope:       s.EmbeddingScope,
		})
	}
	return segs, nil
}

func mapStatus(s string) embedding.TaskStatus {
	switch strings.ToLower(s) {
	case "ready":
		return embedding.TaskDone
	case "failed":
		return embedding.TaskFailed
	case "":
		return embedding.TaskCreated
	default:
		return embedding.TaskProcessing
	}
}

func (c *Client) postMultipart(ctx context.Context, path string, fill func(*multipart.Writer) error, out any) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("model_name", c.model); err != nil {
		return err
	}
	if err := fill(w); err != nil {
		return fmt.Errorf("build form: %w", err)
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, w.FormDataContentType(), body.Bytes(), out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, "", nil, out)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	return c.breaker.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
		if err != nil {
			return err
		}
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		return nil
	})
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
