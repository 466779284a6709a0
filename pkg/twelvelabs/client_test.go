package twelvelabs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/WessleyAI/stylesearch/engine/domain"
	"github.com/WessleyAI/stylesearch/engine/embedding"
)

func newTestClient(t *testing.T, h http.Handler, retries int) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{
		APIKey:    "test-key",
		BaseURL:   srv.URL,
		Retries:   retries,
		RateLimit: rate.Inf,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestEmbedText(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/embed" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.FormValue("model_name") != DefaultModel || r.FormValue("text") != "red dress" {
			t.Errorf("unexpected form %v", r.MultipartForm.Value)
		}
		writeJSON(w, map[string]any{
			"text_embedding": map[string]any{
				"segments": []map[string]any{{"embeddings_float": []float64{0.1, 0.2, 0.3}}},
			},
		})
	}), 0)

	vec, err := c.EmbedText(context.Background(), "red dress")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 3 || vec[2] != float32(0.3) {
		t.Fatalf("unexpected vector %v", vec)
	}
}

func TestEmbedImageSendsFile(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		f, _, err := r.FormFile("image_file")
		if err != nil {
			t.Fatalf("missing image_file: %v", err)
		}
		f.Close()
		writeJSON(w, map[string]any{
			"image_embedding": map[string]any{
				"segments": []map[string]any{{"embeddings_float": []float64{1, 0}}},
			},
		})
	}), 0)

	vec, err := c.EmbedImage(context.Background(), []byte{0xff, 0xd8})
	if err != nil || len(vec) != 2 {
		t.Fatalf("EmbedImage = %v, %v", vec, err)
	}
}

func TestEmbedTextProviderError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}), 1)

	_, err := c.EmbedText(context.Background(), "x")
	var pe *domain.ProviderError
	if !errors.As(err, &pe) || pe.Op != "embed_text" {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 StatusError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not be retried, calls=%d", calls.Load())
	}
}

func TestEmbedTextRetriesOnceOnServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{
			"text_embedding": map[string]any{
				"segments": []map[string]any{{"embeddings_float": []float64{1}}},
			},
		})
	}), 1)

	if _, err := c.EmbedText(context.Background(), "x"); err != nil {
		t.Fatalf("retry should recover: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestEmbedTextFailFastByDefault(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}), 0)

	if _, err := c.EmbedText(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestVideoTaskLifecycle(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /embed/tasks", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.FormValue("video_url") != "https://cdn/v.mp4" || r.FormValue("video_clip_length") != "6" {
			t.Errorf("unexpected form %v", r.MultipartForm.Value)
		}
		writeJSON(w, map[string]any{"_id": "task-1"})
	})
	mux.HandleFunc("GET /embed/tasks/task-1/status", func(w http.ResponseWriter, r *http.Request) {
		status := "processing"
		if polls.Add(1) >= 2 {
			status = "ready"
		}
		writeJSON(w, map[string]any{"_id": "task-1", "status": status})
	})
	mux.HandleFunc("GET /embed/tasks/task-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"_id":    "task-1",
			"status": "ready",
			"video_embedding": map[string]any{
				"segments": []map[string]any{
					{"embeddings_float": []float64{1, 0}, "start_offset_sec": 0, "end_offset_sec": 6, "embedding_scope": "clip"},
					{"embeddings_float": []float64{0, 1}, "start_offset_sec": 6, "end_offset_sec": 12, "embedding_scope": "clip"},
				},
			},
		})
	})
	c := newTestClient(t, mux, 0)

	segs, err := embedding.EmbedVideo(context.Background(), c, "https://cdn/v.mp4", 6*time.Second,
		embedding.WaitOptions{Interval: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 2 || segs[1].StartOffset != 6 || segs[1].EndOffset != 12 || segs[1].Scope != "clip" {
		t.Fatalf("unexpected segments %+v", segs)
	}
	if polls.Load() != 2 {
		t.Fatalf("polls = %d", polls.Load())
	}
}

func TestVideoTaskFailed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /embed/tasks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"_id": "bad"})
	})
	mux.HandleFunc("GET /embed/tasks/bad/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"_id": "bad", "status": "failed"})
	})
	c := newTestClient(t, mux, 0)

	_, err := embedding.EmbedVideo(context.Background(), c, "https://cdn/v.mp4", 0,
		embedding.WaitOptions{Interval: time.Millisecond})
	if !errors.Is(err, domain.ErrEmbeddingTaskFailed) {
		t.Fatalf("expected task failure, got %v", err)
	}
}

func TestMapStatus(t *testing.T) {
	cases := map[string]embedding.TaskStatus{
		"":           embedding.TaskCreated,
		"validating": embedding.TaskProcessing,
		"processing": embedding.TaskProcessing,
		"ready":      embedding.TaskDone,
		"failed":     embedding.TaskFailed,
	}
	for in, want := range cases {
		if got := mapStatus(in); got != want {
			t.Errorf("mapStatus(%q) = %s, want %s", in, got, want)
		}
	}
}
