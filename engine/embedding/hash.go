package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"
)

// HashEmbedder is a deterministic offline Client. Equal inputs produce equal
// unit vectors, which is enough to exercise ingestion and retrieval without a
// provider account.
type HashEmbedder struct {
	Dims int
	// Segments is the number of clips produced per video. Zero means 2.
	Segments int
	// Steps is the number of polls a video task spends in processing.
	Steps int

	mu    sync.Mutex
	tasks int
}

// NewHashEmbedder returns a HashEmbedder producing dims-dimensional vectors.
func NewHashEmbedder(dims int) *HashEmbedder {
	return &HashEmbedder{Dims: dims}
}

func (h *HashEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	return h.vector("text:" + strings.ToLower(strings.TrimSpace(text))), nil
}

func (h *HashEmbedder) EmbedImage(_ context.Context, image []byte) ([]float32, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("embedding: empty image")
	}
	return h.vector("image:" + string(image)), nil
}

func (h *HashEmbedder) EmbedVideoAsync(_ context.Context, videoURL string, clipLength time.Duration) (Task, error) {
	n := h.Segments
	if n <= 0 {
		n = 2
	}
	clip := clipLength.Seconds()
	segs := make([]Segment, n)
	for i := range segs {
		segs[i] = Segment{
			Vector:      h.vector(fmt.Sprintf("video:%s#%d", videoURL, i)),
			StartOffset: float64(i) * clip,
			EndOffset:   float64(i+1) * clip,
			Scope:       "clip",
		}
	}

	h.mu.Lock()
	h.tasks++
	id := fmt.Sprintf("hash-task-%d", h.tasks)
	h.mu.Unlock()

	return NewScriptedTask(id, h.Steps, TaskDone, segs), nil
}

// vector expands an FNV-64a seed into a unit vector with a xorshift stream.
func (h *HashEmbedder) vector(key string) []float32 {
	dims := h.Dims
	if dims <= 0 {
		dims = 1024
	}
	f := fnv.New64a()
	_, _ = f.Write([]byte(key))
	state := f.Sum64() | 1

	out := make([]float32, dims)
	var norm float64
	for i := range out {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		v := float64(int64(state>>11))/float64(1<<52) - 1
		out[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		out[0] = 1
		return out
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / norm)
	}
	return out
}

// ScriptedTask is an in-memory Task that reports processing for a fixed number
// of polls and then settles on a final status.
type ScriptedTask struct {
	id       string
	final    TaskStatus
	segments []Segment

	mu        sync.Mutex
	remaining int
	polls     int
}

// NewScriptedTask builds a task that turns final after steps processing polls.
func NewScriptedTask(id string, steps int, final TaskStatus, segments []Segment) *ScriptedTask {
	return &ScriptedTask{id: id, remaining: steps, final: final, segments: segments}
}

func (t *ScriptedTask) ID() string { return t.id }

func (t *ScriptedTask) Poll(ctx context.Context) (TaskStatus, error) {
	if err := ctx.Err(); err != nil {
		return TaskProcessing, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.polls++
	if t.remaining > 0 {
		t.remaining--
		return TaskProcessing, nil
	}
	return t.final, nil
}

// Polls reports how many times Poll has been called.
func (t *ScriptedTask) Polls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.polls
}

func (t *ScriptedTask) Segments(context.Context) ([]Segment, error) {
	t.mu.Lock()
	done := t.remaining == 0 && t.final == TaskDone
	t.mu.Unlock()
	if !done {
		return nil, fmt.Errorf("embedding: task %s not ready", t.id)
	}
	return t.segments, nil
}
