// Package embedding defines the narrow interfaces the engine uses to reach a
// multimodal embedding provider, and the blocking wait loop for asynchronous
// video segmentation tasks.
package embedding

import (
	"context"
	"time"
)

// TextEmbedder embeds free text.
type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// ImageEmbedder embeds an encoded image.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, image []byte) ([]float32, error)
}

// VideoEmbedder starts a server-side segmentation job for a video.
type VideoEmbedder interface {
	EmbedVideoAsync(ctx context.Context, videoURL string, clipLength time.Duration) (Task, error)
}

// Client is a provider able to embed all three modalities.
type Client interface {
	TextEmbedder
	ImageEmbedder
	VideoEmbedder
}

// TaskStatus is the lifecycle of a video task:
// created -> processing -> done | failed.
type TaskStatus string

const (
	TaskCreated    TaskStatus = "created"
	TaskProcessing TaskStatus = "processing"
	TaskDone       TaskStatus = "done"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s TaskStatus) Terminal() bool {
	return s == TaskDone || s == TaskFailed
}

// Segment is one embedded clip of a video. Offsets are in seconds.
type Segment struct {
	Vector      []float32
	StartOffset float64
	EndOffset   float64
	Scope       string
}

// Task is a handle on a running video segmentation job. Poll is the only way
// to observe transitions.
type Task interface {
	ID() string
	Poll(ctx context.Context) (TaskStatus, error)
	Segments(ctx context.Context) ([]Segment, error)
}

// DefaultClipLength is the segment length requested for product videos.
const DefaultClipLength = 6 * time.Second
