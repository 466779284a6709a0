package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/WessleyAI/stylesearch/engine/domain"
)

// DefaultPollInterval is the fixed sleep between task status polls.
const DefaultPollInterval = 2 * time.Second

// WaitOptions bounds the poll loop.
type WaitOptions struct {
	Interval time.Duration
	// Timeout caps the whole wait. Zero means only ctx bounds it.
	Timeout time.Duration
	// Observer sees every polled status, including the terminal one.
	Observer func(taskID string, status TaskStatus)
}

// Wait polls task at a fixed interval until it reaches a terminal status,
// the timeout elapses or ctx is cancelled.
func Wait(ctx context.Context, task Task, opts WaitOptions) (TaskStatus, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := task.Poll(ctx)
		if err != nil {
			return status, fmt.Errorf("embedding: poll task %s: %w", task.ID(), err)
		}
		if opts.Observer != nil {
			opts.Observer(task.ID(), status)
		}
		if status.Terminal() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return status, fmt.Errorf("embedding: wait task %s: %w", task.ID(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// EmbedVideo creates a segmentation task for videoURL, blocks until it is
// terminal and returns its segments. A failed task or an empty segment list
// is an error matching domain.ErrEmbeddingTaskFailed.
func EmbedVideo(ctx context.Context, client VideoEmbedder, videoURL string, clipLength time.Duration, opts WaitOptions) ([]Segment, error) {
	if clipLength <= 0 {
		clipLength = DefaultClipLength
	}
	task, err := client.EmbedVideoAsync(ctx, videoURL, clipLength)
	if err != nil {
		return nil, err
	}

	status, err := Wait(ctx, task, opts)
	if err != nil {
		return nil, err
	}
	if status == TaskFailed {
		return nil, &domain.TaskError{TaskID: task.ID(), Status: string(status), Reason: "provider reported failure"}
	}

	segments, err := task.Segments(ctx)
	if err != nil {
		return nil, fmt.Errorf("embedding: retrieve task %s: %w", task.ID(), err)
	}
	if len(segments) == 0 {
		return nil, &domain.TaskError{TaskID: task.ID(), Status: string(status), Reason: "no segments"}
	}
	return segments, nil
}
