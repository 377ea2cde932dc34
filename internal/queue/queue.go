// Package queue dispatches merge jobs to workers, either in-process or
// through a Redis list shared with worker processes.
package queue

import (
	"context"
	"errors"

	"github.com/danjuanyang/psm-merge/internal/domain"
)

// ErrClosed is returned when dispatching to a queue that is shutting down.
var ErrClosed = errors.New("queue is shutting down")

// Task is one unit of work: run the pipeline of a single job.
type Task struct {
	JobID string         `json:"job_id"`
	Kind  domain.JobKind `json:"kind"`
}

// Handler runs a task. Errors are logged by the queue, never retried.
type Handler func(ctx context.Context, task Task) error

// Dispatcher hands tasks to whatever executes them.
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) error
	Shutdown(ctx context.Context)
}
