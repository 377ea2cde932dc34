package queue

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/danjuanyang/psm-merge/internal/observability"
)

// LocalQueue runs tasks on an in-process worker pool.
type LocalQueue struct {
	handler Handler
	logger  *observability.Logger
	workers int
	timeout time.Duration

	ch   chan Task
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

// Option configures a queue.
type Option func(*options)

type options struct {
	workers int
	size    int
	timeout time.Duration
}

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithQueueSize sets the local buffer size.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.size = n
		}
	}
}

// WithJobTimeout bounds each task. Zero means no bound.
func WithJobTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{workers: 2, size: 64}
	for _, apply := range opts {
		apply(&o)
	}
	return o
}

// NewLocalQueue starts the worker pool.
func NewLocalQueue(handler Handler, logger *observability.Logger, opts ...Option) *LocalQueue {
	o := buildOptions(opts)
	q := &LocalQueue{
		handler: handler,
		logger:  logger.WithComponent("local_queue"),
		workers: o.workers,
		timeout: o.timeout,
		ch:      make(chan Task, o.size),
	}
	q.start()
	return q
}

func (q *LocalQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug().Int("worker_id", workerID).Msg("Worker started")

				for task := range q.ch {
					runTask(q.handler, q.logger, q.timeout, workerID, task)
				}

				q.logger.Debug().Int("worker_id", workerID).Msg("Worker stopped")
			}(i + 1)
		}
	})
}

// Dispatch queues a task, blocking while the buffer is full.
func (q *LocalQueue) Dispatch(ctx context.Context, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn().Str("job_id", task.JobID).Msg("Cannot dispatch: queue is shutting down")
		return ErrClosed
	}
	select {
	case q.ch <- task:
		q.logger.Debug().Str("job_id", task.JobID).Str("kind", string(task.Kind)).Msg("Queued job")
		return nil
	default:
	}

	q.logger.Warn().Str("job_id", task.JobID).Msg("Queue full, applying backpressure")
	select {
	case q.ch <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting tasks and waits for queued ones to drain.
func (q *LocalQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn().Msg("Shutdown interrupted by context")
	case <-done:
		q.logger.Info().Msg("Queue drained, shutdown complete")
	}
}

func runTask(handler Handler, logger *observability.Logger, timeout time.Duration, workerID int, task Task) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	log := logger.WithJob(task.JobID, string(task.Kind))
	defer func() {
		if v := recover(); v != nil {
			log.Error().
				Interface("panic", v).
				Int("worker_id", workerID).
				Str("stack", string(debug.Stack())).
				Msg("Job handler panicked")
		}
	}()

	if err := handler(ctx, task); err != nil {
		log.Error().Err(err).Int("worker_id", workerID).Msg("Job handler failed")
		return
	}
	log.Info().Int("worker_id", workerID).Dur("duration", time.Since(start)).Msg("Job handled")
}
