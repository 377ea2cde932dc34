package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/danjuanyang/psm-merge/internal/observability"
)

// RedisQueue pushes tasks onto a Redis list and, when consuming, pops them
// with BRPOP. Each worker holds at most one task at a time.
type RedisQueue struct {
	client      *redis.Client
	name        string
	pollTimeout time.Duration
	logger      *observability.Logger
	backoff     reconnectBackoff

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewRedisQueue creates a queue bound to the list name.
func NewRedisQueue(client *redis.Client, name string, pollTimeout time.Duration, logger *observability.Logger) *RedisQueue {
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	return &RedisQueue{
		client:      client,
		name:        name,
		pollTimeout: pollTimeout,
		logger:      logger.WithComponent("redis_queue").WithOperation(name),
		backoff:     defaultReconnectBackoff(),
	}
}

// Dispatch pushes a task onto the list.
func (q *RedisQueue) Dispatch(ctx context.Context, task Task) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := q.client.LPush(ctx, q.name, payload).Err(); err != nil {
		return fmt.Errorf("push task to %s: %w", q.name, err)
	}
	q.logger.Debug().Str("job_id", task.JobID).Str("kind", string(task.Kind)).Msg("Queued job")
	return nil
}

// Consume starts workers that pop and run tasks until ctx is done or
// Shutdown is called. It returns immediately.
func (q *RedisQueue) Consume(ctx context.Context, handler Handler, opts ...Option) {
	o := buildOptions(opts)
	ctx, cancel := context.WithCancel(ctx)

	q.mu.Lock()
	q.cancel = cancel
	q.mu.Unlock()

	for i := 0; i < o.workers; i++ {
		q.wg.Add(1)
		go func(workerID int) {
			defer q.wg.Done()
			q.worker(ctx, workerID, handler, o.timeout)
		}(i + 1)
	}
	q.logger.Info().Int("workers", o.workers).Msg("Consuming merge queue")
}

func (q *RedisQueue) worker(ctx context.Context, workerID int, handler Handler, timeout time.Duration) {
	failures := 0
	for ctx.Err() == nil {
		task, err := q.pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := q.backoff.delay(failures)
			failures++
			q.logger.Warn().Err(err).Int("worker_id", workerID).Dur("backoff", wait).Msg("Queue read failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		failures = 0
		if task == nil {
			continue
		}
		runTask(handler, q.logger, timeout, workerID, *task)
	}
}

// pop returns nil, nil when the poll times out with nothing queued.
func (q *RedisQueue) pop(ctx context.Context) (*Task, error) {
	res, err := q.client.BRPop(ctx, q.pollTimeout, q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of length %d", len(res))
	}

	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		q.logger.Error().Err(err).Str("payload", res[1]).Msg("Dropping malformed task")
		return nil, nil
	}
	return &task, nil
}

// Shutdown stops consumers and waits for in-flight tasks.
func (q *RedisQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn().Msg("Shutdown interrupted by context")
	case <-done:
		q.logger.Info().Msg("Consumers stopped")
	}
}
