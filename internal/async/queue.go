// Package async runs best-effort side effects (upload storage, audit rows)
// on a bounded worker pool, detached from the request that produced them.
package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is reported on a task's channel when the queue no longer accepts work.
var ErrClosed = errors.New("async: queue is shutting down")

// Task is one detached side effect.
type Task struct {
	Name        string
	OrgID       string
	FileID      string
	SubmittedAt time.Time
	Run         func(ctx context.Context) error
}

// Runner accepts detached tasks. The returned channel yields the task's error
// (nil on success) exactly once and is then closed.
type Runner interface {
	Submit(ctx context.Context, task Task) <-chan error
}

type job struct {
	task Task
	done chan error
}

type Queue struct {
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*Queue)

func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan job, n)
		}
	}
}

// WithTaskTimeout bounds each task; tasks never inherit the submitter's deadline.
func WithTaskTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewQueue(logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		logger:  logger,
		workers: 4,
		timeout: 15 * time.Second,
		ch:      make(chan job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("async.worker.started", "worker_id", workerID)
				for j := range q.ch {
					q.run(workerID, j)
				}
				q.logger.Debug("async.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *Queue) run(workerID int, j job) {
	defer close(j.done)
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return j.task.Run(ctx)
	}()

	attrs := []any{
		"worker_id", workerID,
		"task", j.task.Name,
		"org_id", j.task.OrgID,
		"file_id", j.task.FileID,
		"queued_ms", start.Sub(j.task.SubmittedAt).Milliseconds(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	}
	if err != nil {
		q.logger.Warn("async.task.failed", append(attrs, "error", err)...)
	} else {
		q.logger.Debug("async.task.ok", attrs...)
	}
	j.done <- err
}

// Submit enqueues a task. When the buffer is full it applies backpressure
// until ctx is done; the task is then dropped and its channel reports ctx.Err().
func (q *Queue) Submit(ctx context.Context, task Task) <-chan error {
	done := make(chan error, 1)
	if task.SubmittedAt.IsZero() {
		task.SubmittedAt = time.Now()
	}
	if task.Run == nil {
		close(done)
		return done
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("async.submit.closed", "task", task.Name, "file_id", task.FileID)
		done <- ErrClosed
		close(done)
		return done
	}
	j := job{task: task, done: done}
	select {
	case q.ch <- j:
		return done
	default:
	}
	q.logger.Warn("async.queue.full", "task", task.Name, "file_id", task.FileID)
	select {
	case q.ch <- j:
	case <-ctx.Done():
		q.logger.Warn("async.task.dropped", "task", task.Name, "file_id", task.FileID, "error", ctx.Err())
		done <- ctx.Err()
		close(done)
	}
	return done
}

// Shutdown stops intake and waits for queued tasks to drain or ctx to end.
func (q *Queue) Shutdown(ctx context.Context) {
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
		q.logger.Warn("async.shutdown.interrupted")
	case <-done:
		q.logger.Info("async.shutdown.drained")
	}
}

// Inline runs tasks synchronously on the caller's goroutine; used by the CLI
// where there is no long-lived process to drain a queue.
type Inline struct {
	Logger *slog.Logger
}

func (in Inline) Submit(ctx context.Context, task Task) <-chan error {
	done := make(chan error, 1)
	if task.Run != nil {
		err := task.Run(context.WithoutCancel(ctx))
		if err != nil && in.Logger != nil {
			in.Logger.Warn("async.task.failed", "task", task.Name, "file_id", task.FileID, "error", err)
		}
		done <- err
	}
	close(done)
	return done
}
