// Package tasks runs fire-and-forget side work (translation hooks and similar)
// on a bounded worker pool so request paths never wait on it.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"messenger/cmd/internal/metrics"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueFull is returned by Submit when every slot is taken.
	ErrQueueFull = errors.New("tasks: queue full")

	// ErrQueueClosed is returned by Submit after Close.
	ErrQueueClosed = errors.New("tasks: queue closed")
)

const (
	defaultWorkers     = 4
	defaultQueueSize   = 1024
	defaultTaskTimeout = 30 * time.Second
)

// Task is one unit of side work. Its error is logged, never propagated.
type Task func(ctx context.Context) error

type job struct {
	name string
	run  Task
}

// Queue is a bounded FIFO drained by a fixed set of workers.
type Queue struct {
	log         *slog.Logger
	metrics     *metrics.Metrics
	taskTimeout time.Duration

	jobs   chan job
	g      *errgroup.Group
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithMetrics records task results.
func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithTaskTimeout bounds each task run.
func WithTaskTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.taskTimeout = d
		}
	}
}

// NewQueue starts workers goroutines draining a queue of the given size.
func NewQueue(log *slog.Logger, workers, size int, opts ...Option) *Queue {
	if log == nil {
		log = slog.Default()
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	if size <= 0 {
		size = defaultQueueSize
	}

	base, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(base)
	q := &Queue{
		log:         log,
		taskTimeout: defaultTaskTimeout,
		jobs:        make(chan job, size),
		g:           g,
		cancel:      cancel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}

	for i := 0; i < workers; i++ {
		q.g.Go(func() error { return q.work(ctx) })
	}
	log.Info("tasks.start", "workers", workers, "queue", size)
	return q
}

// Submit enqueues t without blocking.
func (q *Queue) Submit(name string, t Task) error {
	if t == nil {
		return errors.New("tasks: nil task")
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job{name: name, run: t}:
		return nil
	default:
		q.metrics.TaskResult("rejected")
		q.log.Warn("tasks.submit.full", "task", name)
		return ErrQueueFull
	}
}

// Close stops accepting tasks and waits for queued ones to finish. When ctx
// expires first, the workers' context is cancelled: running tasks see it,
// queued ones are dropped, and Close returns ctx's error.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = q.g.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		q.log.Info("tasks.drained")
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		for j := range q.jobs {
			q.drop(j)
		}
		return fmt.Errorf("tasks drain: %w", ctx.Err())
	}
}

// work drains jobs until the channel is closed or ctx is cancelled.
func (q *Queue) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j, ok := <-q.jobs:
			if !ok {
				return nil
			}
			if ctx.Err() != nil {
				q.drop(j)
				return ctx.Err()
			}
			q.run(ctx, j)
		}
	}
}

func (q *Queue) drop(j job) {
	q.metrics.TaskResult("dropped")
	q.log.Warn("tasks.dropped", "task", j.name)
}

func (q *Queue) run(parent context.Context, j job) {
	ctx, cancel := context.WithTimeout(parent, q.taskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			q.metrics.TaskResult("panic")
			q.log.Error("tasks.panic", "task", j.name, "panic", fmt.Sprint(r))
		}
	}()

	if err := j.run(ctx); err != nil {
		q.metrics.TaskResult("error")
		q.log.Warn("tasks.fail", "task", j.name, "err", err)
		return
	}
	q.metrics.TaskResult("ok")
}
