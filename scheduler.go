package swrcache

import (
	"container/list"
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/pkg/errors"
)

// Task is a unit of background work admitted into a revalidation queue
type Task func(ctx context.Context) error

// Failure describes a background task that returned an error or panicked
type Failure struct {
	Queue string
	ID    string
	Err   error
}

// FailureHandler observes background failures. It is called on the task's goroutine.
type FailureHandler func(ctx context.Context, f Failure)

// Registry holds one bounded-concurrency, deduplicating queue per name.
// Queues are created lazily on first use and live until Close.
type Registry struct {
	logger    *slog.Logger
	onFailure FailureHandler

	mu     sync.Mutex
	queues map[string]*queue
	closed bool
	wg     sync.WaitGroup
}

type queue struct {
	name        string
	concurrency int
	running     int
	pending     *list.List          // of *job, FIFO
	ids         map[string]struct{} // pending or running task ids
}

type job struct {
	ctx  context.Context
	id   string
	task Task
}

// RegistryOption is a functional option for configuring a Registry
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used to report task failures.
// If not set, slog.Default() is used.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithRegistryFailureHandler sets the observer notified of every failed task
func WithRegistryFailureHandler(fn FailureHandler) RegistryOption {
	return func(r *Registry) {
		r.onFailure = fn
	}
}

// NewRegistry creates an empty queue registry
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		logger: slog.Default(),
		queues: make(map[string]*queue),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// queueLocked returns the named queue, creating it with the default concurrency
func (r *Registry) queueLocked(name string) *queue {
	q, ok := r.queues[name]
	if !ok {
		q = &queue{
			name:        name,
			concurrency: DefaultRevalidationConcurrency,
			pending:     list.New(),
			ids:         make(map[string]struct{}),
		}
		r.queues[name] = q
	}
	return q
}

// SetConcurrency changes the number of tasks the named queue may run at once.
// Values below 1 are treated as 1. Raising the limit starts pending tasks immediately.
func (r *Registry) SetConcurrency(name string, n int) {
	if n < 1 {
		n = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	q := r.queueLocked(name)
	q.concurrency = n
	r.drainLocked(q)
}

// Enqueue admits task into the named queue under id. It returns false without
// doing anything when a task with the same id is already pending or running
// in that queue, or when the registry is closed.
//
// The task receives a context that is never cancelled by the caller.
func (r *Registry) Enqueue(ctx context.Context, name, id string, task Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}

	q := r.queueLocked(name)
	if _, exists := q.ids[id]; exists {
		return false
	}
	q.ids[id] = struct{}{}
	q.pending.PushBack(&job{
		ctx:  context.WithoutCancel(ctx),
		id:   id,
		task: task,
	})
	r.wg.Add(1)
	r.drainLocked(q)
	return true
}

// drainLocked starts pending jobs in FIFO order while the queue has free slots
func (r *Registry) drainLocked(q *queue) {
	for q.running < q.concurrency && q.pending.Len() > 0 {
		j := q.pending.Remove(q.pending.Front()).(*job)
		q.running++
		go r.run(q, j)
	}
}

func (r *Registry) run(q *queue, j *job) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		q.running--
		delete(q.ids, j.id)
		r.drainLocked(q)
	}()

	if err := r.invoke(q, j); err != nil {
		r.logger.ErrorContext(j.ctx, "revalidation task failed",
			"queue", q.name,
			"key", j.id,
			"error", err)
		if r.onFailure != nil {
			r.onFailure(j.ctx, Failure{Queue: q.name, ID: j.id, Err: err})
		}
	}
}

func (r *Registry) invoke(q *queue, j *job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(j.ctx, "panic during revalidation task",
				"queue", q.name,
				"key", j.id,
				"panic", rec,
				"stack", string(debug.Stack()))
			err = errors.Errorf("panic during revalidation task: %v", rec)
		}
	}()
	return j.task(j.ctx)
}

// Pending returns the number of tasks waiting for a slot in the named queue
func (r *Registry) Pending(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[name]; ok {
		return q.pending.Len()
	}
	return 0
}

// Running returns the number of tasks currently executing in the named queue
func (r *Registry) Running(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[name]; ok {
		return q.running
	}
	return 0
}

// Close stops admitting new tasks and waits until every admitted task has
// finished or ctx is done. Queues are dropped once Close returns nil.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for revalidation tasks")
	case <-done:
	}

	r.mu.Lock()
	r.queues = make(map[string]*queue)
	r.mu.Unlock()
	return nil
}
