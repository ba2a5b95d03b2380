package swrcache

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

var (
	DefaultPrefix                  = "default"
	DefaultRevalidationConcurrency = 1
	DefaultFetchTimeout            = 60 * time.Second
	NowFunc                        = time.Now
)

// Wrapper turns operations into cached operations that share one storage and
// one revalidation registry. The registry lives exactly as long as the
// Wrapper: it is created by NewWrapper and torn down by Close.
type Wrapper[T any] struct {
	container *Container[T]
	registry  *Registry
	logger    *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

type wrapperConfig struct {
	logger    *slog.Logger
	onFailure FailureHandler
}

// WrapperOption is a functional option for configuring a Wrapper
type WrapperOption func(*wrapperConfig)

// WithLogger sets the logger for the wrapper, its container and its registry.
// If not set, slog.Default() is used.
func WithLogger(logger *slog.Logger) WrapperOption {
	return func(c *wrapperConfig) {
		c.logger = logger
	}
}

// WithFailureHandler sets the observer of background revalidation failures,
// including failed storage writes of refreshed values.
func WithFailureHandler(fn FailureHandler) WrapperOption {
	return func(c *wrapperConfig) {
		c.onFailure = fn
	}
}

// NewWrapper creates a wrapper over the given storage
func NewWrapper[T any](storage Storage[*Entry[T]], opts ...WrapperOption) *Wrapper[T] {
	if storage == nil {
		panic("storage is required")
	}

	cfg := &wrapperConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Wrapper[T]{
		container: NewContainer(storage, cfg.logger),
		registry: NewRegistry(
			WithRegistryLogger(cfg.logger),
			WithRegistryFailureHandler(cfg.onFailure),
		),
		logger: cfg.logger,
	}
}

// Container returns the cache container shared by every wrapped operation
func (w *Wrapper[T]) Container() *Container[T] {
	return w.container
}

// Registry returns the revalidation registry owned by the wrapper
func (w *Wrapper[T]) Registry() *Registry {
	return w.registry
}

// Close waits for in-flight revalidations and releases the registry.
// Wrapped operations keep serving after Close but no longer refresh in the background.
// The storage is left open; its owner closes it.
func (w *Wrapper[T]) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		w.closeErr = w.registry.Close(ctx)
	})
	return w.closeErr
}

// Options is the resolved configuration of a single call
type Options[A, T any] struct {
	// Prefix namespaces the cache key and the revalidation queue
	Prefix string

	// CalculateKey overrides the structural hash of the call arguments
	CalculateKey func(args A) string

	// ShouldStore decides whether a freshly computed result is written to storage
	ShouldStore func(result T) bool

	// CacheTime is the freshness window (ttl). Zero disables it.
	CacheTime time.Duration

	// StaleTime is the staleness window (staleTtl). Zero disables it.
	StaleTime time.Duration

	// RevalidationConcurrency bounds background refreshes per operation and prefix
	RevalidationConcurrency int

	// FetchTimeout bounds operations that run detached from the caller's
	// context: background refreshes and coalesced fetches
	FetchTimeout time.Duration

	// Coalesce routes concurrent blocking fetches of one key through a single call
	Coalesce bool
}

// Option is a functional option for configuring a wrapped operation or a single call
type Option[A, T any] func(*Options[A, T])

// WithPrefix sets the namespace of keys and revalidation queue
func WithPrefix[A, T any](prefix string) Option[A, T] {
	return func(o *Options[A, T]) {
		o.Prefix = prefix
	}
}

// WithCalculateKey replaces the default structural hash of the arguments
func WithCalculateKey[A, T any](fn func(args A) string) Option[A, T] {
	return func(o *Options[A, T]) {
		o.CalculateKey = fn
	}
}

// WithShouldStore sets the predicate a result must satisfy to be cached
func WithShouldStore[A, T any](fn func(result T) bool) Option[A, T] {
	return func(o *Options[A, T]) {
		o.ShouldStore = fn
	}
}

// WithCacheTime sets the freshness window
func WithCacheTime[A, T any](ttl time.Duration) Option[A, T] {
	return func(o *Options[A, T]) {
		o.CacheTime = ttl
	}
}

// WithStaleTime sets the staleness window
func WithStaleTime[A, T any](staleTTL time.Duration) Option[A, T] {
	return func(o *Options[A, T]) {
		o.StaleTime = staleTTL
	}
}

// WithRevalidationConcurrency sets how many background refreshes may run at
// once for the operation under its prefix.
//
// The value is pushed to the queue right before each refresh is scheduled,
// which is only on calls that hit a stale entry. Calls that hit fresh entries
// or miss do not touch the queue; the registry reads the ceiling only when it
// admits a task, so the latest value always governs admission.
func WithRevalidationConcurrency[A, T any](n int) Option[A, T] {
	return func(o *Options[A, T]) {
		o.RevalidationConcurrency = n
	}
}

// WithFetchTimeout bounds operations that no longer run under the caller's
// context: background refreshes and coalesced fetches. Non-positive values
// fall back to DefaultFetchTimeout.
func WithFetchTimeout[A, T any](timeout time.Duration) Option[A, T] {
	return func(o *Options[A, T]) {
		o.FetchTimeout = timeout
	}
}

// WithCoalesce enables singleflight admission on the blocking path.
//
// Without it two calls that both miss the cache both invoke the operation and
// the last write wins. With it they share one invocation per key.
func WithCoalesce[A, T any](coalesce bool) Option[A, T] {
	return func(o *Options[A, T]) {
		o.Coalesce = coalesce
	}
}

// Eager caches results for ttl and recomputes synchronously once they expire
func Eager[A, T any](ttl time.Duration) Option[A, T] {
	return func(o *Options[A, T]) {
		o.CacheTime = ttl
		o.StaleTime = 0
	}
}

// SWR caches results for ttl, then serves them stale while refreshing in the
// background until the stale boundary (see NormalizeStaleTTL) passes.
func SWR[A, T any](ttl, staleTTL time.Duration) Option[A, T] {
	return func(o *Options[A, T]) {
		o.CacheTime = ttl
		o.StaleTime = staleTTL
	}
}

// Func is a cached version of an operation
type Func[A, T any] struct {
	w    *Wrapper[T]
	id   string
	fn   Operation[A, T]
	opts []Option[A, T]
	sfg  singleflight.Group
}

// Wrap produces the cached version of fn.
//
// id is the stable identity of the operation and is part of every cache key.
// When empty a random identity is generated, so keys do not survive a process
// restart and separate processes never share entries.
func Wrap[A, T any](w *Wrapper[T], id string, fn Operation[A, T], opts ...Option[A, T]) *Func[A, T] {
	if w == nil {
		panic("wrapper is required")
	}
	if fn == nil {
		panic("operation is required")
	}
	if id == "" {
		id = uuid.NewString()
		w.logger.Warn("wrapped operation has no stable id, cache keys will not survive restarts",
			"operation", id)
	}
	return &Func[A, T]{
		w:    w,
		id:   id,
		fn:   fn,
		opts: opts,
	}
}

// ID returns the operation identity used in cache keys
func (f *Func[A, T]) ID() string {
	return f.id
}

func (f *Func[A, T]) resolve(opts []Option[A, T]) *Options[A, T] {
	o := &Options[A, T]{
		Prefix:                  DefaultPrefix,
		RevalidationConcurrency: DefaultRevalidationConcurrency,
		FetchTimeout:            DefaultFetchTimeout,
	}
	for _, opt := range f.opts {
		opt(o)
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (f *Func[A, T]) key(args A, o *Options[A, T]) (string, error) {
	if o.CalculateKey != nil {
		return cacheKey(o.Prefix, f.id, o.CalculateKey(args)), nil
	}
	hash, err := DefaultKey(args)
	if err != nil {
		return "", errors.Wrapf(err, "failed to calculate key for operation: %s", f.id)
	}
	return cacheKey(o.Prefix, f.id, hash), nil
}

// Key returns the cache key a call with args and opts would use
func (f *Func[A, T]) Key(args A, opts ...Option[A, T]) (string, error) {
	return f.key(args, f.resolve(opts))
}

// Invalidate removes the cached entry a call with args and opts would use
func (f *Func[A, T]) Invalidate(ctx context.Context, args A, opts ...Option[A, T]) error {
	key, err := f.Key(args, opts...)
	if err != nil {
		return err
	}
	return f.w.container.RemoveItem(ctx, key)
}

// Call serves args from the cache or the operation.
//
// Fresh entries are returned as is. Stale entries are returned immediately
// while one background refresh per key is scheduled. Missing or expired
// entries block on the operation, whose result is written back when
// ShouldStore allows. Operation errors are returned and never cached.
func (f *Func[A, T]) Call(ctx context.Context, args A, opts ...Option[A, T]) (T, error) {
	var zero T
	o := f.resolve(opts)

	if o.CacheTime <= 0 && o.StaleTime <= 0 {
		return f.fn(ctx, args)
	}

	key, err := f.key(args, o)
	if err != nil {
		return zero, err
	}

	item, err := f.w.container.GetItem(ctx, key)
	if err == nil {
		switch item.State {
		case StateFresh:
			return item.Content, nil

		case StateStale:
			f.revalidate(ctx, key, args, o)
			return item.Content, nil

		case StateExpired:
			// GetItem never returns expired items
		}
	} else if !IsErrKeyNotFound(err) {
		return zero, err
	}

	if o.Coalesce {
		return f.fetchCoalesced(ctx, key, args, o)
	}
	return f.fetch(ctx, key, args, o)
}

func (f *Func[A, T]) revalidate(ctx context.Context, key string, args A, o *Options[A, T]) {
	name := queueName(f.id, o.Prefix)
	f.w.registry.SetConcurrency(name, o.RevalidationConcurrency)

	admitted := f.w.registry.Enqueue(ctx, name, key, func(ctx context.Context) error {
		fetchCtx, cancel := f.detach(ctx, o)
		defer cancel()
		_, err := f.fetch(fetchCtx, key, args, o)
		return err
	})
	if admitted {
		f.w.logger.DebugContext(ctx, "scheduled background revalidation", "queue", name, "key", key)
	}
}

// detach drops the caller's cancellation and deadline and applies the fetch
// timeout instead, so a hung operation cannot hold a key or a queue slot forever
func (f *Func[A, T]) detach(ctx context.Context, o *Options[A, T]) (context.Context, context.CancelFunc) {
	timeout := o.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (f *Func[A, T]) fetch(ctx context.Context, key string, args A, o *Options[A, T]) (T, error) {
	var zero T

	value, err := f.fn(ctx, args)
	if err != nil {
		return zero, errors.Wrapf(err, "operation %s failed for key: %s", f.id, key)
	}

	if o.ShouldStore != nil && !o.ShouldStore(value) {
		return value, nil
	}

	if err := f.w.container.SetItem(ctx, key, value,
		WithTTL(o.CacheTime),
		WithStaleTTL(o.StaleTime),
	); err != nil {
		return zero, err
	}

	return value, nil
}

func (f *Func[A, T]) fetchCoalesced(ctx context.Context, key string, args A, o *Options[A, T]) (T, error) {
	var zero T

	resChan := f.sfg.DoChan(key, func() (result any, resultErr error) {
		defer func() {
			if r := recover(); r != nil {
				f.w.logger.ErrorContext(ctx, "panic during operation",
					"key", key,
					"panic", r,
					"stack", string(debug.Stack()))
				var zero T
				result = zero
				resultErr = errors.Errorf("panic during operation: %v", r)
			}
		}()
		fetchCtx, cancel := f.detach(ctx, o)
		defer cancel()
		return f.fetch(fetchCtx, key, args, o)
	})

	select {
	case <-ctx.Done():
		return zero, errors.Wrapf(ctx.Err(), "context cancelled during fetch for key: %s", key)
	case res := <-resChan:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}
