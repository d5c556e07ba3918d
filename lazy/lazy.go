package lazy

import (
	"context"
	"sync/atomic"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"tailscale.com/util/singleflight"
)

var log = logging.Logger("lazy")

type config struct {
	timeout time.Duration
}

// Setting configures a Value.
type Setting func(*config)

// WithTimeout bounds how long a single Get call waits for construction. The
// construction itself is not interrupted; if it later succeeds its result is
// kept for subsequent calls.
//
// Default is no timeout, callers wait until their context is done.
func WithTimeout(d time.Duration) Setting {
	return func(cfg *config) {
		cfg.timeout = d
	}
}

// Value constructs a T on first use and keeps it for every later use.
type Value[T any] struct {
	factory  func() (T, error)
	timeout  time.Duration
	handle   atomic.Pointer[T]
	sf       singleflight.Group[struct{}, T]
	attempts atomic.Int64
}

// New returns a Value that will call factory when first needed. The factory
// is not called here.
func New[T any](factory func() (T, error), settings ...Setting) *Value[T] {
	var cfg config
	for _, set := range settings {
		set(&cfg)
	}
	return &Value[T]{
		factory: factory,
		timeout: cfg.timeout,
	}
}

// Get returns the constructed value, constructing it if needed. Concurrent
// callers share one factory call and observe the same result. A factory error
// is returned as is and not remembered, so the next Get tries again.
//
// If ctx is done, or the configured timeout passes, before construction
// finishes then Get returns the context error.
func (v *Value[T]) Get(ctx context.Context) (T, error) {
	if p := v.handle.Load(); p != nil {
		return *p, nil
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	ch := v.sf.DoChan(struct{}{}, v.construct)
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (v *Value[T]) construct() (T, error) {
	// Another construction may have finished after the caller's check.
	if p := v.handle.Load(); p != nil {
		return *p, nil
	}

	n := v.attempts.Add(1)
	start := time.Now()
	t, err := v.factory()
	if err != nil {
		log.Errorw("Construction failed", "err", err, "attempt", n)
		var zero T
		return zero, err
	}
	v.handle.Store(&t)
	log.Infow("Constructed lazy value", "attempt", n, "elapsed", time.Since(start))
	return t, nil
}

// Peek returns the value if it has been constructed, without constructing it.
func (v *Value[T]) Peek() Option[T] {
	if p := v.handle.Load(); p != nil {
		return Some(*p)
	}
	return None[T]()
}

func (v *Value[T]) Initialized() bool {
	return v.handle.Load() != nil
}

// Attempts returns how many times the factory has been called.
func (v *Value[T]) Attempts() int64 {
	return v.attempts.Load()
}
