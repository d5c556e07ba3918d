package lazy

// Option holds either a value (Some) or nothing (None). It is how a Value
// reports a handle that may not have been constructed yet.
type Option[T any] struct {
	v  T
	ok bool
}

// Some returns an Option holding v.
func Some[T any](v T) Option[T] {
	return Option[T]{v: v, ok: true}
}

// None returns an empty Option.
func None[T any]() Option[T] {
	return Option[T]{}
}

// Get returns the held value and whether there is one.
func (o Option[T]) Get() (T, bool) {
	return o.v, o.ok
}

func (o Option[T]) IsSome() bool {
	return o.ok
}

// OrElse returns the held value, or fallback if there is none.
func (o Option[T]) OrElse(fallback T) T {
	if o.ok {
		return o.v
	}
	return fallback
}
