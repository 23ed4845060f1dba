// Package gate implements presence gating: a per-item value is passed
// through unchanged when its companion condition holds and becomes an
// explicit absent value otherwise.
package gate

import "fmt"

// Optional holds a value that may be absent. The zero Optional is absent.
type Optional[T any] struct {
	value T
	ok    bool
}

// Some returns a present Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, ok: true}
}

// None returns an absent Optional.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.ok
}

// Present reports whether a value is held.
func (o Optional[T]) Present() bool { return o.ok }

// OrZero returns the value, or T's zero value when absent. Suppressed batch
// items use this to fill their placeholder slot.
func (o Optional[T]) OrZero() T {
	if !o.ok {
		var zero T
		return zero
	}
	return o.value
}

// OrElse returns the value or fallback when absent.
func (o Optional[T]) OrElse(fallback T) T {
	if !o.ok {
		return fallback
	}
	return o.value
}

// String implements fmt.Stringer.
func (o Optional[T]) String() string {
	if !o.ok {
		return "absent"
	}
	return fmt.Sprintf("%v", o.value)
}

// AllowIf passes v through when allow is true and suppresses it otherwise.
// Gating an absent value is a no-op, so AllowIf is idempotent.
func AllowIf[T any](v Optional[T], allow bool) Optional[T] {
	if !allow {
		return None[T]()
	}
	return v
}

// DisallowIf is the complement of AllowIf.
func DisallowIf[T any](v Optional[T], disallow bool) Optional[T] {
	return AllowIf(v, !disallow)
}
