// Package box provides a type-erased result container used to hand an
// operation's output across the blocking-lane worker boundary, where the
// concrete type is unknown to the runtime.
package box

import "sync/atomic"

// Box holds a single result of unknown static type, produced by an
// operation running on a worker. Exactly one of Take or Destroy must be
// called on a given Box; calling both, or calling either twice, is a bug
// and Take/Destroy will panic to surface it rather than silently leak or
// double free.
//
// A *Box is safe to hand off between goroutines (e.g. worker -> caller);
// synchronizing that handoff is the caller's responsibility, exactly as
// with any other pointer transferred across a channel or atomic store.
type Box struct {
	consumed atomic.Bool
	value    any
	destroy  func(any)
}

// Make allocates a Box wrapping result. destroy, if non-nil, is invoked by
// Destroy to release any resources owned by result without reading it as
// the asserted type; it must not be invoked by Take, which moves the
// value out instead.
func Make(result any, destroy func(any)) *Box {
	return &Box{value: result, destroy: destroy}
}

// Take destructively moves the payload out of the box, asserting it is of
// type T. It panics if the box was already consumed (via Take or
// Destroy), and panics with a type-assertion failure if the stored value
// is not a T.
func Take[T any](b *Box) T {
	if !b.consumed.CompareAndSwap(false, true) {
		panic("box: take: already consumed")
	}
	v := b.value.(T)
	b.value = nil
	return v
}

// Destroy invokes the box's erased destructor (if any) without reading
// the payload as any particular type, then releases the box. Used on
// abandonment or cancellation, where the result is never observed by a
// caller but any resources it holds (file descriptors, buffers, ...)
// still need releasing.
func Destroy(b *Box) {
	if !b.consumed.CompareAndSwap(false, true) {
		panic("box: destroy: already consumed")
	}
	if b.destroy != nil {
		b.destroy(b.value)
	}
	b.value = nil
}
