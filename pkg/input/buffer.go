// Package input stores per-tick player input with a last-known-value
// fallback for ticks whose input never arrived.
package input

import (
	"github.com/vango-dev/netsync/pkg/protocol"
)

// MaxTicksAhead bounds how far past the oldest buffered tick an input may be
// stored. Inputs further ahead are dropped.
const MaxTicksAhead = 512

type slot[T any] struct {
	value T
	ok    bool
}

// Buffer holds inputs indexed by tick. It is not safe for concurrent use.
//
// Pop consumes ticks in order; once a tick has been popped, inputs arriving
// for it (or any earlier tick) are no longer buffered, but they still count
// towards the fallback if they are newer than the current fallback.
type Buffer[T any] struct {
	start   protocol.Tick // tick of slots[0]
	slots   []slot[T]
	started bool

	// floor is the first tick that has not been popped yet.
	floor  protocol.Tick
	popped bool

	last     T
	lastTick protocol.Tick
	hasLast  bool
}

// NewBuffer creates an empty buffer.
func NewBuffer[T any]() *Buffer[T] {
	return &Buffer[T]{}
}

// Set stores v for tick, overwriting any previous value for that tick.
// It reports whether the value was buffered.
func (b *Buffer[T]) Set(tick protocol.Tick, v T) bool {
	if b.popped && tick.Before(b.floor) {
		b.offerFallback(tick, v)
		return false
	}
	if !b.started {
		b.start = tick
		b.slots = b.slots[:0]
		b.started = true
	}

	diff := tick.Diff(b.start)
	if diff < 0 {
		// Out of order arrival ahead of the pop floor: grow at the front.
		grow := -diff
		if len(b.slots)+grow > MaxTicksAhead {
			return false
		}
		slots := make([]slot[T], grow+len(b.slots))
		copy(slots[grow:], b.slots)
		b.slots = slots
		b.start = tick
		diff = 0
	}
	if diff >= MaxTicksAhead {
		return false
	}
	for len(b.slots) <= diff {
		b.slots = append(b.slots, slot[T]{})
	}
	b.slots[diff] = slot[T]{value: v, ok: true}
	return true
}

// Get returns the input stored for tick without consuming it.
func (b *Buffer[T]) Get(tick protocol.Tick) (T, bool) {
	var zero T
	if !b.started {
		return zero, false
	}
	diff := tick.Diff(b.start)
	if diff < 0 || diff >= len(b.slots) {
		return zero, false
	}
	s := b.slots[diff]
	return s.value, s.ok
}

// Pop returns the input for tick and discards every buffered tick up to and
// including it. The latest input among the discarded ticks becomes the
// fallback returned by Last.
func (b *Buffer[T]) Pop(tick protocol.Tick) (T, bool) {
	var zero T
	if b.popped && tick.Before(b.floor) {
		return zero, false
	}
	b.floor = tick.Add(1)
	b.popped = true
	if !b.started {
		return zero, false
	}

	diff := tick.Diff(b.start)
	if diff < 0 {
		return zero, false
	}
	n := diff + 1
	if n > len(b.slots) {
		n = len(b.slots)
	}
	for i := n - 1; i >= 0; i-- {
		if b.slots[i].ok {
			b.offerFallback(b.start.Add(i), b.slots[i].value)
			break
		}
	}

	var out slot[T]
	if diff < len(b.slots) {
		out = b.slots[diff]
	}
	if n == len(b.slots) {
		b.slots = b.slots[:0]
		b.started = false
	} else {
		b.slots = b.slots[n:]
		b.start = tick.Add(1)
	}
	return out.value, out.ok
}

// Last returns the most recent input at or before the last popped tick.
// It reports false until an input has been popped.
func (b *Buffer[T]) Last() (T, bool) {
	return b.last, b.hasLast
}

// Len returns the number of buffered tick slots, present or not.
func (b *Buffer[T]) Len() int {
	return len(b.slots)
}

func (b *Buffer[T]) offerFallback(tick protocol.Tick, v T) {
	if b.hasLast && !tick.After(b.lastTick) {
		return
	}
	b.last = v
	b.lastTick = tick
	b.hasLast = true
}
