package transport

import "sync/atomic"

// RingChannel is a bounded channel-like mailbox with overwrite-oldest semantics.
//
// The radio notification callback writes with ForceSend and never blocks; the frame pump
// reads from C() like a normal channel. When the pump falls behind, the oldest undecoded
// frames are discarded and counted.
type RingChannel[T any] struct {
	ch      chan T
	dropped atomic.Uint64
}

// NewRingChannel creates a RingChannel with the given capacity.
func NewRingChannel[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// ForceSend always succeeds immediately, discarding the oldest if needed.
// It never blocks.
func (rc *RingChannel[T]) ForceSend(v T) {
	for {
		select {
		case rc.ch <- v:
			return
		default:
		}
		select {
		case <-rc.ch: // drop oldest
			rc.dropped.Add(1)
		default:
		}
	}
}

// Dropped returns how many elements were discarded to make room.
func (rc *RingChannel[T]) Dropped() uint64 {
	return rc.dropped.Load()
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}
