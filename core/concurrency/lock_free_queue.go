// File: core/concurrency/lock_free_queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Unbounded MPMC FIFO queue after Michael & Scott. All mutation is a CAS on a
// single link; tail may lag by one node and any thread that sees it lagging
// swings it forward before proceeding.

package concurrency

import (
	"context"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/momentics/hioload-sync/api"
)

// Ensure compile-time interface compliance.
var _ api.Queue[any] = (*LockFreeQueue[any])(nil)

type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// LockFreeQueue is a linearizable, non-blocking MPMC queue.
// head always points at a sentinel whose value is logically consumed.
type LockFreeQueue[T any] struct {
	head atomic.Pointer[node[T]]
	_    cpu.CacheLinePad
	tail atomic.Pointer[node[T]]
	_    cpu.CacheLinePad
}

// NewLockFreeQueue creates an empty queue holding only the sentinel.
func NewLockFreeQueue[T any]() *LockFreeQueue[T] {
	q := &LockFreeQueue[T]{}
	sentinel := &node[T]{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	return q
}

// Put appends v. It never blocks and never fails.
func (q *LockFreeQueue[T]) Put(v T) {
	n := &node[T]{value: v}
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if tail != q.tail.Load() {
			continue
		}
		if next != nil {
			// another producer linked first; help it
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		if tail.next.CompareAndSwap(nil, n) {
			// best effort, a later caller fixes a lost swing
			q.tail.CompareAndSwap(tail, n)
			return
		}
	}
}

// TryTake removes and returns the oldest value; ok is false if the queue is empty.
func (q *LockFreeQueue[T]) TryTake() (v T, ok bool) {
	for {
		head := q.head.Load()
		next := head.next.Load()
		if next == nil {
			return v, false
		}
		if tail := q.tail.Load(); tail == head {
			// keep head from overtaking a lagging tail
			q.tail.CompareAndSwap(tail, next)
		}
		if q.head.CompareAndSwap(head, next) {
			// next is the new sentinel; only the winner touches its value
			v = next.value
			var zero T
			next.value = zero
			return v, true
		}
	}
}

// IsEmpty reports whether the queue held no values at the instant of the call.
func (q *LockFreeQueue[T]) IsEmpty() bool {
	return q.head.Load().next.Load() == nil
}

// Dequeue spins on TryTake until a value arrives or ctx is done.
func (q *LockFreeQueue[T]) Dequeue(ctx context.Context) (T, error) {
	sw := newSpinWait()
	for {
		if v, ok := q.TryTake(); ok {
			return v, nil
		}
		if err := sw.wait(ctx); err != nil {
			var zero T
			return zero, err
		}
	}
}
