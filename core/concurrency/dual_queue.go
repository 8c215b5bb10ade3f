// File: core/concurrency/dual_queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Lock-free dual queue after Scherer & Scott. The list after head is either
// all DATUM nodes (values waiting for consumers) or all REQUEST nodes
// (consumers waiting for values). A consumer that finds no data links a
// REQUEST node and spins on the request slot of the node it linked after.
// A producer that finds requests fills the slot at head and advances head.

package concurrency

import (
	"context"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/momentics/hioload-sync/api"
)

// Ensure compile-time interface compliance.
var _ api.BlockingQueue[any] = (*DualQueue[any])(nil)

type nodeKind uint8

const (
	kindDatum nodeKind = iota
	kindRequest
)

type dualNode[T any] struct {
	kind nodeKind
	// data is written before the node is published and never changed.
	data T
	// request is the fulfilment slot of the REQUEST node that follows this one.
	request atomic.Pointer[dualNode[T]]
	next    atomic.Pointer[dualNode[T]]
}

// DualQueue is an unbounded MPMC queue where Dequeue waits, without locks,
// for a matching Enqueue. Waiting consumers are served in FIFO order.
type DualQueue[T any] struct {
	head atomic.Pointer[dualNode[T]]
	_    cpu.CacheLinePad
	tail atomic.Pointer[dualNode[T]]
	_    cpu.CacheLinePad
	// abandoned is stored into a request slot by a consumer that gave up.
	abandoned *dualNode[T]
}

// NewDualQueue creates an empty queue whose sentinel is a DATUM node.
func NewDualQueue[T any]() *DualQueue[T] {
	q := &DualQueue[T]{abandoned: &dualNode[T]{kind: kindDatum}}
	sentinel := &dualNode[T]{kind: kindDatum}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	return q
}

// Enqueue either hands v to the oldest waiting consumer or appends it.
// It never blocks.
func (q *DualQueue[T]) Enqueue(v T) {
	n := &dualNode[T]{kind: kindDatum, data: v}
	for {
		t := q.tail.Load()
		h := q.head.Load()
		if t == h || t.kind != kindRequest {
			// empty or data mode: append
			next := t.next.Load()
			if t != q.tail.Load() {
				continue
			}
			if next != nil {
				q.tail.CompareAndSwap(t, next)
				continue
			}
			if t.next.CompareAndSwap(nil, n) {
				q.tail.CompareAndSwap(t, n)
				return
			}
			continue
		}
		// request mode: fulfil the request whose slot is on head
		next := h.next.Load()
		if t != q.tail.Load() || next == nil {
			continue
		}
		req := h.request.Load()
		if h != q.head.Load() {
			continue
		}
		fulfilled := req == nil && h.request.CompareAndSwap(nil, n)
		// the slot is used up either way; move past it
		q.head.CompareAndSwap(h, next)
		if fulfilled {
			return
		}
	}
}

// Dequeue takes the oldest value, or waits until a producer supplies one.
// If ctx ends first and no producer claimed this consumer, Dequeue returns
// ctx.Err() and any later value goes to another consumer. If a producer won
// the race, the value is returned and ctx is ignored.
func (q *DualQueue[T]) Dequeue(ctx context.Context) (T, error) {
	var n *dualNode[T]
	for {
		h := q.head.Load()
		t := q.tail.Load()
		if t == h || t.kind == kindRequest {
			// empty or request mode: queue a request
			next := t.next.Load()
			if t != q.tail.Load() {
				continue
			}
			if next != nil {
				q.tail.CompareAndSwap(t, next)
				continue
			}
			if n == nil {
				n = &dualNode[T]{kind: kindRequest}
			}
			if !t.next.CompareAndSwap(nil, n) {
				continue
			}
			q.tail.CompareAndSwap(t, n)
			// help snip a fulfilled request still sitting at head
			if h == q.head.Load() && h.request.Load() != nil {
				if hn := h.next.Load(); hn != nil {
					q.head.CompareAndSwap(h, hn)
				}
			}
			return q.awaitFulfilment(ctx, t, n)
		}
		// data mode: read before committing, the node is immutable
		next := h.next.Load()
		if t != q.tail.Load() || next == nil {
			continue
		}
		// next.data is left in place: a losing reader may still be reading it
		v := next.data
		if q.head.CompareAndSwap(h, next) {
			return v, nil
		}
	}
}

// awaitFulfilment spins on t.request, the slot for request node n.
func (q *DualQueue[T]) awaitFulfilment(ctx context.Context, t, n *dualNode[T]) (T, error) {
	sw := newSpinWait()
	for {
		if d := t.request.Load(); d != nil && d != q.abandoned {
			// the producer usually advances head; help if it has not
			q.head.CompareAndSwap(t, n)
			return d.data, nil
		}
		if err := sw.wait(ctx); err != nil {
			if t.request.CompareAndSwap(nil, q.abandoned) {
				q.head.CompareAndSwap(t, n)
				var zero T
				return zero, err
			}
			// a producer filled the slot first; take its value on the next pass
		}
	}
}

// IsEmpty reports whether the most recently linked node has an empty request
// slot. The answer is advisory and may be stale on return.
func (q *DualQueue[T]) IsEmpty() bool {
	return q.tail.Load().request.Load() == nil
}
