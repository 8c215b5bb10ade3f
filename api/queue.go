// Package api
// Author: momentics@gmail.com
//
// Unbounded lock-free queue contracts for cross-goroutine handoff.

package api

import "context"

// Queue is a non-blocking MPMC FIFO with an optional spinning dequeue.
type Queue[T any] interface {
	// Put appends v.
	Put(v T)
	// TryTake removes the oldest item, returns false if empty.
	TryTake() (T, bool)
	// IsEmpty is a snapshot, not a guarantee under concurrent mutation.
	IsEmpty() bool
	// Dequeue spins until an item is available or ctx is done.
	Dequeue(ctx context.Context) (T, error)
}

// BlockingQueue lets consumers wait for data without taking a lock.
type BlockingQueue[T any] interface {
	// Enqueue appends v or hands it to the oldest waiting consumer.
	Enqueue(v T)
	// Dequeue returns the next item, waiting until one arrives or ctx is done.
	Dequeue(ctx context.Context) (T, error)
	// IsEmpty is advisory only.
	IsEmpty() bool
}
