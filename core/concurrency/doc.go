// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package concurrency provides the in-process concurrency primitives:
//
//   - Executor, a bounded worker pool with blocking, timeout-aware Submit and
//     graceful Shutdown/AwaitTermination.
//   - LockFreeQueue, an unbounded Michael–Scott MPMC FIFO queue.
//   - DualQueue, a lock-free dual queue whose consumers wait through linked
//     request nodes instead of locks.
//
// Blocking calls take a context.Context. Cancelling it is the only way to
// interrupt a waiter. A timeout is reported as a false result with a nil
// error, never as an error.
package concurrency
