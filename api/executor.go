// Package api
// Author: momentics
//
// Executor contract for bounded, timeout-aware task dispatch.

package api

import (
	"context"
	"time"
)

// Executor abstracts a bounded worker pool with an explicit lifecycle.
type Executor interface {
	// Submit schedules task, waiting up to timeout for a worker to claim it.
	// A false result with a nil error means the timeout elapsed.
	Submit(ctx context.Context, task func(), timeout time.Duration) (bool, error)

	// Shutdown stops accepting work. Accepted work still runs.
	Shutdown()

	// AwaitTermination waits up to timeout for the pool to drain after Shutdown.
	AwaitTermination(ctx context.Context, timeout time.Duration) (bool, error)
}
