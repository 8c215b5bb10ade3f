// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for concurrency module.

package concurrency

import (
	"fmt"

	"github.com/momentics/hioload-sync/api"
)

var (
	// ErrRejectedExecution indicates a submission after Shutdown.
	ErrRejectedExecution = fmt.Errorf("executor is shutting down: %w", api.ErrRejectedExecution)

	// ErrInvalidWorkerCount indicates invalid worker count configuration
	ErrInvalidWorkerCount = fmt.Errorf("invalid worker count: %w", api.ErrInvalidArgument)

	// ErrInvalidKeepAlive indicates a non-positive worker idle timeout
	ErrInvalidKeepAlive = fmt.Errorf("invalid keep-alive: %w", api.ErrInvalidArgument)

	// ErrNilTask indicates Submit was called without a task
	ErrNilTask = fmt.Errorf("task cannot be nil: %w", api.ErrInvalidArgument)
)
