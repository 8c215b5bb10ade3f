// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Functional options for Executor.

package concurrency

import "go.uber.org/zap"

// Option configures an Executor at construction time.
type Option func(*Executor)

// WithLogger sets the logger. Nil keeps the no-op default.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithName labels the executor in logs and metrics.
func WithName(name string) Option {
	return func(e *Executor) {
		if name != "" {
			e.name = name
		}
	}
}

// WithCPUAffinity pins worker i to cpus[i%len(cpus)]. Each worker locks its
// goroutine to an OS thread for its whole lifetime.
func WithCPUAffinity(cpus ...int) Option {
	return func(e *Executor) {
		e.cpus = append([]int(nil), cpus...)
	}
}
