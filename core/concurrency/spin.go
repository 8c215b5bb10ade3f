// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Cancellable spin-then-sleep wait used by the blocking dequeues.

package concurrency

import (
	"context"
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	yieldSpins      = 64
	spinMinInterval = time.Microsecond
	spinMaxInterval = time.Millisecond
)

// spinWait yields the processor for the first yieldSpins attempts, then sleeps
// with exponential backoff capped at spinMaxInterval. It never parks on a lock.
type spinWait struct {
	spins int
	b     *backoff.ExponentialBackOff
}

func newSpinWait() *spinWait {
	return &spinWait{
		b: &backoff.ExponentialBackOff{
			InitialInterval:     spinMinInterval,
			RandomizationFactor: 0.5,
			Multiplier:          2,
			MaxInterval:         spinMaxInterval,
		},
	}
}

// wait pauses once. It returns ctx.Err() as soon as ctx is done.
func (s *spinWait) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.spins < yieldSpins {
		s.spins++
		runtime.Gosched()
		return nil
	}
	t := time.NewTimer(s.b.NextBackOff())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
