// File: internal/deadline/deadline.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Monotonic deadline helper shared by the blocking primitives. A relative
// timeout is converted once into an absolute deadline, and every re-wait asks
// for the time remaining instead of reusing the initial timeout.

package deadline

import (
	"math"
	"time"
)

// Infinite is the timeout sentinel meaning "wait forever".
// Any negative timeout is treated the same way.
const Infinite time.Duration = -1

// Deadline is an absolute point in monotonic time.
type Deadline struct {
	at       time.Time
	infinite bool
}

// Start converts a relative timeout into a Deadline.
func Start(timeout time.Duration) Deadline {
	if timeout < 0 {
		return Deadline{infinite: true}
	}
	return Deadline{at: time.Now().Add(timeout)}
}

// Remaining returns the time left until d. The result is <= 0 once the
// deadline has passed; infinite deadlines report math.MaxInt64.
func Remaining(d Deadline) time.Duration {
	if d.infinite {
		return time.Duration(math.MaxInt64)
	}
	return time.Until(d.at)
}

// IsTimeout reports whether a value returned by Remaining means expiry.
func IsTimeout(remaining time.Duration) bool {
	return remaining <= 0
}

// NoWait reports whether the caller asked for an immediate, non-blocking check.
func NoWait(timeout time.Duration) bool {
	return timeout == 0
}

// IsInfinite reports whether d never expires.
func (d Deadline) IsInfinite() bool {
	return d.infinite
}

// Timer returns a channel that fires when d expires, together with a stop
// function. Infinite deadlines return a nil channel, which blocks forever in
// a select.
func (d Deadline) Timer() (<-chan time.Time, func() bool) {
	if d.infinite {
		return nil, func() bool { return false }
	}
	t := time.NewTimer(Remaining(d))
	return t.C, t.Stop
}
