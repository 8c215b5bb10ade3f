// File: core/concurrency/executor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor is a bounded worker pool with timeout-aware blocking submission.
// A task goes to an idle worker if there is one, to a new worker while the
// pool is below capacity, and otherwise waits in a FIFO until a worker claims
// it or the submitter gives up. Idle workers retire after keepAlive.

package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/momentics/hioload-sync/api"
	"github.com/momentics/hioload-sync/internal/deadline"
)

// Ensure compile-time interface compliance.
var _ api.Executor = (*Executor)(nil)

// Task is a unit of work run by an Executor.
type Task = func()

// workItem is a queued task. Once claimed it is executing and never pending.
type workItem struct {
	task        Task
	isExecuting bool
	claimed     chan struct{}
}

// claim marks the item as executing and wakes its submitter. Caller holds the lock.
func (it *workItem) claim() {
	it.isExecuting = true
	close(it.claimed)
}

// ExecutorStats is a point-in-time snapshot of an Executor.
type ExecutorStats struct {
	Name               string
	MaxPoolSize        int
	KeepAlive          time.Duration
	WorkingThreads     int
	IdleWorkers        int
	PendingWork        int
	WaitingTermination int
	ShuttingDown       bool
	Terminated         bool

	Submitted      int64
	DirectHandoffs int64
	Spawned        int64
	Queued         int64
	TimedOut       int64
	Interrupted    int64
	Rejected       int64
	Retired        int64
	Completed      int64
	Panicked       int64
}

// Executor runs tasks on at most maxPoolSize worker goroutines.
type Executor struct {
	name        string
	maxPoolSize int
	keepAlive   time.Duration
	cpus        []int
	logger      *zap.Logger

	mu                 sync.Mutex
	workingThreads     int
	idleWorkers        []*worker // LIFO: the most recently parked worker is reused first
	pendingWork        *queue.Queue
	isShuttingDown     bool
	waitingTermination int
	nextWorkerID       int
	// terminated is closed once the pool has drained after Shutdown.
	terminated       chan struct{}
	terminatedClosed bool

	// counters guarded by mu
	submitted, handoffs, spawned, queued     int64
	timedOut, interrupted, rejected, retired int64

	// updated by workers outside the lock
	completed atomic.Int64
	panicked  atomic.Int64
}

// NewExecutor creates an Executor. No worker exists until the first Submit.
func NewExecutor(maxPoolSize int, keepAlive time.Duration, opts ...Option) (*Executor, error) {
	if maxPoolSize < 1 {
		return nil, ErrInvalidWorkerCount
	}
	if keepAlive <= 0 {
		return nil, ErrInvalidKeepAlive
	}
	e := &Executor{
		name:        "executor",
		maxPoolSize: maxPoolSize,
		keepAlive:   keepAlive,
		logger:      zap.NewNop(),
		pendingWork: queue.New(),
		terminated:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("executor").With(zap.String("executor", e.name))
	return e, nil
}

// Submit runs task on a worker, waiting up to timeout for one to take it.
// It returns (true, nil) once a worker owns the task, (false, nil) on timeout
// and (false, ctx.Err()) if ctx ends before a worker claims it. A negative
// timeout waits forever; zero never waits. After Shutdown it fails with
// ErrRejectedExecution.
func (e *Executor) Submit(ctx context.Context, task Task, timeout time.Duration) (bool, error) {
	if task == nil {
		return false, ErrNilTask
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isShuttingDown {
		e.rejected++
		return false, ErrRejectedExecution
	}
	e.submitted++

	if w := e.popIdleLocked(); w != nil {
		w.handOff(task)
		e.handoffs++
		return true, nil
	}
	if e.workingThreads < e.maxPoolSize {
		e.spawnLocked(task)
		return true, nil
	}
	if deadline.NoWait(timeout) {
		e.timedOut++
		return false, nil
	}

	item := &workItem{task: task, claimed: make(chan struct{})}
	e.pendingWork.Add(item)
	e.queued++
	return e.awaitClaimLocked(ctx, item, deadline.Start(timeout))
}

// awaitClaimLocked waits for a worker to claim item. It is entered and left
// with the lock held.
func (e *Executor) awaitClaimLocked(ctx context.Context, item *workItem, d deadline.Deadline) (bool, error) {
	for {
		timeout, stop := d.Timer()
		e.mu.Unlock()
		var cancelled bool
		select {
		case <-item.claimed:
		case <-timeout:
		case <-ctx.Done():
			cancelled = true
		}
		stop()
		e.mu.Lock()

		if item.isExecuting {
			if cancelled {
				e.logger.Debug("submitter cancelled after task was claimed")
			}
			return true, nil
		}
		if cancelled {
			e.removePendingLocked(item)
			e.interrupted++
			return false, ctx.Err()
		}
		if deadline.IsTimeout(deadline.Remaining(d)) {
			e.removePendingLocked(item)
			e.timedOut++
			return false, nil
		}
	}
}

// removePendingLocked deletes item from pendingWork, keeping the order of the rest.
func (e *Executor) removePendingLocked(item *workItem) {
	for i, n := 0, e.pendingWork.Length(); i < n; i++ {
		it := e.pendingWork.Remove().(*workItem)
		if it != item {
			e.pendingWork.Add(it)
		}
	}
}

func (e *Executor) spawnLocked(task Task) {
	w := newWorker(e.nextWorkerID, e)
	e.nextWorkerID++
	e.workingThreads++
	e.spawned++
	go w.run(task)
}

// Shutdown stops accepting tasks. Queued and running tasks still complete.
// Idle workers retire at once. Calling Shutdown again has no effect.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isShuttingDown {
		return
	}
	e.isShuttingDown = true
	for _, w := range e.idleWorkers {
		w.signal()
	}
	e.signalTerminationLocked()
	e.logger.Info("shutdown requested",
		zap.Int("working", e.workingThreads),
		zap.Int("pending", e.pendingWork.Length()))
}

// AwaitTermination waits until Shutdown was called and every worker has
// retired. It returns false on timeout and ctx.Err() if ctx ends first,
// unless the pool drained in the meantime.
func (e *Executor) AwaitTermination(ctx context.Context, timeout time.Duration) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.drainedLocked() {
		return true, nil
	}
	if deadline.NoWait(timeout) {
		return false, nil
	}

	d := deadline.Start(timeout)
	e.waitingTermination++
	defer func() { e.waitingTermination-- }()
	for {
		if deadline.IsTimeout(deadline.Remaining(d)) {
			return false, nil
		}
		expired, stop := d.Timer()
		e.mu.Unlock()
		var err error
		select {
		case <-e.terminated:
		case <-expired:
		case <-ctx.Done():
			err = ctx.Err()
		}
		stop()
		e.mu.Lock()
		if e.drainedLocked() {
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}
}

// IsShutdown reports whether Shutdown has been called.
func (e *Executor) IsShutdown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isShuttingDown
}

// IsTerminated reports whether the pool has drained after Shutdown.
func (e *Executor) IsTerminated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drainedLocked()
}

// Name returns the executor label.
func (e *Executor) Name() string { return e.name }

// Stats returns a snapshot of pool state and counters.
func (e *Executor) Stats() ExecutorStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ExecutorStats{
		Name:               e.name,
		MaxPoolSize:        e.maxPoolSize,
		KeepAlive:          e.keepAlive,
		WorkingThreads:     e.workingThreads,
		IdleWorkers:        len(e.idleWorkers),
		PendingWork:        e.pendingWork.Length(),
		WaitingTermination: e.waitingTermination,
		ShuttingDown:       e.isShuttingDown,
		Terminated:         e.drainedLocked(),
		Submitted:          e.submitted,
		DirectHandoffs:     e.handoffs,
		Spawned:            e.spawned,
		Queued:             e.queued,
		TimedOut:           e.timedOut,
		Interrupted:        e.interrupted,
		Rejected:           e.rejected,
		Retired:            e.retired,
		Completed:          e.completed.Load(),
		Panicked:           e.panicked.Load(),
	}
}

func (e *Executor) drainedLocked() bool {
	return e.isShuttingDown && e.workingThreads == 0
}

// signalTerminationLocked releases AwaitTermination callers once drained.
func (e *Executor) signalTerminationLocked() {
	if e.drainedLocked() && !e.terminatedClosed {
		e.terminatedClosed = true
		close(e.terminated)
		e.logger.Info("executor terminated")
	}
}
