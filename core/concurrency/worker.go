// File: core/concurrency/worker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker goroutine lifecycle: run a task, look for more, park while idle,
// retire on keep-alive expiry or shutdown.

package concurrency

import (
	"runtime"

	"go.uber.org/zap"

	"github.com/momentics/hioload-sync/affinity"
	"github.com/momentics/hioload-sync/internal/deadline"
)

// worker fields other than id, exec and wake are guarded by exec.mu.
type worker struct {
	id   int
	exec *Executor
	// ready is set together with task by a direct handoff.
	ready bool
	task  Task
	// wake carries at most one pending signal; it may be stale.
	wake chan struct{}
}

func newWorker(id int, e *Executor) *worker {
	return &worker{id: id, exec: e, wake: make(chan struct{}, 1)}
}

// signal wakes the worker if it is parked. Caller holds exec.mu.
func (w *worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// handOff gives task to an idle worker that was already removed from the
// idle stack. Caller holds exec.mu.
func (w *worker) handOff(task Task) {
	w.task = task
	w.ready = true
	w.signal()
}

func (w *worker) run(first Task) {
	e := w.exec
	if len(e.cpus) > 0 {
		// The thread is never unlocked: when the goroutine exits the pinned
		// thread exits with it.
		runtime.LockOSThread()
		cpu := e.cpus[w.id%len(e.cpus)]
		if err := affinity.Pin(cpu); err != nil {
			e.logger.Warn("worker pinning failed", zap.Int("worker", w.id), zap.Int("cpu", cpu), zap.Error(err))
		}
	}
	e.logger.Debug("worker started", zap.Int("worker", w.id))
	for task := first; task != nil; task = e.findWork(w) {
		e.safeExecute(w, task)
	}
	e.logger.Debug("worker retired", zap.Int("worker", w.id))
}

// findWork returns the next task for w, or nil once w has retired.
func (e *Executor) findWork(w *worker) Task {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pendingWork.Length() > 0 {
		item := e.pendingWork.Remove().(*workItem)
		item.claim()
		return item.task
	}
	if e.isShuttingDown {
		e.retireLocked()
		return nil
	}

	w.ready = false
	w.task = nil
	e.idleWorkers = append(e.idleWorkers, w)
	d := deadline.Start(e.keepAlive)
	for {
		// a handoff that raced with expiry still wins
		if w.ready {
			task := w.task
			w.task = nil
			w.ready = false
			return task
		}
		if deadline.IsTimeout(deadline.Remaining(d)) || e.isShuttingDown {
			e.removeIdleLocked(w)
			e.retireLocked()
			return nil
		}
		timeout, stop := d.Timer()
		e.mu.Unlock()
		select {
		case <-w.wake:
		case <-timeout:
		}
		stop()
		e.mu.Lock()
	}
}

func (e *Executor) safeExecute(w *worker, task Task) {
	defer func() {
		e.completed.Add(1)
		if r := recover(); r != nil {
			e.panicked.Add(1)
			e.logger.Error("task panicked",
				zap.Int("worker", w.id),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	task()
}

// removeIdleLocked drops w from the idle stack if present.
func (e *Executor) removeIdleLocked(w *worker) {
	for i := len(e.idleWorkers) - 1; i >= 0; i-- {
		if e.idleWorkers[i] == w {
			copy(e.idleWorkers[i:], e.idleWorkers[i+1:])
			e.idleWorkers[len(e.idleWorkers)-1] = nil
			e.idleWorkers = e.idleWorkers[:len(e.idleWorkers)-1]
			return
		}
	}
}

// popIdleLocked takes the most recently parked worker.
func (e *Executor) popIdleLocked() *worker {
	n := len(e.idleWorkers)
	if n == 0 {
		return nil
	}
	w := e.idleWorkers[n-1]
	e.idleWorkers[n-1] = nil
	e.idleWorkers = e.idleWorkers[:n-1]
	return w
}

func (e *Executor) retireLocked() {
	e.workingThreads--
	e.retired++
	e.signalTerminationLocked()
}
