// File: internal/bench/bench.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Load generators behind the hioload-sync CLI: a producer fan-out over an
// Executor and a producer/consumer run over one of the lock-free queues.

package bench

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/momentics/hioload-sync/control"
	"github.com/momentics/hioload-sync/core/concurrency"
	"github.com/momentics/hioload-sync/internal/deadline"
)

// Limit converts a per-second rate into a rate.Limit; 0 means unlimited.
func Limit(perSecond float64) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}

// NewLimiter returns a limiter for perSecond events. Its limit may be changed
// later with SetLimit.
func NewLimiter(perSecond float64) *rate.Limiter {
	return rate.NewLimiter(Limit(perSecond), 1)
}

// split divides total into n nearly equal parts.
func split(total, n int) []int {
	parts := make([]int, n)
	for i := range parts {
		parts[i] = total / n
		if i < total%n {
			parts[i]++
		}
	}
	return parts
}

// ExecutorResult summarises an executor run.
type ExecutorResult struct {
	Accepted int64
	TimedOut int64
	Ran      int64
	Elapsed  time.Duration
	Stats    concurrency.ExecutorStats
}

// Throughput returns accepted tasks per second.
func (r ExecutorResult) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Accepted) / r.Elapsed.Seconds()
}

// RunExecutor submits cfg.Tasks tasks from cfg.Producers goroutines, paced by
// lim, then shuts exec down and waits for it to drain.
func RunExecutor(ctx context.Context, exec *concurrency.Executor, cfg control.ExecutorConfig, lim *rate.Limiter) (ExecutorResult, error) {
	var accepted, timedOut, ran atomic.Int64
	task := func() {
		if cfg.TaskDuration > 0 {
			time.Sleep(cfg.TaskDuration)
		}
		ran.Add(1)
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for _, n := range split(cfg.Tasks, cfg.Producers) {
		g.Go(func() error {
			for i := 0; i < n; i++ {
				if err := lim.Wait(gctx); err != nil {
					return err
				}
				ok, err := exec.Submit(gctx, task, cfg.SubmitTimeout)
				if err != nil {
					return fmt.Errorf("submit: %w", err)
				}
				if ok {
					accepted.Add(1)
				} else {
					timedOut.Add(1)
				}
			}
			return nil
		})
	}
	runErr := g.Wait()

	exec.Shutdown()
	if _, err := exec.AwaitTermination(ctx, deadline.Infinite); err != nil && runErr == nil {
		runErr = fmt.Errorf("await termination: %w", err)
	}
	return ExecutorResult{
		Accepted: accepted.Load(),
		TimedOut: timedOut.Load(),
		Ran:      ran.Load(),
		Elapsed:  time.Since(start),
		Stats:    exec.Stats(),
	}, runErr
}

// QueueResult summarises a queue run.
type QueueResult struct {
	Kind      string
	Items     int64
	Sum       int64
	Elapsed   time.Duration
	Cancelled int64
}

// Throughput returns delivered items per second.
func (r QueueResult) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Items) / r.Elapsed.Seconds()
}

type queueOps struct {
	put  func(int64)
	take func(context.Context) (int64, error)
}

func newQueue(kind string) (queueOps, error) {
	switch kind {
	case control.QueueKindFIFO:
		q := concurrency.NewLockFreeQueue[int64]()
		return queueOps{put: q.Put, take: q.Dequeue}, nil
	case control.QueueKindDual:
		q := concurrency.NewDualQueue[int64]()
		return queueOps{put: q.Enqueue, take: q.Dequeue}, nil
	}
	return queueOps{}, fmt.Errorf("unknown queue kind %q", kind)
}

// RunQueue moves the values 1..cfg.Items from cfg.Producers producers to
// cfg.Consumers consumers and verifies every value arrived exactly once by
// count and checksum. m may be nil.
func RunQueue(ctx context.Context, cfg control.QueueConfig, lim *rate.Limiter, m *control.QueueMetrics) (QueueResult, error) {
	q, err := newQueue(cfg.Kind)
	if err != nil {
		return QueueResult{}, err
	}
	total := int64(cfg.Items)
	res := QueueResult{Kind: cfg.Kind}
	if total == 0 {
		return res, nil
	}

	var received, sum, cancelled atomic.Int64
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	// consumers stop through cctx once the last value is in
	cctx, stop := context.WithCancel(gctx)
	defer stop()

	for c := 0; c < cfg.Consumers; c++ {
		g.Go(func() error {
			for {
				begin := time.Now()
				v, err := q.take(cctx)
				if err != nil {
					// a stop after the last value is the normal exit, not a cancellation
					if gctx.Err() == nil {
						return nil
					}
					cancelled.Add(1)
					if m != nil {
						m.Cancelled.Inc()
					}
					return gctx.Err()
				}
				if m != nil {
					m.Wait.Observe(time.Since(begin).Seconds())
					m.Dequeued.Inc()
				}
				sum.Add(v)
				if received.Add(1) == total {
					stop()
					return nil
				}
			}
		})
	}

	next := int64(1)
	for _, n := range split(cfg.Items, cfg.Producers) {
		first := next
		next += int64(n)
		g.Go(func() error {
			for v := first; v < first+int64(n); v++ {
				if err := lim.Wait(gctx); err != nil {
					return err
				}
				q.put(v)
				if m != nil {
					m.Enqueued.Inc()
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		res.Cancelled = cancelled.Load()
		return res, err
	}
	res.Items = received.Load()
	res.Sum = sum.Load()
	res.Cancelled = cancelled.Load()
	res.Elapsed = time.Since(start)

	if want := total * (total + 1) / 2; res.Items != total || res.Sum != want {
		return res, fmt.Errorf("%s queue lost or duplicated values: got %d items sum %d, want %d items sum %d",
			cfg.Kind, res.Items, res.Sum, total, want)
	}
	return res, nil
}
