package concurrency_test

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/momentics/hioload-sync/api"
	"github.com/momentics/hioload-sync/core/concurrency"
	"github.com/momentics/hioload-sync/internal/deadline"
)

// recorder collects task labels in execution order.
type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) task(label string, d time.Duration) func() {
	return func() {
		time.Sleep(d)
		r.mu.Lock()
		r.order = append(r.order, label)
		r.mu.Unlock()
	}
}

func (r *recorder) Order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

var _ = Describe("Executor", func() {
	var (
		ctx     context.Context
		exec    *concurrency.Executor
		release chan struct{}
	)

	// blocking occupies a worker until release is closed.
	blocking := func() { <-release }

	newExecutor := func(size int, keepAlive time.Duration, opts ...concurrency.Option) *concurrency.Executor {
		logger := zap.New(zapcore.NewCore(
			zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
			zapcore.AddSync(GinkgoWriter),
			zap.DebugLevel,
		))
		e, err := concurrency.NewExecutor(size, keepAlive, append([]concurrency.Option{concurrency.WithLogger(logger)}, opts...)...)
		Expect(err).NotTo(HaveOccurred())
		return e
	}

	BeforeEach(func() {
		ctx = context.Background()
		release = make(chan struct{})
		exec = nil
	})

	AfterEach(func() {
		select {
		case <-release:
		default:
			close(release)
		}
		if exec != nil {
			exec.Shutdown()
			ok, err := exec.AwaitTermination(ctx, 2*time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		}
	})

	Describe("NewExecutor", func() {
		It("should reject a pool size below one", func() {
			_, err := concurrency.NewExecutor(0, time.Second)
			Expect(err).To(MatchError(concurrency.ErrInvalidWorkerCount))
			Expect(errors.Is(err, api.ErrInvalidArgument)).To(BeTrue())
		})

		It("should reject a non-positive keep-alive", func() {
			_, err := concurrency.NewExecutor(1, 0)
			Expect(err).To(MatchError(concurrency.ErrInvalidKeepAlive))
		})

		It("should start with no workers", func() {
			exec = newExecutor(4, time.Second, concurrency.WithName("io"))
			stats := exec.Stats()
			Expect(stats.Name).To(Equal("io"))
			Expect(stats.MaxPoolSize).To(Equal(4))
			Expect(stats.WorkingThreads).To(BeZero())
			Expect(exec.IsShutdown()).To(BeFalse())
			Expect(exec.IsTerminated()).To(BeFalse())
		})
	})

	Describe("Submit", func() {
		It("should run a queued task after the running one in a pool of one", func() {
			exec = newExecutor(1, 500*time.Millisecond)
			rec := &recorder{}

			ok, err := exec.Submit(ctx, rec.task("A", 50*time.Millisecond), 500*time.Millisecond)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			ok, err = exec.Submit(ctx, rec.task("B", 0), 500*time.Millisecond)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			exec.Shutdown()
			ok, err = exec.AwaitTermination(ctx, 500*time.Millisecond)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(rec.Order()).To(Equal([]string{"A", "B"}))
		})

		It("should fail with ErrNilTask for a nil task", func() {
			exec = newExecutor(1, time.Second)
			ok, err := exec.Submit(ctx, nil, time.Second)
			Expect(ok).To(BeFalse())
			Expect(err).To(MatchError(concurrency.ErrNilTask))
		})

		It("should time out when every worker stays busy", func() {
			exec = newExecutor(2, time.Second)
			started := make(chan struct{}, 2)
			for i := 0; i < 2; i++ {
				ok, err := exec.Submit(ctx, func() {
					started <- struct{}{}
					<-release
				}, 0)
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())
			}
			// both tasks run at the same time, neither waits for the other
			for i := 0; i < 2; i++ {
				Eventually(started).Should(Receive())
			}

			start := time.Now()
			ok, err := exec.Submit(ctx, blocking, 100*time.Millisecond)
			elapsed := time.Since(start)

			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(elapsed).To(BeNumerically(">=", 100*time.Millisecond))
			Expect(elapsed).To(BeNumerically("<", time.Second))

			stats := exec.Stats()
			Expect(stats.PendingWork).To(BeZero())
			Expect(stats.TimedOut).To(Equal(int64(1)))
			Expect(stats.WorkingThreads).To(Equal(2))
		})

		It("should return at once with a zero timeout when the pool is full", func() {
			exec = newExecutor(1, time.Second)
			Expect(exec.Submit(ctx, blocking, 0)).To(BeTrue())

			start := time.Now()
			ok, err := exec.Submit(ctx, blocking, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(time.Since(start)).To(BeNumerically("<", 50*time.Millisecond))
			Expect(exec.Stats().Queued).To(BeZero())
		})

		It("should never run more than maxPoolSize tasks at once", func() {
			exec = newExecutor(3, time.Second)
			var active, peak, done atomic.Int32
			task := func() {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				active.Add(-1)
				done.Add(1)
			}

			var wg sync.WaitGroup
			for i := 0; i < 12; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					ok, err := exec.Submit(ctx, task, deadline.Infinite)
					Expect(err).NotTo(HaveOccurred())
					Expect(ok).To(BeTrue())
				}()
			}
			wg.Wait()

			Eventually(done.Load, 2*time.Second).Should(Equal(int32(12)))
			Expect(peak.Load()).To(BeNumerically("<=", 3))
			Expect(exec.Stats().Spawned).To(BeNumerically("<=", 3))
		})

		It("should hand queued tasks to workers in FIFO order", func() {
			exec = newExecutor(1, time.Second)
			rec := &recorder{}
			Expect(exec.Submit(ctx, blocking, 0)).To(BeTrue())

			var wg sync.WaitGroup
			for _, label := range []string{"B", "C"} {
				wg.Add(1)
				go func(l string) {
					defer GinkgoRecover()
					defer wg.Done()
					Expect(exec.Submit(ctx, rec.task(l, 0), deadline.Infinite)).To(BeTrue())
				}(label)
				want := 1
				if label == "C" {
					want = 2
				}
				Eventually(func() int { return exec.Stats().PendingWork }).Should(Equal(want))
			}

			close(release)
			wg.Wait()
			Eventually(rec.Order).Should(Equal([]string{"B", "C"}))
		})

		It("should prefer an idle worker over spawning a new one", func() {
			exec = newExecutor(4, time.Minute)
			ran := make(chan struct{}, 2)
			Expect(exec.Submit(ctx, func() { ran <- struct{}{} }, 0)).To(BeTrue())
			Eventually(ran).Should(Receive())
			Eventually(func() int { return exec.Stats().IdleWorkers }).Should(Equal(1))

			Expect(exec.Submit(ctx, func() { ran <- struct{}{} }, 0)).To(BeTrue())
			Eventually(ran).Should(Receive())

			stats := exec.Stats()
			Expect(stats.Spawned).To(Equal(int64(1)))
			Expect(stats.DirectHandoffs).To(Equal(int64(1)))
		})

		It("should accept a handoff even when the context is already cancelled", func() {
			exec = newExecutor(1, time.Minute)
			Expect(exec.Submit(ctx, func() {}, 0)).To(BeTrue())
			Eventually(func() int { return exec.Stats().IdleWorkers }).Should(Equal(1))

			cctx, cancel := context.WithCancel(ctx)
			cancel()
			ok, err := exec.Submit(cctx, func() {}, time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		// openWhenQueued closes gate once e has one pending submission.
		openWhenQueued := func(e *concurrency.Executor, gate chan struct{}) {
			go func() {
				defer GinkgoRecover()
				Eventually(func() int { return e.Stats().PendingWork }).Should(Equal(1))
				close(gate)
			}()
		}

		It("should report success when a claimed task cancels its own submitter", func() {
			for i := 0; i < 50; i++ {
				e := newExecutor(1, time.Second)
				gate := make(chan struct{})
				Expect(e.Submit(ctx, func() { <-gate }, 0)).To(BeTrue())

				cctx, cancel := context.WithCancel(ctx)
				ran := make(chan struct{})
				openWhenQueued(e, gate)
				ok, err := e.Submit(cctx, func() {
					cancel()
					close(ran)
				}, deadline.Infinite)
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())
				Eventually(ran).Should(BeClosed())
				Expect(e.Stats().Interrupted).To(BeZero())

				e.Shutdown()
				Expect(e.AwaitTermination(ctx, time.Second)).To(BeTrue())
				cancel()
			}
		})

		It("should keep a task a worker already claimed when the submitter is cancelled", func() {
			core, logs := observer.New(zap.DebugLevel)
			claimedAfterCancel := func() int {
				return logs.FilterMessage("submitter cancelled after task was claimed").Len()
			}

			// The submitter wakes on cancellation while the finishing worker
			// races it for the lock. Repeat until the worker wins at least once.
			for i := 0; i < 200 && claimedAfterCancel() == 0; i++ {
				e := newExecutor(1, time.Second, concurrency.WithLogger(zap.New(core)))
				cctx, cancel := context.WithCancel(ctx)
				gate := make(chan struct{})
				Expect(e.Submit(ctx, func() {
					<-gate
					cancel()
				}, 0)).To(BeTrue())

				var ran atomic.Bool
				openWhenQueued(e, gate)
				ok, err := e.Submit(cctx, func() { ran.Store(true) }, deadline.Infinite)

				e.Shutdown()
				Expect(e.AwaitTermination(ctx, time.Second)).To(BeTrue())
				stats := e.Stats()
				if ok {
					Expect(err).NotTo(HaveOccurred())
					Expect(ran.Load()).To(BeTrue())
					Expect(stats.Interrupted).To(BeZero())
				} else {
					Expect(err).To(MatchError(context.Canceled))
					Expect(ran.Load()).To(BeFalse())
					Expect(stats.Interrupted).To(Equal(int64(1)))
				}
				Expect(stats.PendingWork).To(BeZero())
			}
			Expect(claimedAfterCancel()).To(BeNumerically(">", 0))
		})

		It("should withdraw a queued task when the context is cancelled", func() {
			exec = newExecutor(1, time.Second)
			Expect(exec.Submit(ctx, blocking, 0)).To(BeTrue())

			cctx, cancel := context.WithCancel(ctx)
			time.AfterFunc(30*time.Millisecond, cancel)

			var ran atomic.Bool
			ok, err := exec.Submit(cctx, func() { ran.Store(true) }, deadline.Infinite)
			Expect(ok).To(BeFalse())
			Expect(err).To(MatchError(context.Canceled))
			Expect(api.CodeOf(err)).To(Equal(api.ErrCodeInterrupted))

			stats := exec.Stats()
			Expect(stats.PendingWork).To(BeZero())
			Expect(stats.Interrupted).To(Equal(int64(1)))

			close(release)
			Consistently(ran.Load, 100*time.Millisecond).Should(BeFalse())
		})

		It("should reject submissions after Shutdown without blocking", func() {
			exec = newExecutor(1, time.Second)
			Expect(exec.Submit(ctx, blocking, 0)).To(BeTrue())
			exec.Shutdown()

			start := time.Now()
			ok, err := exec.Submit(ctx, func() {}, time.Second)
			Expect(ok).To(BeFalse())
			Expect(err).To(MatchError(concurrency.ErrRejectedExecution))
			Expect(errors.Is(err, api.ErrRejectedExecution)).To(BeTrue())
			Expect(time.Since(start)).To(BeNumerically("<", 50*time.Millisecond))
			Expect(exec.Stats().Rejected).To(Equal(int64(1)))
		})

		It("should keep a worker alive after its task panics", func() {
			core, logs := observer.New(zap.ErrorLevel)
			e, err := concurrency.NewExecutor(1, time.Minute, concurrency.WithLogger(zap.New(core)))
			Expect(err).NotTo(HaveOccurred())
			exec = e

			Expect(exec.Submit(ctx, func() { panic("boom") }, 0)).To(BeTrue())
			Eventually(func() int64 { return exec.Stats().Panicked }).Should(Equal(int64(1)))
			Expect(logs.FilterMessage("task panicked").Len()).To(Equal(1))

			done := make(chan struct{})
			Expect(exec.Submit(ctx, func() { close(done) }, time.Second)).To(BeTrue())
			Eventually(done).Should(BeClosed())
			Expect(exec.Stats().Spawned).To(Equal(int64(1)))
		})
	})

	Describe("worker keep-alive", func() {
		It("should retire idle workers after keepAlive", func() {
			exec = newExecutor(2, 50*time.Millisecond)
			Expect(exec.Submit(ctx, func() {}, 0)).To(BeTrue())

			Eventually(func() int { return exec.Stats().WorkingThreads }, time.Second).Should(BeZero())
			stats := exec.Stats()
			Expect(stats.Retired).To(Equal(int64(1)))
			Expect(stats.IdleWorkers).To(BeZero())
		})
	})

	Describe("Shutdown and AwaitTermination", func() {
		It("should terminate a pool that never ran anything", func() {
			exec = newExecutor(2, time.Second)
			exec.Shutdown()
			ok, err := exec.AwaitTermination(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(exec.IsTerminated()).To(BeTrue())
		})

		It("should report false before Shutdown", func() {
			exec = newExecutor(1, time.Second)
			ok, err := exec.AwaitTermination(ctx, 20*time.Millisecond)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(exec.Stats().WaitingTermination).To(BeZero())
		})

		It("should report false when the timeout is shorter than the remaining work", func() {
			exec = newExecutor(1, time.Second)
			Expect(exec.Submit(ctx, blocking, 0)).To(BeTrue())
			exec.Shutdown()

			ok, err := exec.AwaitTermination(ctx, 50*time.Millisecond)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())

			ok, err = exec.AwaitTermination(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())

			close(release)
			ok, err = exec.AwaitTermination(ctx, time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("should run queued work accepted before Shutdown", func() {
			exec = newExecutor(1, time.Second)
			Expect(exec.Submit(ctx, blocking, 0)).To(BeTrue())

			var ran atomic.Bool
			accepted := make(chan bool, 1)
			go func() {
				ok, _ := exec.Submit(ctx, func() { ran.Store(true) }, deadline.Infinite)
				accepted <- ok
			}()
			Eventually(func() int { return exec.Stats().PendingWork }).Should(Equal(1))

			exec.Shutdown()
			close(release)
			Eventually(accepted).Should(Receive(BeTrue()))

			ok, err := exec.AwaitTermination(ctx, time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(ran.Load()).To(BeTrue())
		})

		It("should return the context error when cancelled while waiting", func() {
			exec = newExecutor(1, time.Second)
			Expect(exec.Submit(ctx, blocking, 0)).To(BeTrue())
			exec.Shutdown()

			cctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
			defer cancel()
			ok, err := exec.AwaitTermination(cctx, deadline.Infinite)
			Expect(ok).To(BeFalse())
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
			Expect(exec.Stats().WaitingTermination).To(BeZero())
		})

		It("should retire idle workers promptly on Shutdown", func() {
			exec = newExecutor(2, time.Hour)
			Expect(exec.Submit(ctx, func() {}, 0)).To(BeTrue())
			Eventually(func() int { return exec.Stats().IdleWorkers }).Should(Equal(1))

			exec.Shutdown()
			ok, err := exec.AwaitTermination(ctx, time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("should be idempotent", func() {
			exec = newExecutor(1, time.Second)
			Expect(exec.Submit(ctx, func() {}, 0)).To(BeTrue())

			exec.Shutdown()
			Expect(exec.AwaitTermination(ctx, time.Second)).To(BeTrue())
			first := exec.Stats()

			exec.Shutdown()
			Expect(exec.AwaitTermination(ctx, 0)).To(BeTrue())
			Expect(exec.Stats()).To(Equal(first))
		})

		It("should not leak goroutines", func() {
			baseline := runtime.NumGoroutine()

			exec = newExecutor(8, time.Minute)
			for i := 0; i < 32; i++ {
				Expect(exec.Submit(ctx, func() { time.Sleep(time.Millisecond) }, deadline.Infinite)).To(BeTrue())
			}
			exec.Shutdown()
			Expect(exec.AwaitTermination(ctx, 2*time.Second)).To(BeTrue())

			Eventually(runtime.NumGoroutine, 2*time.Second).Should(BeNumerically("<=", baseline))
		})
	})
})
