// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus metrics for executors and queues on a private registry.

package control

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/momentics/hioload-sync/core/concurrency"
)

const namespace = "hioload"

// StatsSource is anything that can snapshot executor statistics.
type StatsSource interface {
	Stats() concurrency.ExecutorStats
}

// MetricsRegistry owns a private prometheus registry.
type MetricsRegistry struct {
	reg        *prometheus.Registry
	registerer prometheus.Registerer
}

// NewMetricsRegistry creates a registry with Go runtime and process collectors.
func NewMetricsRegistry() *MetricsRegistry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &MetricsRegistry{
		reg:        reg,
		registerer: prometheus.WrapRegistererWith(prometheus.Labels{"service": "hioload-sync"}, reg),
	}
}

// RegisterExecutor exports src under the executor=name label.
func (mr *MetricsRegistry) RegisterExecutor(name string, src StatsSource) error {
	return mr.registerer.Register(NewExecutorCollector(name, src))
}

// Registerer exposes the labelled registerer for extra collectors.
func (mr *MetricsRegistry) Registerer() prometheus.Registerer {
	return mr.registerer
}

// Gatherer exposes the underlying registry.
func (mr *MetricsRegistry) Gatherer() prometheus.Gatherer {
	return mr.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (mr *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(mr.reg, promhttp.HandlerOpts{Registry: mr.reg})
}

type statDesc struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	value     func(concurrency.ExecutorStats) float64
}

// ExecutorCollector turns ExecutorStats snapshots into metrics at scrape time.
type ExecutorCollector struct {
	name  string
	src   StatsSource
	descs []statDesc
}

// NewExecutorCollector builds a collector for src.
func NewExecutorCollector(name string, src StatsSource) *ExecutorCollector {
	labels := prometheus.Labels{"executor": name}
	gauge := func(metric, help string, fn func(concurrency.ExecutorStats) float64) statDesc {
		return statDesc{
			desc:      prometheus.NewDesc(prometheus.BuildFQName(namespace, "executor", metric), help, nil, labels),
			valueType: prometheus.GaugeValue,
			value:     fn,
		}
	}
	counter := func(metric, help string, fn func(concurrency.ExecutorStats) int64) statDesc {
		return statDesc{
			desc:      prometheus.NewDesc(prometheus.BuildFQName(namespace, "executor", metric), help, nil, labels),
			valueType: prometheus.CounterValue,
			value:     func(s concurrency.ExecutorStats) float64 { return float64(fn(s)) },
		}
	}
	return &ExecutorCollector{
		name: name,
		src:  src,
		descs: []statDesc{
			gauge("max_pool_size", "Configured worker limit.", func(s concurrency.ExecutorStats) float64 { return float64(s.MaxPoolSize) }),
			gauge("working_threads", "Live workers, busy or idle.", func(s concurrency.ExecutorStats) float64 { return float64(s.WorkingThreads) }),
			gauge("idle_workers", "Workers parked waiting for a task.", func(s concurrency.ExecutorStats) float64 { return float64(s.IdleWorkers) }),
			gauge("pending_work", "Submissions waiting for a worker.", func(s concurrency.ExecutorStats) float64 { return float64(s.PendingWork) }),
			gauge("waiting_termination", "Callers blocked in AwaitTermination.", func(s concurrency.ExecutorStats) float64 { return float64(s.WaitingTermination) }),
			gauge("shutting_down", "1 once Shutdown was called.", func(s concurrency.ExecutorStats) float64 { return boolToFloat(s.ShuttingDown) }),
			counter("tasks_submitted_total", "Accepted Submit calls.", func(s concurrency.ExecutorStats) int64 { return s.Submitted }),
			counter("direct_handoffs_total", "Tasks given straight to an idle worker.", func(s concurrency.ExecutorStats) int64 { return s.DirectHandoffs }),
			counter("workers_spawned_total", "Workers created.", func(s concurrency.ExecutorStats) int64 { return s.Spawned }),
			counter("workers_retired_total", "Workers retired.", func(s concurrency.ExecutorStats) int64 { return s.Retired }),
			counter("tasks_queued_total", "Tasks that waited in the pending queue.", func(s concurrency.ExecutorStats) int64 { return s.Queued }),
			counter("submit_timeouts_total", "Submit calls that timed out.", func(s concurrency.ExecutorStats) int64 { return s.TimedOut }),
			counter("submit_interrupted_total", "Submit calls cancelled before a worker claimed the task.", func(s concurrency.ExecutorStats) int64 { return s.Interrupted }),
			counter("submit_rejected_total", "Submit calls rejected after Shutdown.", func(s concurrency.ExecutorStats) int64 { return s.Rejected }),
			counter("tasks_completed_total", "Tasks that finished, including panics.", func(s concurrency.ExecutorStats) int64 { return s.Completed }),
			counter("tasks_panicked_total", "Tasks that panicked.", func(s concurrency.ExecutorStats) int64 { return s.Panicked }),
		},
	}
}

// Describe implements prometheus.Collector.
func (c *ExecutorCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d.desc
	}
}

// Collect implements prometheus.Collector.
func (c *ExecutorCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.src.Stats()
	for _, d := range c.descs {
		ch <- prometheus.MustNewConstMetric(d.desc, d.valueType, d.value(stats))
	}
}

// QueueMetrics tracks queue throughput for one queue kind.
type QueueMetrics struct {
	Enqueued  prometheus.Counter
	Dequeued  prometheus.Counter
	Cancelled prometheus.Counter
	Wait      prometheus.Observer
}

// NewQueueMetrics registers queue counters labelled queue=kind.
func (mr *MetricsRegistry) NewQueueMetrics(kind string) *QueueMetrics {
	factory := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"queue": kind}, mr.registerer))
	return &QueueMetrics{
		Enqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Values added to the queue.",
		}),
		Dequeued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "dequeued_total",
			Help:      "Values removed from the queue.",
		}),
		Cancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "dequeue_cancelled_total",
			Help:      "Blocking dequeues abandoned through context cancellation.",
		}),
		Wait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "dequeue_wait_seconds",
			Help:      "Time spent in a blocking dequeue.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
