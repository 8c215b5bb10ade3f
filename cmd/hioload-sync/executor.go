// File: cmd/hioload-sync/executor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/momentics/hioload-sync/api"
	"github.com/momentics/hioload-sync/control"
	"github.com/momentics/hioload-sync/core/concurrency"
	"github.com/momentics/hioload-sync/internal/bench"
)

const benchExecutorName = "bench"

func newExecutorCommand(a *app) *cobra.Command {
	d := mustDefaults().Executor
	cmd := &cobra.Command{
		Use:   "executor",
		Short: "Submit tasks through a bounded Executor and wait for it to drain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, a.runExecutor)
		},
	}

	fl := cmd.Flags()
	fl.Int("pool-size", d.PoolSize, "maximum number of worker goroutines")
	fl.Duration("keep-alive", d.KeepAlive, "how long an idle worker waits before retiring")
	fl.Duration("submit-timeout", d.SubmitTimeout, "how long Submit waits for a worker; 0 never waits, negative waits forever")
	fl.Duration("task-duration", d.TaskDuration, "simulated work per task")
	fl.Int("tasks", d.Tasks, "number of tasks to submit")
	fl.Int("producers", d.Producers, "number of submitting goroutines")
	fl.Float64("rate", d.Rate, "submissions per second across producers; 0 is unlimited")
	fl.IntSlice("cpus", d.CPUs, "pin workers round-robin to these CPUs")
	for _, name := range []string{"pool-size", "keep-alive", "submit-timeout", "task-duration", "tasks", "producers", "rate", "cpus"} {
		a.bind(fl, "executor."+name, name)
	}
	return cmd
}

func (a *app) runExecutor(cmd *cobra.Command) error {
	c := a.cfg.Executor
	opts := []concurrency.Option{
		concurrency.WithLogger(a.logger),
		concurrency.WithName(benchExecutorName),
	}
	if len(c.CPUs) > 0 {
		opts = append(opts, concurrency.WithCPUAffinity(c.CPUs...))
	}
	exec, err := concurrency.NewExecutor(c.PoolSize, c.KeepAlive, opts...)
	if err != nil {
		return err
	}
	if err := a.metrics.RegisterExecutor(benchExecutorName, exec); err != nil {
		return err
	}
	a.probes.RegisterExecutor(benchExecutorName, exec)

	lim := bench.NewLimiter(c.Rate)
	a.reloader.OnReload(func(cfg *control.Config) {
		lim.SetLimit(bench.Limit(cfg.Executor.Rate))
		a.logger.Info("submit rate updated", zap.Float64("rate", cfg.Executor.Rate))
	})

	a.logger.Info("executor benchmark starting",
		zap.Int("pool_size", c.PoolSize),
		zap.Int("tasks", c.Tasks),
		zap.Int("producers", c.Producers))
	res, err := bench.RunExecutor(cmd.Context(), exec, c, lim)
	if err != nil {
		a.logger.Error("executor benchmark failed", zap.Error(err), zap.Stringer("code", api.CodeOf(err)))
		return err
	}
	if res.TimedOut > 0 {
		a.logger.Warn("some submissions timed out", zap.Error(
			api.NewError(api.ErrCodeTimeout, "submit timed out").
				WithContext("count", res.TimedOut).
				WithContext("timeout", c.SubmitTimeout)))
	}
	a.logger.Info("executor benchmark finished",
		zap.Int64("accepted", res.Accepted),
		zap.Int64("timed_out", res.TimedOut),
		zap.Int64("ran", res.Ran),
		zap.Duration("elapsed", res.Elapsed),
		zap.Float64("tasks_per_sec", res.Throughput()),
		zap.Int64("spawned", res.Stats.Spawned),
		zap.Int64("handoffs", res.Stats.DirectHandoffs),
		zap.Int64("panicked", res.Stats.Panicked))
	return nil
}
