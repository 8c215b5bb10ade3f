// File: cmd/hioload-sync/queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/momentics/hioload-sync/control"
	"github.com/momentics/hioload-sync/internal/bench"
)

func newQueueCommand(a *app) *cobra.Command {
	d := mustDefaults().Queue
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Move values through a lock-free queue and verify exactly-once delivery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, a.runQueue)
		},
	}

	fl := cmd.Flags()
	fl.String("kind", d.Kind, "queue implementation: fifo or dual")
	fl.Int("producers", d.Producers, "number of producing goroutines")
	fl.Int("consumers", d.Consumers, "number of consuming goroutines")
	fl.Int("items", d.Items, "total number of values to move")
	fl.Float64("rate", d.Rate, "puts per second across producers; 0 is unlimited")
	for _, name := range []string{"kind", "producers", "consumers", "items", "rate"} {
		a.bind(fl, "queue."+name, name)
	}
	return cmd
}

func (a *app) runQueue(cmd *cobra.Command) error {
	c := a.cfg.Queue
	lim := bench.NewLimiter(c.Rate)
	a.reloader.OnReload(func(cfg *control.Config) {
		lim.SetLimit(bench.Limit(cfg.Queue.Rate))
		a.logger.Info("put rate updated", zap.Float64("rate", cfg.Queue.Rate))
	})

	a.logger.Info("queue benchmark starting",
		zap.String("kind", c.Kind),
		zap.Int("producers", c.Producers),
		zap.Int("consumers", c.Consumers),
		zap.Int("items", c.Items))
	res, err := bench.RunQueue(cmd.Context(), c, lim, a.metrics.NewQueueMetrics(c.Kind))
	if err != nil {
		a.logger.Error("queue benchmark failed", zap.Error(err))
		return err
	}
	a.logger.Info("queue benchmark finished",
		zap.String("kind", res.Kind),
		zap.Int64("items", res.Items),
		zap.Int64("checksum", res.Sum),
		zap.Duration("elapsed", res.Elapsed),
		zap.Float64("items_per_sec", res.Throughput()))
	return nil
}
