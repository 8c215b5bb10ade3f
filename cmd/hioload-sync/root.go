// File: cmd/hioload-sync/root.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/momentics/hioload-sync/control"
)

// app holds what the subcommands share once flags are parsed.
type app struct {
	v        *viper.Viper
	cfgFile  string
	cfg      *control.Config
	logger   *zap.Logger
	metrics  *control.MetricsRegistry
	probes   *control.DebugProbes
	reloader *control.Reloader
	srv      *http.Server
}

func newApp() *app {
	return &app{v: viper.New()}
}

func newRootCommand(a *app) *cobra.Command {
	defaults := mustDefaults()

	root := &cobra.Command{
		Use:          "hioload-sync",
		Short:        "Load generator for the hioload-sync executor and lock-free queues",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.start()
		},
	}

	fl := root.PersistentFlags()
	fl.StringVar(&a.cfgFile, "config", "", "config file (yaml, json or toml)")
	fl.String("log-level", defaults.LogLevel, "log level: debug, info, warn or error")
	fl.String("metrics-addr", defaults.MetricsAddr, "serve /metrics and /debug/probes on this address")
	a.bind(fl, "log-level", "log-level")
	a.bind(fl, "metrics-addr", "metrics-addr")

	root.AddCommand(newExecutorCommand(a), newQueueCommand(a))
	return root
}

func mustDefaults() *control.Config {
	cfg, err := control.NewConfig()
	if err != nil {
		panic(err)
	}
	return cfg
}

// bind maps flag name to the viper key. A missing flag is a programming error.
func (a *app) bind(fl *pflag.FlagSet, key, name string) {
	if err := a.v.BindPFlag(key, fl.Lookup(name)); err != nil {
		panic(err)
	}
}

func (a *app) start() error {
	cfg, err := control.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	logger, err := control.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	a.metrics = control.NewMetricsRegistry()
	a.probes = control.NewDebugProbes()
	control.RegisterPlatformProbes(a.probes)

	a.reloader = control.NewReloader(a.v, logger)
	a.reloader.Watch()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		mux.Handle("/debug/probes", a.probes.Handler())
		a.srv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		logger.Info("serving metrics", zap.String("addr", cfg.MetricsAddr))
	}
	return nil
}

// run executes fn and always releases what start acquired. cobra skips
// PersistentPostRun when RunE fails, so cleanup cannot live there.
func (a *app) run(cmd *cobra.Command, fn func(*cobra.Command) error) error {
	defer a.stop()
	return fn(cmd)
}

func (a *app) stop() {
	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}
	a.logger.Debug("probe state", zap.Any("probes", a.probes.DumpState()))
	// Sync fails on non-syncable outputs such as a terminal.
	_ = a.logger.Sync()
}
