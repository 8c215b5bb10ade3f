// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Configuration for the benchmark CLI. Values come, lowest precedence first,
// from struct defaults, an optional config file, HIOLOAD_* environment
// variables and bound command-line flags.

package control

import (
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/spf13/viper"

	"github.com/momentics/hioload-sync/api"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "HIOLOAD"

// Queue kinds accepted by QueueConfig.Kind.
const (
	QueueKindFIFO = "fifo"
	QueueKindDual = "dual"
)

// Config is the root configuration.
type Config struct {
	LogLevel    string         `mapstructure:"log-level" default:"info"`
	MetricsAddr string         `mapstructure:"metrics-addr"`
	Executor    ExecutorConfig `mapstructure:"executor"`
	Queue       QueueConfig    `mapstructure:"queue"`
}

// ExecutorConfig drives the executor benchmark.
type ExecutorConfig struct {
	PoolSize      int           `mapstructure:"pool-size" default:"4"`
	KeepAlive     time.Duration `mapstructure:"keep-alive" default:"500ms"`
	SubmitTimeout time.Duration `mapstructure:"submit-timeout" default:"1s"`
	TaskDuration  time.Duration `mapstructure:"task-duration" default:"1ms"`
	Tasks         int           `mapstructure:"tasks" default:"1000"`
	Producers     int           `mapstructure:"producers" default:"4"`
	// Rate limits submissions per second across producers; 0 is unlimited.
	Rate float64 `mapstructure:"rate"`
	CPUs []int   `mapstructure:"cpus"`
}

// QueueConfig drives the queue benchmark.
type QueueConfig struct {
	Kind      string  `mapstructure:"kind" default:"fifo"`
	Producers int     `mapstructure:"producers" default:"4"`
	Consumers int     `mapstructure:"consumers" default:"4"`
	Items     int     `mapstructure:"items" default:"100000"`
	Rate      float64 `mapstructure:"rate"`
}

// NewConfig returns a Config populated from its default tags.
func NewConfig() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return cfg, nil
}

// Load reads file (if not empty) into v and decodes the merged result.
// Flags must already be bound to v.
func Load(v *viper.Viper, file string) (*Config, error) {
	cfg, err := NewConfig()
	if err != nil {
		return nil, err
	}
	registerDefaults(v, cfg)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg, err := NewConfig()
	if err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// registerDefaults makes every key known to v so that AutomaticEnv can
// override keys that have no flag or file entry.
func registerDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log-level", cfg.LogLevel)
	v.SetDefault("metrics-addr", cfg.MetricsAddr)

	v.SetDefault("executor.pool-size", cfg.Executor.PoolSize)
	v.SetDefault("executor.keep-alive", cfg.Executor.KeepAlive)
	v.SetDefault("executor.submit-timeout", cfg.Executor.SubmitTimeout)
	v.SetDefault("executor.task-duration", cfg.Executor.TaskDuration)
	v.SetDefault("executor.tasks", cfg.Executor.Tasks)
	v.SetDefault("executor.producers", cfg.Executor.Producers)
	v.SetDefault("executor.rate", cfg.Executor.Rate)
	v.SetDefault("executor.cpus", cfg.Executor.CPUs)

	v.SetDefault("queue.kind", cfg.Queue.Kind)
	v.SetDefault("queue.producers", cfg.Queue.Producers)
	v.SetDefault("queue.consumers", cfg.Queue.Consumers)
	v.SetDefault("queue.items", cfg.Queue.Items)
	v.SetDefault("queue.rate", cfg.Queue.Rate)
}

// Validate rejects values the primitives or the benchmarks cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Executor.PoolSize < 1:
		return invalid("executor.pool-size", c.Executor.PoolSize)
	case c.Executor.KeepAlive <= 0:
		return invalid("executor.keep-alive", c.Executor.KeepAlive)
	case c.Executor.Tasks < 0:
		return invalid("executor.tasks", c.Executor.Tasks)
	case c.Executor.Producers < 1:
		return invalid("executor.producers", c.Executor.Producers)
	case c.Executor.Rate < 0:
		return invalid("executor.rate", c.Executor.Rate)
	case c.Queue.Kind != QueueKindFIFO && c.Queue.Kind != QueueKindDual:
		return invalid("queue.kind", c.Queue.Kind)
	case c.Queue.Producers < 1:
		return invalid("queue.producers", c.Queue.Producers)
	case c.Queue.Consumers < 1:
		return invalid("queue.consumers", c.Queue.Consumers)
	case c.Queue.Items < 0:
		return invalid("queue.items", c.Queue.Items)
	case c.Queue.Rate < 0:
		return invalid("queue.rate", c.Queue.Rate)
	}
	return nil
}

func invalid(key string, value any) error {
	return api.NewError(api.ErrCodeInvalidArgument, "invalid config").
		Wrap(api.ErrInvalidArgument).
		WithContext(key, value)
}
