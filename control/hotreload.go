// control/hotreload.go
// Author: momentics <momentics@gmail.com>
//
// Re-decodes the config file on change and dispatches the result to listeners.

package control

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Reloader watches the file behind a viper instance.
type Reloader struct {
	v      *viper.Viper
	logger *zap.Logger

	mu        sync.RWMutex
	listeners []func(*Config)
}

// NewReloader creates a Reloader. Call Watch to start it.
func NewReloader(v *viper.Viper, logger *zap.Logger) *Reloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reloader{v: v, logger: logger.Named("config")}
}

// OnReload registers fn to receive every valid reloaded Config.
func (r *Reloader) OnReload(fn func(*Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Watch starts watching the config file. It is a no-op without one.
func (r *Reloader) Watch() {
	if r.v.ConfigFileUsed() == "" {
		return
	}
	r.v.OnConfigChange(func(e fsnotify.Event) {
		r.logger.Info("config file changed", zap.String("file", e.Name), zap.Stringer("op", e.Op))
		r.Reload()
	})
	r.v.WatchConfig()
}

// Reload decodes the current viper state and notifies listeners
// synchronously. Invalid configs are logged and dropped.
func (r *Reloader) Reload() {
	cfg, err := decode(r.v)
	if err != nil {
		r.logger.Warn("config reload rejected", zap.Error(err))
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, fn := range r.listeners {
		fn(cfg)
	}
}
