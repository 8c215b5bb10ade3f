// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics, configuration, logging and debug introspection for the
// hioload-sync primitives.
//
// Provides:
//   - Prometheus export of executor statistics and queue throughput
//   - Config loading from defaults, file, environment and flags, with reload
//   - zap logger construction from a level name
//   - Named debug probes with a JSON dump handler
package control
