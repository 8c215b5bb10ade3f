//go:build !linux
// +build !linux

// control/platform_other.go
// Author: momentics <momentics@gmail.com>
//
// Debug probes for platforms without sched_getaffinity.

package control

import (
	"runtime"

	"github.com/momentics/hioload-sync/affinity"
)

// RegisterPlatformProbes adds CPU and affinity probes.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.pinning", func() any {
		return affinity.Supported()
	})
}
