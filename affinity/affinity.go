// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files (affinity_linux.go, affinity_windows.go, etc.) guarded by build tags.

package affinity

import (
	"fmt"
	"runtime"

	"github.com/momentics/hioload-sync/api"
)

// Pin binds the current OS thread to a given logical CPU.
// The caller must already hold runtime.LockOSThread, otherwise the goroutine may
// migrate to an unpinned thread right after the call.
func Pin(cpuID int) error {
	if cpuID < 0 || cpuID >= runtime.NumCPU() {
		return fmt.Errorf("affinity: cpu %d out of range [0,%d): %w", cpuID, runtime.NumCPU(), api.ErrInvalidArgument)
	}
	return setAffinityPlatform(cpuID)
}

// Supported reports whether Pin can succeed on this platform.
func Supported() bool {
	return platformSupported
}
