//go:build linux

// Package affinity confines the calling goroutine's OS thread to a single
// CPU, approximating the spec's single-core, single-thread-of-execution
// premise on a general-purpose kernel.
package affinity

import (
	"sync"

	"golang.org/x/sys/unix"
)

var (
	schedSetAffinityMu sync.RWMutex
	schedSetAffinity   = unix.SchedSetaffinity
)

// PinCurrentThreadTo confines the calling OS thread to the given CPU index.
// Callers must have already called runtime.LockOSThread so the binding
// survives goroutine rescheduling.
func PinCurrentThreadTo(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)

	schedSetAffinityMu.RLock()
	fn := schedSetAffinity
	schedSetAffinityMu.RUnlock()

	return fn(0, &set)
}
