//go:build linux

package loopmonitor

import (
	"golang.org/x/sys/unix"
)

// osThreadID returns the identity of the calling OS thread. The watchdog
// calls it after pinning its goroutine with runtime.LockOSThread.
func osThreadID() uint64 {
	return uint64(unix.Gettid())
}
