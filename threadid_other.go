//go:build !linux

package loopmonitor

// osThreadID falls back to the goroutine id on platforms without a cheap
// OS thread identity. The value is diagnostic only.
func osThreadID() uint64 {
	return goroutineID()
}
