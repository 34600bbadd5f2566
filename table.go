package loopmonitor

import (
	"reflect"
	"sync"
	"sync/atomic"
	"time"
)

// MonitorFunc is a periodic health check. It receives the monitored core
// and runs on the watchdog thread, never the scheduler thread. The core may
// be nil during the single grace pass that follows scheduler loss.
//
// A returned error is surfaced via [Core.ReportUnhandledFailure]; it does
// not unschedule the function or stop the watchdog. Panics are contained
// the same way.
type MonitorFunc func(core Core) error

// monitorEntry pairs a monitoring function with its period and the
// timestamp of its last invocation. The function and period are immutable;
// updates replace the entry object, so published snapshots stay consistent.
type monitorEntry struct {
	fn     MonitorFunc
	fnID   uintptr
	period time.Duration

	// lastRun is nanoseconds on the monitor's monotonic clock, 0 meaning
	// "never run". Written only by the watchdog thread; atomic so updates
	// may copy it across a concurrent pass.
	lastRun atomic.Int64
}

func newEntry(fn MonitorFunc, period time.Duration) *monitorEntry {
	return &monitorEntry{fn: fn, fnID: funcID(fn), period: period}
}

// funcID returns the identity used to deduplicate monitoring functions:
// the function's code pointer. Distinct top-level functions and methods are
// distinct; two closures over the same function literal share an identity.
func funcID(fn MonitorFunc) uintptr {
	return reflect.ValueOf(fn).Pointer()
}

// scheduleTable is the ordered collection of monitoring entries. Entry 0 is
// always the built-in blocking check, its period mirroring the configured
// threshold.
//
// Mutations happen under the mutex and publish a fresh slice; the watchdog
// thread iterates snapshots, so it observes either the old or the new table,
// never a partially updated one. The minimum period across all entries is
// cached on every mutation and read without locking.
type scheduleTable struct {
	mu      sync.Mutex
	entries []*monitorEntry
	minimum atomic.Int64 // nanoseconds
}

// seed installs the built-in entry at index 0. Called once, before the
// watchdog thread starts.
func (t *scheduleTable) seed(fn MonitorFunc, period time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = []*monitorEntry{newEntry(fn, period)}
	t.recomputeLocked()
}

// refresh replaces entry 0's period with the configured threshold when it
// changed, recomputing the cached minimum, and returns the current snapshot.
func (t *scheduleTable) refresh(threshold time.Duration) []*monitorEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.entries) > 0 && t.entries[0].period != threshold {
		old := t.entries[0]
		head := &monitorEntry{fn: old.fn, fnID: old.fnID, period: threshold}
		head.lastRun.Store(old.lastRun.Load())
		t.entries = append([]*monitorEntry{head}, t.entries[1:]...)
		t.recomputeLocked()
	}
	return t.entries
}

// snapshot returns the current entry slice without touching the threshold.
func (t *scheduleTable) snapshot() []*monitorEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries
}

// addOrUpdate schedules fn approximately every period. If fn is already
// scheduled, only its period changes; the last-run timestamp is preserved,
// so an update does not cause an immediate extra run.
func (t *scheduleTable) addOrUpdate(fn MonitorFunc, period time.Duration) error {
	if fn == nil {
		return ErrNilMonitorFunc
	}
	if period <= 0 {
		return ErrInvalidPeriod
	}
	entry := newEntry(fn, period)

	t.mu.Lock()
	defer t.mu.Unlock()
	next := make([]*monitorEntry, len(t.entries))
	replaced := false
	for i, e := range t.entries {
		if e.fnID == entry.fnID {
			entry.lastRun.Store(e.lastRun.Load())
			next[i] = entry
			replaced = true
		} else {
			next[i] = e
		}
	}
	if !replaced {
		next = append(next, entry)
	}
	t.entries = next
	t.recomputeLocked()
	return nil
}

// remove drops every entry matching fn's identity. Removing a function that
// was never added is a no-op. Callers must never remove the built-in entry.
func (t *scheduleTable) remove(fn MonitorFunc) {
	if fn == nil {
		return
	}
	id := funcID(fn)

	t.mu.Lock()
	defer t.mu.Unlock()
	next := make([]*monitorEntry, 0, len(t.entries))
	for _, e := range t.entries {
		if e.fnID != id {
			next = append(next, e)
		}
	}
	if len(next) == len(t.entries) {
		return
	}
	t.entries = next
	t.recomputeLocked()
}

// minPeriod is an O(1) read of the cached minimum period; it never triggers
// recomputation.
func (t *scheduleTable) minPeriod() time.Duration {
	return time.Duration(t.minimum.Load())
}

func (t *scheduleTable) recomputeLocked() {
	if len(t.entries) == 0 {
		t.minimum.Store(0)
		return
	}
	minimum := t.entries[0].period
	for _, e := range t.entries[1:] {
		if e.period < minimum {
			minimum = e.period
		}
	}
	t.minimum.Store(int64(minimum))
}
