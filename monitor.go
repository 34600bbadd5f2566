package loopmonitor

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// Standard errors.
var (
	// ErrNilMonitorFunc is returned when a nil monitoring function is
	// registered.
	ErrNilMonitorFunc = errors.New("loopmonitor: monitor func must be non-nil")

	// ErrInvalidPeriod is returned when a monitoring function is registered
	// with a non-positive period.
	ErrInvalidPeriod = errors.New("loopmonitor: period must be positive")

	// ErrCoreGone is returned by New when the core reference no longer
	// resolves at construction time.
	ErrCoreGone = errors.New("loopmonitor: scheduler core is no longer reachable")
)

const (
	// minSleepTime is the absolute floor for the watchdog sleep interval,
	// regardless of what particular monitoring functions want.
	minSleepTime = 5 * time.Millisecond

	// inactiveSleepTime is used when every monitoring function is disabled,
	// so the thread does not spin while still noticing re-activation
	// promptly.
	inactiveSleepTime = 2 * time.Second
)

// monitorTestHooks provides injection points for deterministic tests.
type monitorTestHooks struct {
	Sleep func(time.Duration)  // replaces the inter-pass sleep
	Now   func() time.Duration // replaces the monotonic clock read
}

// Monitor is the watchdog: a dedicated OS thread that observes task-switch
// activity on a scheduler thread and periodically runs health checks, most
// importantly the built-in blocking check (see [Monitor.CheckBlocking]).
//
// A Monitor holds only a non-owning reference to the core it watches; it
// stops itself once the core becomes unreachable, and may also be stopped
// explicitly via [Monitor.Stop].
type Monitor struct {
	// Prevent copying
	_ [0]func()

	ref   CoreRef
	state monState
	table scheduleTable
	sw    switchState
	stats watchdogStats

	// prev holds the observer that was installed before ours, so Stop can
	// restore it. Swapped to nil exactly once, by whichever Stop wins.
	prev atomic.Pointer[SwitchObserver]

	// threadID is the watchdog's own OS thread identity, for reports.
	threadID atomic.Uint64

	log *logiface.Logger[logiface.Event]

	stackCapture  func(goroutineID uint64) ([]byte, bool)
	runInfo       func(w io.Writer)
	shutdownCheck func() bool

	// anchor is the reference point for the monitor's monotonic clock;
	// entry timestamps are durations since it.
	anchor time.Time

	// done is closed when the watchdog thread exits.
	done chan struct{}

	testHooks *monitorTestHooks
}

// New creates a Monitor for the core resolved by ref and starts its
// dedicated thread. It installs the switch-notification hook (saving any
// previously installed hook) and seeds the schedule with the built-in
// blocking check at the core's configured threshold.
//
// New must be called from the scheduler thread, by convention, since hook
// installation races with switch notifications otherwise. The owner of the
// core is responsible for calling [Monitor.Stop] from its own teardown
// path; alternatively see [Watch], which ties the watchdog's lifetime to
// the core's reachability.
func New(ref CoreRef, opts ...Option) (*Monitor, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	m, err := newMonitor(ref, cfg)
	if err != nil {
		return nil, err
	}
	m.start()
	return m, nil
}

// newMonitor builds the watchdog and installs the switch hook, but does
// not spawn the thread; split out so tests can drive passes directly.
func newMonitor(ref CoreRef, cfg *monitorOptions) (*Monitor, error) {
	if ref == nil {
		return nil, ErrCoreGone
	}
	core := ref.Get()
	if core == nil {
		return nil, ErrCoreGone
	}

	m := &Monitor{
		ref:           ref,
		log:           cfg.logger,
		stackCapture:  cfg.stackCapture,
		runInfo:       cfg.runInfo,
		shutdownCheck: cfg.shutdownCheck,
		anchor:        time.Now(),
		done:          make(chan struct{}),
	}

	// The blocking check always occupies index 0; its period mirrors the
	// configured threshold on every pass.
	m.table.seed(func(core Core) error {
		m.CheckBlocking(core)
		return nil
	}, core.MaxBlockingTime())

	prev := core.SetSwitchObserver(m.observe)
	m.prev.Store(&prev)

	return m, nil
}

// start transitions to Running and spawns the watchdog thread.
func (m *Monitor) start() {
	m.state.TryTransition(StateStarting, StateRunning)
	go m.run()
}

// Watch creates a Monitor whose lifetime is tied to core: the watchdog
// holds only a weak reference, and stops itself once core becomes
// unreachable, via both a finalization hook and the thread's own check at
// the top of each pass.
func Watch[T any, P interface {
	*T
	Core
}](core P, opts ...Option) (*Monitor, error) {
	m, err := New(WeakRef[T, P](core), opts...)
	if err != nil {
		return nil, err
	}
	// m must not retain core strongly, or the cleanup never fires; it
	// holds only the weak reference created above.
	runtime.AddCleanup((*T)(core), func(m *Monitor) { m.Stop() }, m)
	return m, nil
}

// Add schedules fn to be called approximately every period, on the watchdog
// thread, receiving the monitored core. If fn is already scheduled its
// period is updated in place and its last-run timestamp preserved, so
// exactly one entry per function exists.
//
// Function identity is the code pointer: distinct functions and methods are
// distinct, closures over the same literal are not.
//
// A nil fn fails with ErrNilMonitorFunc; a non-positive period fails with
// ErrInvalidPeriod. Both leave the schedule unchanged.
func (m *Monitor) Add(fn MonitorFunc, period time.Duration) error {
	return m.table.addOrUpdate(fn, period)
}

// Remove unschedules a previously added monitoring function. Removing a
// function that was never added is a no-op.
func (m *Monitor) Remove(fn MonitorFunc) {
	m.table.remove(fn)
}

// Stop halts the watchdog: it restores the previously installed switch
// hook, releases it, and lets the thread exit at the top of its next pass
// (an in-progress sleep is not interrupted). Stop is idempotent and safe to
// call from any goroutine.
func (m *Monitor) Stop() {
	if !m.state.TransitionAny([]MonitorState{StateStarting, StateRunning}, StateStopped) {
		return
	}
	// Uninstall is symmetric with install: put back whatever was there.
	prev := m.prev.Swap(nil)
	if core := m.ref.Get(); core != nil {
		var fn SwitchObserver
		if prev != nil {
			fn = *prev
		}
		core.SetSwitchObserver(fn)
	}
	m.log.Debug().
		Stringer("state", StateStopped).
		Log("loopmonitor: watchdog stopped")
}

// Done returns a channel that is closed once the watchdog thread has
// exited.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// State returns the current lifecycle state.
func (m *Monitor) State() MonitorState {
	return m.state.Load()
}

// Stats returns a snapshot of the watchdog's own activity counters and
// pass-latency distribution.
func (m *Monitor) Stats() Stats {
	return m.stats.snapshot()
}

// IgnoreCurrentBlocking clears the active-task attribution, so the next
// blocking check does not implicate whatever is currently running. Debug
// hook; a real switch notification re-attributes immediately.
func (m *Monitor) IgnoreCurrentBlocking() {
	m.sw.setActive(nil)
}

// MonitorCurrentBlocking attributes activity to the scheduler's current
// task, as if a switch to it had just been observed. Debug hook.
func (m *Monitor) MonitorCurrentBlocking() {
	if core := m.ref.Get(); core != nil {
		m.sw.setActive(core.CurrentTask())
	}
}

// String returns a human-readable identity for diagnostics: watchdog thread
// id, attributed task, and the state of the core reference. Not a stable
// format.
func (m *Monitor) String() string {
	active := m.sw.activeTask()
	core := any("<gone>")
	if c := m.ref.Get(); c != nil {
		core = c
	}
	return fmt.Sprintf("<loopmonitor.Monitor %p %s in thread %#x task %v for %v>",
		m, m.state.Load(), m.threadID.Load(), active, core)
}

// observe is the switch-notification hook. It runs synchronously on the
// scheduler thread as part of every task switch; it must stay O(1) and
// allocation-free.
func (m *Monitor) observe(ev SwitchEvent) {
	m.sw.record(ev)
	// Forward unmodified so chained observers keep working.
	if p := m.prev.Load(); p != nil {
		if fn := *p; fn != nil {
			fn(ev)
		}
	}
}

// run is the watchdog thread body.
func (m *Monitor) run() {
	defer close(m.done)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	m.threadID.Store(osThreadID())

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		// This thread must never crash the process as a side effect of
		// being a secondary monitor. If the process is tearing down there
		// is nothing left to usefully report to; otherwise, best effort.
		if m.shutdownCheck != nil && !m.shutdownCheck() {
			return
		}
		err := error(PanicError{Value: r})
		m.log.Warning().
			Err(err).
			Log("loopmonitor: watchdog thread failed")
		if core := m.ref.Get(); core != nil {
			core.ReportUnhandledFailure(m, err)
		}
	}()

	for m.state.Load() == StateRunning {
		entries := m.refreshEntries()
		m.sleep(m.sleepTime())
		m.pass(entries)
	}
}

// refreshEntries reads the entry list for the coming pass, refreshing the
// built-in entry's period from the core's configured threshold.
func (m *Monitor) refreshEntries() []*monitorEntry {
	if core := m.ref.Get(); core != nil {
		return m.table.refresh(core.MaxBlockingTime())
	}
	return m.table.snapshot()
}

// sleepTime computes the inter-pass sleep from the cached minimum period.
func (m *Monitor) sleepTime() time.Duration {
	minimum := m.table.minPeriod()
	if minimum <= 0 {
		// Everyone wants to be disabled. Sleep longer than usual so we
		// don't spin, while still picking up re-activation.
		return inactiveSleepTime
	}
	return max(minimum, minSleepTime)
}

// pass resolves the core and runs every due entry. When the core turns out
// to be gone it stops the watchdog but still runs this one pass with a nil
// core, preserving the tolerance for a just-expired reference; the built-in
// check nil-guards, and user functions are isolated regardless. The strong
// hold on the core ends when pass returns.
func (m *Monitor) pass(entries []*monitorEntry) {
	started := time.Now()
	defer func() {
		m.stats.passes.Add(1)
		m.stats.latency.record(time.Since(started))
	}()

	core := m.ref.Get()
	lost := core == nil
	if lost {
		m.log.Debug().Log("loopmonitor: scheduler core gone, stopping")
		m.Stop()
	}
	if m.state.Load() != StateRunning && !lost {
		return
	}

	now := m.now()
	for _, e := range entries {
		if e.period <= 0 {
			continue
		}
		if time.Duration(e.lastRun.Load())+e.period <= now {
			e.lastRun.Store(int64(now))
			m.invoke(e, core)
		}
	}
}

// invoke runs one monitoring function, isolated: neither an error return
// nor a panic prevents subsequent entries from running, or terminates the
// watchdog.
func (m *Monitor) invoke(e *monitorEntry, core Core) {
	defer func() {
		if r := recover(); r != nil {
			m.reportFailure(core, PanicError{Value: r})
		}
	}()
	if err := e.fn(core); err != nil {
		m.reportFailure(core, err)
	}
}

func (m *Monitor) reportFailure(core Core, err error) {
	m.stats.failures.Add(1)
	m.log.Warning().
		Err(err).
		Log("loopmonitor: monitoring function failed")
	if core != nil {
		core.ReportUnhandledFailure(m, err)
	}
}

// now reads the monitor's monotonic clock.
func (m *Monitor) now() time.Duration {
	if m.testHooks != nil && m.testHooks.Now != nil {
		return m.testHooks.Now()
	}
	return time.Since(m.anchor)
}

func (m *Monitor) sleep(d time.Duration) {
	if m.testHooks != nil && m.testHooks.Sleep != nil {
		m.testHooks.Sleep(d)
		return
	}
	time.Sleep(d)
}

// goroutineID returns the current goroutine's ID, parsed from the stack
// header.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
