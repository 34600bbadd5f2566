package loopmonitor

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeTask is a cooperative task identity for tests. Tasks are compared by
// pointer, so every &fakeTask{} is distinct.
type fakeTask struct{ name string }

func (t *fakeTask) String() string { return t.name }

// reportedFailure captures one ReportUnhandledFailure call.
type reportedFailure struct {
	source any
	err    error
}

// lockedBuffer is a bytes.Buffer usable as an exception stream from the
// watchdog thread while the test goroutine reads it.
type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// fakeCore is a minimal scheduler core. All methods are safe for concurrent
// use so tests can emit switch notifications while the watchdog runs.
type fakeCore struct {
	bookkeeping *fakeTask

	threshold atomic.Int64 // time.Duration
	threadID  atomic.Uint64

	stream lockedBuffer

	mu       sync.Mutex
	observer SwitchObserver
	current  Task
	failures []reportedFailure
}

func newFakeCore(threshold time.Duration) *fakeCore {
	c := &fakeCore{bookkeeping: &fakeTask{name: "run-loop"}}
	c.threshold.Store(int64(threshold))
	c.threadID.Store(goroutineID())
	return c
}

func (c *fakeCore) ThreadID() uint64 { return c.threadID.Load() }

func (c *fakeCore) CurrentTask() Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *fakeCore) BookkeepingTask() Task { return c.bookkeeping }

func (c *fakeCore) MaxBlockingTime() time.Duration {
	return time.Duration(c.threshold.Load())
}

func (c *fakeCore) ExceptionStream() io.Writer { return &c.stream }

func (c *fakeCore) SetSwitchObserver(fn SwitchObserver) (prev SwitchObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, c.observer = c.observer, fn
	return
}

func (c *fakeCore) ReportUnhandledFailure(source any, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, reportedFailure{source: source, err: err})
}

func (c *fakeCore) setCurrent(t Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

func (c *fakeCore) installedObserver() SwitchObserver {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observer
}

func (c *fakeCore) reported() []reportedFailure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]reportedFailure(nil), c.failures...)
}

// emit delivers a switch notification through the installed observer, as
// the scheduler thread would.
func (c *fakeCore) emit(ev SwitchEvent) {
	c.mu.Lock()
	fn := c.observer
	c.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// settableRef is a CoreRef whose target can be cleared mid-test, to
// simulate the core becoming unreachable at an exact point.
type settableRef struct {
	mu   sync.Mutex
	core Core
}

func (r *settableRef) Get() Core {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.core
}

func (r *settableRef) set(c Core) {
	r.mu.Lock()
	r.core = c
	r.mu.Unlock()
}

// newTestMonitor builds a monitor with the hook installed but without
// starting the watchdog thread, so tests can drive passes directly.
func newTestMonitor(t *testing.T, ref CoreRef, opts ...Option) *Monitor {
	t.Helper()
	cfg, err := resolveOptions(opts)
	if err != nil {
		t.Fatal(err)
	}
	m, err := newMonitor(ref, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return m
}
