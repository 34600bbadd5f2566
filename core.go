package loopmonitor

import (
	"io"
	"time"
	"weak"
)

// Task identifies a cooperative task multiplexed on the scheduler thread.
//
// Tasks are compared by interface identity; in practice implementations are
// pointers to the scheduler's task objects. The zero value (nil) is the
// "no task attributed" sentinel.
type Task any

// Core is the cooperative run-loop being watched. It is an external
// collaborator: this package never schedules or preempts its tasks, it only
// observes them.
//
// All methods must be safe to call from the watchdog thread, with the
// exception of SetSwitchObserver, which by convention is called from the
// scheduler thread (installation happens during construction, restoration
// during Stop).
type Core interface {
	// ThreadID returns the identity of the goroutine running the
	// scheduler's loop, used to locate its call stack in blocking reports.
	// It may return 0 if the loop is not currently running.
	ThreadID() uint64

	// CurrentTask returns the task currently executing on the scheduler
	// thread, or nil.
	CurrentTask() Task

	// BookkeepingTask returns the scheduler's own run-loop task. Time spent
	// in it means the loop is idle in I/O, not blocked.
	BookkeepingTask() Task

	// MaxBlockingTime returns the configured blocking threshold. It may
	// change at runtime; the watchdog re-reads it on every scheduling pass.
	// A non-positive value disables the built-in blocking check.
	MaxBlockingTime() time.Duration

	// ExceptionStream returns the sink blocking reports are written to.
	ExceptionStream() io.Writer

	// SetSwitchObserver installs fn as the core's task-switch notification
	// hook, returning the previously installed hook (nil if none). The hook
	// is invoked synchronously on the scheduler thread on every switch
	// notification.
	SetSwitchObserver(fn SwitchObserver) (prev SwitchObserver)

	// ReportUnhandledFailure surfaces a failure that could not be handled
	// locally. It is called from the watchdog thread, never the scheduler
	// thread, and must tolerate that.
	ReportUnhandledFailure(source any, err error)
}

// CoreRef resolves the core being watched, without necessarily keeping it
// alive.
type CoreRef interface {
	// Get returns the core, or nil once it is gone.
	Get() Core
}

// StrongRef returns a CoreRef that keeps core reachable for as long as the
// reference itself is held. Intended for tests and for owners that tear the
// watchdog down explicitly via [Monitor.Stop].
func StrongRef(core Core) CoreRef { return strongRef{core} }

type strongRef struct{ core Core }

func (r strongRef) Get() Core { return r.core }

// WeakRef returns a CoreRef backed by a weak pointer: holding the reference
// does not keep the core alive, and Get returns nil once it has become
// unreachable.
func WeakRef[T any, P interface {
	*T
	Core
}](core P) CoreRef {
	return weakRef[T, P]{weak.Make((*T)(core))}
}

type weakRef[T any, P interface {
	*T
	Core
}] struct {
	p weak.Pointer[T]
}

func (r weakRef[T, P]) Get() Core {
	if v := r.p.Value(); v != nil {
		return P(v)
	}
	return nil
}
