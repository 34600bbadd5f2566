package loopmonitor

import (
	"sync"
	"sync/atomic"
)

// SwitchKind classifies a task-switch notification.
type SwitchKind uint8

const (
	// KindSwitch is an ordinary transfer of control to the target task.
	KindSwitch SwitchKind = iota
	// KindThrow is a resumption of the target task with an exception.
	KindThrow
	// KindOther covers notifications that do not attribute execution to a
	// specific task; the observer treats them conservatively.
	KindOther
)

// String returns a human-readable representation of the kind.
func (k SwitchKind) String() string {
	switch k {
	case KindSwitch:
		return "switch"
	case KindThrow:
		return "throw"
	case KindOther:
		return "other"
	default:
		return "unknown"
	}
}

// SwitchEvent is fired by the scheduler core whenever it transfers execution
// between cooperative tasks.
type SwitchEvent struct {
	Kind   SwitchKind
	Origin Task
	Target Task
}

// SwitchObserver receives switch notifications, synchronously on the
// scheduler thread. Implementations must be O(1) and allocation-free so
// they do not perturb scheduler latency.
type SwitchObserver func(SwitchEvent)

// switchState is the activity snapshot shared between the scheduler thread
// and the watchdog thread. The counter and the active task are written only
// by the observer hook (scheduler thread) and read/reset only by the
// blocking check (watchdog thread); a stale read is an accepted race, the
// occasional false negative is cheaper than synchronizing the hot path.
type switchState struct {
	// switches counts notifications since the watchdog last looked.
	switches atomic.Int64

	// mu guards active only; the critical sections are two-word copies.
	mu     sync.Mutex
	active Task
}

// record is the hot path, run on every switch notification.
func (s *switchState) record(ev SwitchEvent) {
	s.switches.Add(1)
	switch ev.Kind {
	case KindSwitch, KindThrow:
		s.setActive(ev.Target)
	default:
		// Unrecognized notification: don't attribute activity to anyone.
		s.setActive(nil)
	}
}

func (s *switchState) setActive(t Task) {
	s.mu.Lock()
	s.active = t
	s.mu.Unlock()
}

// activeTask reads the attributed task without clearing anything.
func (s *switchState) activeTask() Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// snapshot returns the attributed task and the notification count since the
// previous snapshot, clearing the counter.
func (s *switchState) snapshot() (active Task, switched int64) {
	s.mu.Lock()
	active = s.active
	s.mu.Unlock()
	switched = s.switches.Swap(0)
	return
}
