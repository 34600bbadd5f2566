package loopmonitor

import (
	"sync/atomic"
)

// MonitorState represents the watchdog lifecycle.
//
// State Machine:
//
//	StateStarting (0) → StateRunning (1)  [New, once installation completes]
//	StateStarting (0) → StateStopped (2)  [Stop before the thread ever ran]
//	StateRunning (1)  → StateStopped (2)  [Stop, or scheduler loss]
//	StateStopped (2)  → (terminal)
//
// There is no re-entry to StateRunning once StateStopped. Transitions use
// CAS so concurrent Stop callers resolve to a single winner.
type MonitorState uint32

const (
	// StateStarting indicates the watchdog is being constructed.
	StateStarting MonitorState = iota
	// StateRunning indicates the watchdog thread is active.
	StateRunning
	// StateStopped indicates the watchdog has been stopped; terminal.
	StateStopped
)

// String returns a human-readable representation of the state.
func (s MonitorState) String() string {
	switch s {
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// monState is a lock-free state machine for the watchdog lifecycle.
type monState struct {
	v atomic.Uint32
}

// Load returns the current state atomically.
func (s *monState) Load() MonitorState {
	return MonitorState(s.v.Load())
}

// TryTransition attempts to atomically transition from one state to
// another, reporting whether it succeeded.
func (s *monState) TryTransition(from, to MonitorState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// TransitionAny attempts the transition from any of the given source
// states, reporting whether any succeeded.
func (s *monState) TransitionAny(validFrom []MonitorState, to MonitorState) bool {
	for _, from := range validFrom {
		if s.v.CompareAndSwap(uint32(from), uint32(to)) {
			return true
		}
	}
	return false
}
