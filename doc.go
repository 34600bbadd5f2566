// Package loopmonitor provides a starvation watchdog for single-threaded
// cooperative task schedulers: run-loops that multiplex many voluntarily
// yielding tasks onto one OS thread.
//
// # Architecture
//
// A [Monitor] runs on its own dedicated OS thread, separate from the
// scheduler thread it watches. It installs a switch-notification hook into
// the scheduler core (see [Core.SetSwitchObserver]) that records, from
// within the scheduler thread, which task is active and how many switches
// have occurred. On a periodic cycle the watchdog thread runs health-check
// functions against that state; the built-in check
// ([Monitor.CheckBlocking]) reports when the scheduler has apparently been
// running one task continuously for longer than the configured threshold,
// which in a cooperative system means every other task is starved.
//
// Additional checks are scheduled with [Monitor.Add] and unscheduled with
// [Monitor.Remove]. Each runs on the watchdog thread and is isolated:
// neither an error return nor a panic stops the remaining checks or the
// watchdog itself.
//
// # Lifetime
//
// The watchdog never keeps the scheduler alive: it holds the core through a
// [CoreRef], typically the weak variant created by [Watch], and stops
// itself within one sleep cycle of the core becoming unreachable. Owners
// that prefer deterministic teardown construct via [New] with a
// [StrongRef] and call [Monitor.Stop] from their own shutdown path. Stop
// is idempotent and restores the previously installed switch hook.
//
// # Accuracy
//
// Detection is a best-effort, low-overhead heuristic, not a correctness
// mechanism. The hook's counters are read by the watchdog thread without
// ordering guarantees beyond eventual visibility; an occasional false
// negative is the accepted cost of keeping the scheduler's hot path free
// of synchronization.
package loopmonitor
