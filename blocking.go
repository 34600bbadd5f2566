package loopmonitor

import (
	"bytes"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"time"
)

// BlockingFinding is the result of one positive blocking detection,
// returned by [Monitor.CheckBlocking] primarily to support testing.
type BlockingFinding struct {
	// At is the wall-clock time of the detection.
	At time.Time
	// Task is the apparently blocked task.
	Task Task
	// Report is the rendered report, as written to the core's exception
	// stream.
	Report []byte
}

// CheckBlocking is the built-in monitoring function, registered at schedule
// index 0. It inspects switch-observer state to decide whether the
// scheduler thread has been stuck in a single task since the previous
// check, and if so writes a report to the core's exception stream and
// returns the finding; otherwise it returns nil.
//
// This is intentionally a heuristic: a task looping through many cheap
// switches never triggers, and a concurrent switch can race the snapshot.
// Occasional false negatives are accepted; the goal is operator visibility,
// not a hard guarantee.
func (m *Monitor) CheckBlocking(core Core) *BlockingFinding {
	// Read-then-clear; the counter may be incremented concurrently by the
	// scheduler thread, which at worst costs us one detection.
	active, switched := m.sw.snapshot()

	if switched != 0 || active == nil || core == nil || active == core.BookkeepingTask() {
		// Either we switched, or nothing is attributed (an unrecognized
		// notification, or a request to ignore), or the whole interval was
		// spent in the scheduler's own task, blocked for I/O. Nothing to
		// report. The nil core covers the grace pass after scheduler loss.
		return nil
	}

	now := time.Now()
	var b bytes.Buffer
	b.WriteString(reportRule)
	b.WriteByte('\n')
	fmt.Fprintf(&b, "%s : task %v appears to be blocked\n", now.UTC().Format(time.RFC3339), active)
	fmt.Fprintf(&b, "    Reported by %s\n", m)

	gid := core.ThreadID()
	if stack, ok := m.captureStack(gid); ok {
		fmt.Fprintf(&b, "Blocked stack (goroutine %d):\n", gid)
		b.Write(stack)
		if len(stack) == 0 || stack[len(stack)-1] != '\n' {
			b.WriteByte('\n')
		}
	} else {
		fmt.Fprintf(&b, "Unknown: no goroutine %d found for %v\n", gid, core)
	}

	b.WriteString("Info:\n")
	if m.runInfo != nil {
		m.runInfo(&b)
	}
	b.WriteString(reportRule)
	b.WriteByte('\n')

	if w := core.ExceptionStream(); w != nil {
		_, _ = w.Write(b.Bytes())
	}

	m.stats.findings.Add(1)
	m.log.Warning().
		Interface("task", active).
		Uint64("goroutine", gid).
		Dur("threshold", core.MaxBlockingTime()).
		Log("loopmonitor: cooperative task appears to be blocked")

	return &BlockingFinding{At: now, Task: active, Report: b.Bytes()}
}

const reportRule = "================================================================================"

func (m *Monitor) captureStack(gid uint64) ([]byte, bool) {
	if m.stackCapture != nil {
		return m.stackCapture(gid)
	}
	return captureGoroutineStack(gid)
}

// captureGoroutineStack returns the stack of the goroutine with the given
// id, extracted from a full runtime.Stack dump. It reports false when no
// such goroutine exists, e.g. because it already exited.
func captureGoroutineStack(gid uint64) ([]byte, bool) {
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	prefix := []byte("goroutine " + strconv.FormatUint(gid, 10) + " ")
	for _, block := range bytes.Split(buf[:n], []byte("\n\n")) {
		if bytes.HasPrefix(block, prefix) {
			return block, true
		}
	}
	return nil, false
}

// defaultRunInfo is the fallback diagnostic dump appended to blocking
// reports; replace it with [WithRunInfo] to render richer run state.
func defaultRunInfo(w io.Writer) {
	fmt.Fprintf(w, "goroutines=%d gomaxprocs=%d numcpu=%d\n",
		runtime.NumGoroutine(), runtime.GOMAXPROCS(0), runtime.NumCPU())
}
