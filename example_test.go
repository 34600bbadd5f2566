package loopmonitor_test

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	loopmonitor "github.com/joeycumines/go-loopmonitor"
)

// demoCore sketches the integration surface: a scheduler exposes its run
// loop to the watchdog through these methods, and calls the installed
// observer on every task switch.
type demoCore struct {
	mu       sync.Mutex
	observer loopmonitor.SwitchObserver
	current  loopmonitor.Task
}

func (c *demoCore) ThreadID() uint64 { return 0 }

func (c *demoCore) CurrentTask() loopmonitor.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *demoCore) BookkeepingTask() loopmonitor.Task { return nil }

func (c *demoCore) MaxBlockingTime() time.Duration { return 100 * time.Millisecond }

func (c *demoCore) ExceptionStream() io.Writer { return os.Stderr }

func (c *demoCore) SetSwitchObserver(fn loopmonitor.SwitchObserver) (prev loopmonitor.SwitchObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, c.observer = c.observer, fn
	return
}

func (c *demoCore) ReportUnhandledFailure(source any, err error) {
	fmt.Fprintf(os.Stderr, "%v: %v\n", source, err)
}

func ExampleNew() {
	core := &demoCore{}
	m, err := loopmonitor.New(loopmonitor.StrongRef(core))
	if err != nil {
		panic(err)
	}
	defer m.Stop()

	// Additional health checks run on the watchdog thread, alongside the
	// built-in blocking check.
	if err := m.Add(func(core loopmonitor.Core) error {
		return nil
	}, time.Second); err != nil {
		panic(err)
	}
}
