package loopmonitor

import (
	"bytes"
	"testing"
	"time"

	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckBlocking_StructuredLog(t *testing.T) {
	var buf bytes.Buffer
	logger := stumpy.L.New(stumpy.L.WithStumpy(
		stumpy.WithWriter(&buf),
		stumpy.WithTimeField(``),
	))

	core := newFakeCore(time.Second)
	m := newTestMonitor(t, StrongRef(core), WithLogger(logger.Logger()))
	attribute(m, core, &fakeTask{name: "worker-3"})

	require.NotNil(t, m.CheckBlocking(core))

	out := buf.String()
	assert.Contains(t, out, `"lvl":"warning"`)
	assert.Contains(t, out, `"msg":"loopmonitor: cooperative task appears to be blocked"`)
	assert.Contains(t, out, `"task"`)
	assert.Contains(t, out, `"goroutine"`)
	assert.Contains(t, out, `"threshold"`)
}

func TestReportFailure_StructuredLog(t *testing.T) {
	var buf bytes.Buffer
	logger := stumpy.L.New(stumpy.L.WithStumpy(
		stumpy.WithWriter(&buf),
		stumpy.WithTimeField(``),
	))

	core := newFakeCore(time.Hour)
	m := newTestMonitor(t, StrongRef(core), WithLogger(logger.Logger()))
	m.reportFailure(core, PanicError{Value: "kaboom"})

	out := buf.String()
	assert.Contains(t, out, `"msg":"loopmonitor: monitoring function failed"`)
	assert.Contains(t, out, "kaboom")
	require.Len(t, core.reported(), 1)
}

func TestMonitor_NilLoggerSafe(t *testing.T) {
	core := newFakeCore(time.Second)
	m := newTestMonitor(t, StrongRef(core))
	require.Nil(t, m.log)

	// Every logging path must tolerate the nil logger.
	attribute(m, core, &fakeTask{name: "quiet"})
	require.NotNil(t, m.CheckBlocking(core))
	m.reportFailure(core, PanicError{Value: "kaboom"})
	m.Stop()
}
