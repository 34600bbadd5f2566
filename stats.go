package loopmonitor

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Stats is a point-in-time snapshot of watchdog activity, returned by
// [Monitor.Stats]. It quantifies the watchdog's own overhead and output,
// not the scheduler's.
type Stats struct {
	// Passes is the number of scheduling passes the watchdog has run.
	Passes int64
	// Findings is the number of positive blocking detections.
	Findings int64
	// Failures is the number of monitoring function failures (errors and
	// contained panics).
	Failures int64
	// PassLatency summarizes the duration of recent passes.
	PassLatency LatencySummary
}

// LatencySummary holds percentiles over a rolling window of pass durations.
type LatencySummary struct {
	P50     time.Duration
	P90     time.Duration
	P99     time.Duration
	Max     time.Duration
	Mean    time.Duration
	Samples int
}

// statsSampleSize is the rolling window length. Passes are infrequent (one
// per sleep interval), so a small window spans minutes of activity.
const statsSampleSize = 256

// watchdogStats aggregates counters and the latency window. Counters are
// written by the watchdog thread and read from anywhere.
type watchdogStats struct {
	passes   atomic.Int64
	findings atomic.Int64
	failures atomic.Int64
	latency  latencyWindow
}

func (s *watchdogStats) snapshot() Stats {
	return Stats{
		Passes:      s.passes.Load(),
		Findings:    s.findings.Load(),
		Failures:    s.failures.Load(),
		PassLatency: s.latency.summarize(),
	}
}

// latencyWindow is a fixed-size ring of duration samples. Recording is a
// single short critical section; percentile computation sorts a copy.
type latencyWindow struct {
	mu      sync.Mutex
	samples [statsSampleSize]time.Duration
	idx     int
	count   int
	sum     time.Duration
}

func (l *latencyWindow) record(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == statsSampleSize {
		l.sum -= l.samples[l.idx]
	} else {
		l.count++
	}
	l.samples[l.idx] = d
	l.sum += d
	l.idx = (l.idx + 1) % statsSampleSize
}

func (l *latencyWindow) summarize() LatencySummary {
	l.mu.Lock()
	count := l.count
	sorted := make([]time.Duration, count)
	copy(sorted, l.samples[:count])
	sum := l.sum
	l.mu.Unlock()

	if count == 0 {
		return LatencySummary{}
	}
	slices.Sort(sorted)
	return LatencySummary{
		P50:     sorted[quantileIndex(count, 50)],
		P90:     sorted[quantileIndex(count, 90)],
		P99:     sorted[quantileIndex(count, 99)],
		Max:     sorted[count-1],
		Mean:    sum / time.Duration(count),
		Samples: count,
	}
}

// quantileIndex maps a percentile (0-100) to an index into a sorted sample
// slice of length n.
func quantileIndex(n, p int) int {
	i := (p * n) / 100
	if i >= n {
		return n - 1
	}
	return i
}
