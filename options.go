package loopmonitor

import (
	"io"

	"github.com/joeycumines/logiface"
)

// monitorOptions holds configuration options for Monitor creation.
type monitorOptions struct {
	logger        *logiface.Logger[logiface.Event]
	stackCapture  func(goroutineID uint64) ([]byte, bool)
	runInfo       func(w io.Writer)
	shutdownCheck func() bool
}

// Option configures a Monitor instance.
type Option interface {
	applyMonitor(*monitorOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyMonitorFunc func(*monitorOptions) error
}

func (o *optionImpl) applyMonitor(opts *monitorOptions) error {
	return o.applyMonitorFunc(opts)
}

// WithLogger sets the structured logger used by the watchdog. A nil logger
// disables logging entirely (the default).
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *monitorOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithStackCapture replaces the facility used to capture the scheduler
// goroutine's call stack for blocking reports. fn receives the goroutine id
// and reports false when the goroutine cannot be found. A nil fn restores
// the default, which filters a full runtime.Stack dump.
func WithStackCapture(fn func(goroutineID uint64) ([]byte, bool)) Option {
	return &optionImpl{func(opts *monitorOptions) error {
		opts.stackCapture = fn
		return nil
	}}
}

// WithRunInfo replaces the diagnostic formatter whose output is appended to
// blocking reports. A nil fn restores the default runtime summary.
func WithRunInfo(fn func(w io.Writer)) Option {
	return &optionImpl{func(opts *monitorOptions) error {
		opts.runInfo = fn
		return nil
	}}
}

// WithShutdownCheck sets the predicate consulted when a failure escapes the
// watchdog loop: when it reports false, the process is considered to be
// tearing down and the failure is swallowed instead of reported. The
// default always reports true.
func WithShutdownCheck(fn func() bool) Option {
	return &optionImpl{func(opts *monitorOptions) error {
		opts.shutdownCheck = fn
		return nil
	}}
}

// resolveOptions applies Option instances to monitorOptions.
func resolveOptions(opts []Option) (*monitorOptions, error) {
	cfg := &monitorOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyMonitor(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.runInfo == nil {
		cfg.runInfo = defaultRunInfo
	}
	if cfg.shutdownCheck == nil {
		cfg.shutdownCheck = func() bool { return true }
	}
	return cfg, nil
}
