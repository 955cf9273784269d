// Package scheduler runs reload cycles on a fixed interval from a single
// goroutine until its context is cancelled.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/livepatch/internal/errors"
	"github.com/Iron-Ham/livepatch/internal/event"
	"github.com/Iron-Ham/livepatch/internal/logging"
	"github.com/Iron-Ham/livepatch/internal/reload"
)

const (
	defaultDebounce = 100 * time.Millisecond
	defaultPattern  = "*.star"
)

// Cycler runs one reload cycle.
type Cycler interface {
	RunCycle(ctx context.Context) (reload.Report, error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBus publishes scheduler lifecycle events on bus.
func WithBus(bus *event.Bus) Option {
	return func(s *Scheduler) {
		s.bus = bus
	}
}

// WithDebounce sets how long Watch collects file events before nudging.
func WithDebounce(d time.Duration) Option {
	return func(s *Scheduler) {
		s.debounce = d
	}
}

// WithPattern sets which file names Watch reacts to.
func WithPattern(pattern string) Option {
	return func(s *Scheduler) {
		s.pattern = pattern
	}
}

// Scheduler invokes a Cycler once per interval. Cycles never overlap: the
// interval is waited in full after each cycle finishes.
type Scheduler struct {
	cycler   Cycler
	interval time.Duration
	debounce time.Duration
	pattern  string
	bus      *event.Bus
	logger   *logging.Logger

	nudge   chan struct{}
	watcher *Watcher
	running atomic.Bool
	cycles  atomic.Int64
}

// New creates a scheduler running c every interval.
func New(c Cycler, interval time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		cycler:   c,
		interval: interval,
		debounce: defaultDebounce,
		pattern:  defaultPattern,
		logger:   logging.NopLogger(),
		nudge:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = event.NewBus(s.logger)
	}
	s.logger = s.logger.WithComponent("scheduler")
	return s
}

// Nudge asks for a cycle without waiting for the rest of the interval.
// Nudges that arrive while one is pending are merged.
func (s *Scheduler) Nudge() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// Watch nudges the scheduler whenever unit files under the given
// directories are written. It must be called before Run; Run stops the
// watcher when it returns.
func (s *Scheduler) Watch(dirs ...string) error {
	if s.watcher == nil {
		w, err := NewWatcher(s.pattern, s.debounce, func(paths []string) {
			s.logger.Debug("nudged by file change", "paths", paths)
			s.Nudge()
		}, s.logger)
		if err != nil {
			return fmt.Errorf("create file watcher: %w", err)
		}
		s.watcher = w
	}
	for _, dir := range dirs {
		if err := s.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	return nil
}

// Cycles returns how many cycles have run.
func (s *Scheduler) Cycles() int64 { return s.cycles.Load() }

// Run waits one interval, runs a cycle, and repeats until ctx is cancelled,
// in which case it returns nil. A failing cycle stops the loop: the error is
// logged and returned.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler is already running")
	}
	defer s.running.Store(false)

	if s.watcher != nil {
		s.watcher.Start()
		defer s.watcher.Stop()
	}

	s.logger.Info("started", "interval_ms", s.interval.Milliseconds(), "watching", s.watcher != nil)
	s.bus.Publish(event.NewSchedulerStartedEvent(s.interval))

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.stop(nil)
		case <-timer.C:
		case <-s.nudge:
			timer.Stop()
		}

		_, err := s.cycler.RunCycle(ctx)
		s.cycles.Add(1)
		if err != nil {
			if ctx.Err() != nil {
				return s.stop(nil)
			}
			s.logger.Error("reload cycle failed, stopping",
				"error", err,
				"severity", errors.GetSeverity(err).String())
			return s.stop(err)
		}

		timer.Reset(s.interval)
	}
}

func (s *Scheduler) stop(err error) error {
	s.logger.Info("stopped", "cycles", s.cycles.Load())
	s.bus.Publish(event.NewSchedulerStoppedEvent(err))
	return err
}
