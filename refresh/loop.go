package refresh

import (
	"context"
	"sync"
	"time"
)

// Task is one run of the loop. Returning true stops the loop.
type Task func(ctx context.Context) (stop bool)

// Option configures a Loop.
type Option func(*Loop)

// WithInterval sets the period between regular firings.
func WithInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithEarlyTick schedules one extra firing d after Start. Zero disables it.
func WithEarlyTick(d time.Duration) Option {
	return func(l *Loop) {
		l.early = d
	}
}

// WithGuard shares an in-flight guard with other callers.
func WithGuard(g *Guard) Option {
	return func(l *Loop) {
		if g != nil {
			l.guard = g
		}
	}
}

// WithSkipHook is called whenever a firing is skipped because a run is in flight.
func WithSkipHook(fn func()) Option {
	return func(l *Loop) {
		l.onSkip = fn
	}
}

// Loop fires a Task periodically without overlap.
type Loop struct {
	task     Task
	interval time.Duration
	early    time.Duration
	guard    *Guard
	onSkip   func()

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}
	runs      sync.WaitGroup
}

// New returns a stopped loop. The default interval is ten minutes with an
// early tick after five.
func New(task Task, opts ...Option) *Loop {
	l := &Loop{
		task:     task,
		interval: 10 * time.Minute,
		early:    5 * time.Minute,
		guard:    &Guard{},
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start launches the loop. Runs receive ctx; Stop does not cancel it. The
// loop also exits when ctx is done. Calling Start more than once has no effect.
func (l *Loop) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		go l.run(ctx)
	})
}

// Stop halts future firings. It is idempotent and returns without waiting for
// an in-flight run.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}

// Stopped reports whether Stop has been called.
func (l *Loop) Stopped() bool {
	select {
	case <-l.stopCh:
		return true
	default:
		return false
	}
}

// Done is closed once the scheduling goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Wait blocks until the loop has exited and every run it started has returned.
func (l *Loop) Wait() {
	<-l.done
	l.runs.Wait()
}

// Fire attempts an immediate run. It reports false when the loop is stopped
// or a run is already in flight.
func (l *Loop) Fire(ctx context.Context) bool {
	return l.fire(ctx)
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	var earlyC <-chan time.Time
	if l.early > 0 {
		early := time.NewTimer(l.early)
		defer early.Stop()
		earlyC = early.C
	}

	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		case <-earlyC:
			earlyC = nil
			l.fire(ctx)
		case <-ticker.C:
			l.fire(ctx)
		}
	}
}

func (l *Loop) fire(ctx context.Context) bool {
	if !l.guard.TryAcquire() {
		if l.onSkip != nil {
			l.onSkip()
		}
		return false
	}
	if l.Stopped() {
		l.guard.Release()
		return false
	}

	l.runs.Add(1)
	go func() {
		defer l.runs.Done()
		defer l.guard.Release()
		if l.task(ctx) {
			l.Stop()
		}
	}()
	return true
}
