// Package loop is a single-threaded cooperative scheduler. Callbacks posted
// from any goroutine run one at a time on whichever goroutine iterates the
// loop, so state owned by the loop needs no further locking.
package loop

import (
	"context"
	"sync"
	"time"
)

// Loop is a queue of callbacks plus a set of one-shot timers.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	timers map[*Timer]struct{}
	wake   chan struct{}
}

// New returns an empty loop.
func New() *Loop {
	return &Loop{
		timers: make(map[*Timer]struct{}),
		wake:   make(chan struct{}, 1),
	}
}

// Post schedules fn to run on the loop. Safe to call from any goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Pending reports whether callbacks are ready to run.
func (l *Loop) Pending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue) > 0
}

// Timers returns the number of timers that have neither fired nor been
// stopped.
func (l *Loop) Timers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

// Iterate runs the callbacks that are ready. With block set and nothing
// ready it first waits for something to be posted. It returns whether any
// callback ran.
func (l *Loop) Iterate(block bool) bool {
	ran, _ := l.iterate(context.Background(), block)
	return ran
}

func (l *Loop) iterate(ctx context.Context, block bool) (bool, error) {
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		if len(batch) > 0 {
			for _, fn := range batch {
				fn()
			}
			return true, nil
		}
		if !block {
			return false, nil
		}

		select {
		case <-l.wake:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// RunUntil iterates the loop until pred returns true or ctx ends. pred is
// checked before every blocking wait.
func (l *Loop) RunUntil(ctx context.Context, pred func() bool) error {
	for !pred() {
		if _, err := l.iterate(ctx, true); err != nil {
			return err
		}
	}
	return nil
}

// Run iterates the loop until ctx ends.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if _, err := l.iterate(ctx, true); err != nil {
			return err
		}
	}
}

// Timer is a one-shot deferred callback that runs on the loop.
type Timer struct {
	loop  *Loop
	t     *time.Timer
	fired bool
	done  bool
}

// AfterFunc runs fn on the loop once d has elapsed, unless the timer is
// stopped first.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	tm := &Timer{loop: l}

	l.mu.Lock()
	l.timers[tm] = struct{}{}
	l.mu.Unlock()

	tm.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if tm.done {
				return
			}
			tm.done = true
			tm.fired = true
			l.forget(tm)
			fn()
		})
	})
	return tm
}

// Stop prevents the timer from firing. It must be called on the loop and
// reports whether the callback was still outstanding.
func (t *Timer) Stop() bool {
	if t == nil || t.done {
		return false
	}
	t.done = true
	t.t.Stop()
	t.loop.forget(t)
	return true
}

// Fired reports whether the callback ran.
func (t *Timer) Fired() bool {
	return t != nil && t.fired
}

func (l *Loop) forget(t *Timer) {
	l.mu.Lock()
	delete(l.timers, t)
	l.mu.Unlock()
}
