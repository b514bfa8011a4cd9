package dispatch

import (
	"sort"
	"sync"
	"time"
)

// Timer is a handle to a function scheduled with [Clock.AfterFunc].
type Timer interface {
	// Stop prevents the function from firing. It reports whether the call
	// stopped the timer (false if it already fired or was stopped).
	Stop() bool
}

// Clock abstracts time so that debounce and delay logic can be driven
// deterministically in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// RealClock is a [Clock] backed by the time package.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time { return time.Now() }

// AfterFunc wraps time.AfterFunc. fn runs on its own goroutine.
func (RealClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// ── FakeClock ─────────────────────────────────────────────────────────────────

// FakeClock is a manually advanced [Clock]. Timer functions fire synchronously
// inside [FakeClock.Advance], in deadline order, on the caller's goroutine.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	seq      uint64
	fn       func()
	stopped  bool
	fired    bool
}

// NewFakeClock returns a FakeClock whose current time is start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers fn to fire once the fake time reaches Now()+d.
func (c *FakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), seq: c.seq, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the fake time forward by d and fires every timer whose
// deadline has been reached. Timers scheduled by fired functions are honoured
// if their deadline also falls within the advanced window.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if next.deadline.After(c.now) {
			c.now = next.deadline
		}
		next.fired = true
		c.removeLocked(next)
		fn := next.fn
		c.mu.Unlock()

		fn()
	}
}

// Pending reports how many timers are scheduled and not yet fired or stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *FakeClock) nextDueLocked(target time.Time) *fakeTimer {
	if len(c.timers) == 0 {
		return nil
	}
	sort.Slice(c.timers, func(i, j int) bool {
		if c.timers[i].deadline.Equal(c.timers[j].deadline) {
			return c.timers[i].seq < c.timers[j].seq
		}
		return c.timers[i].deadline.Before(c.timers[j].deadline)
	})
	if c.timers[0].deadline.After(target) {
		return nil
	}
	return c.timers[0]
}

func (c *FakeClock) removeLocked(t *fakeTimer) {
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.clock.removeLocked(t)
	return true
}

// ── Deferred ──────────────────────────────────────────────────────────────────

// Deferred is a cancellable single deferred task. Scheduling a new task
// replaces any pending one, so at most one task is ever in flight. The task
// runs on the configured [Executor]; a task cancelled after its timer fired
// but before it ran on the executor is still dropped.
type Deferred struct {
	clock Clock
	exec  Executor

	mu       sync.Mutex
	gen      uint64
	timer    Timer
	deadline time.Time
	pending  bool
}

// NewDeferred creates a Deferred that uses clock for timing and runs tasks on
// exec.
func NewDeferred(clock Clock, exec Executor) *Deferred {
	return &Deferred{clock: clock, exec: exec}
}

// Schedule arms fn to run after delay, cancelling any pending task.
func (d *Deferred) Schedule(delay time.Duration, fn func()) {
	d.mu.Lock()
	d.cancelLocked()
	d.gen++
	gen := d.gen
	d.deadline = d.clock.Now().Add(delay)
	d.pending = true
	d.timer = d.clock.AfterFunc(delay, func() {
		d.exec.Post(func() {
			d.mu.Lock()
			if gen != d.gen || !d.pending {
				d.mu.Unlock()
				return
			}
			d.pending = false
			d.timer = nil
			d.mu.Unlock()
			fn()
		})
	})
	d.mu.Unlock()
}

// Cancel drops the pending task, if any. It reports whether a task was
// pending.
func (d *Deferred) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	was := d.pending
	d.cancelLocked()
	return was
}

// Pending reports whether a task is armed and has not yet run.
func (d *Deferred) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Deadline returns the monotonic deadline of the pending task.
func (d *Deferred) Deadline() (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deadline, d.pending
}

func (d *Deferred) cancelLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = false
	d.gen++
}
