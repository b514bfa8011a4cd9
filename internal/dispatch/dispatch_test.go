package dispatch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/verbe/internal/dispatch"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func startQueue(t *testing.T) *dispatch.Queue {
	t.Helper()
	q := dispatch.NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return q
}

func TestQueue_RunsInOrder(t *testing.T) {
	t.Parallel()
	q := startQueue(t)

	var (
		mu  sync.Mutex
		got []int
	)
	for i := range 100 {
		q.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	if err := q.Do(context.Background(), func() {}); err != nil {
		t.Fatalf("Do: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 100 {
		t.Fatalf("ran %d functions, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d; order not preserved", i, v)
		}
	}
}

func TestQueue_RecoversPanics(t *testing.T) {
	t.Parallel()
	q := startQueue(t)

	q.Post(func() { panic("boom") })
	ran := false
	if err := q.Do(context.Background(), func() { ran = true }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !ran {
		t.Error("function after panic did not run")
	}
}

func TestQueue_PostAfterCloseIsDropped(t *testing.T) {
	t.Parallel()
	q := dispatch.NewQueue()
	q.Close()
	q.Close() // idempotent

	ran := false
	q.Post(func() { ran = true })
	if err := q.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ran {
		t.Error("function posted after Close ran")
	}
	if err := q.Do(context.Background(), func() {}); err != dispatch.ErrClosed {
		t.Errorf("Do after Close = %v, want ErrClosed", err)
	}
}

func TestFakeClock_FiresInDeadlineOrder(t *testing.T) {
	t.Parallel()
	c := dispatch.NewFakeClock(epoch)

	var order []string
	c.AfterFunc(300*time.Millisecond, func() { order = append(order, "c") })
	c.AfterFunc(100*time.Millisecond, func() { order = append(order, "a") })
	c.AfterFunc(200*time.Millisecond, func() { order = append(order, "b") })

	c.Advance(150 * time.Millisecond)
	if len(order) != 1 || order[0] != "a" {
		t.Fatalf("after 150ms order = %v, want [a]", order)
	}
	c.Advance(time.Second)
	if got := len(order); got != 3 || order[1] != "b" || order[2] != "c" {
		t.Fatalf("order = %v, want [a b c]", order)
	}
	if !c.Now().Equal(epoch.Add(1150 * time.Millisecond)) {
		t.Errorf("Now = %v", c.Now())
	}
}

func TestFakeClock_StopPreventsFire(t *testing.T) {
	t.Parallel()
	c := dispatch.NewFakeClock(epoch)
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })
	if !tm.Stop() {
		t.Fatal("Stop returned false for pending timer")
	}
	if tm.Stop() {
		t.Error("second Stop returned true")
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", c.Pending())
	}
}

func TestDeferred_ScheduleReplacesPending(t *testing.T) {
	t.Parallel()
	c := dispatch.NewFakeClock(epoch)
	d := dispatch.NewDeferred(c, dispatch.Inline{})

	var fired []string
	d.Schedule(250*time.Millisecond, func() { fired = append(fired, "first") })
	c.Advance(100 * time.Millisecond)
	d.Schedule(250*time.Millisecond, func() { fired = append(fired, "second") })

	deadline, ok := d.Deadline()
	if !ok || !deadline.Equal(epoch.Add(350*time.Millisecond)) {
		t.Fatalf("Deadline = %v, %v", deadline, ok)
	}

	c.Advance(time.Second)
	if len(fired) != 1 || fired[0] != "second" {
		t.Fatalf("fired = %v, want [second]", fired)
	}
	if d.Pending() {
		t.Error("Pending after fire")
	}
}

func TestDeferred_Cancel(t *testing.T) {
	t.Parallel()
	c := dispatch.NewFakeClock(epoch)
	d := dispatch.NewDeferred(c, dispatch.Inline{})

	fired := false
	d.Schedule(250*time.Millisecond, func() { fired = true })
	if !d.Cancel() {
		t.Error("Cancel returned false with a pending task")
	}
	if d.Cancel() {
		t.Error("second Cancel returned true")
	}
	c.Advance(time.Second)
	if fired {
		t.Error("cancelled task fired")
	}
}

// manualExec holds posted functions until flushed, modelling a busy queue.
type manualExec struct{ fns []func() }

func (m *manualExec) Post(fn func()) { m.fns = append(m.fns, fn) }

func (m *manualExec) flush() {
	fns := m.fns
	m.fns = nil
	for _, fn := range fns {
		fn()
	}
}

func TestDeferred_CancelAfterTimerFiredBeforeRun(t *testing.T) {
	t.Parallel()
	c := dispatch.NewFakeClock(epoch)
	exec := &manualExec{}
	d := dispatch.NewDeferred(c, exec)

	fired := false
	d.Schedule(250*time.Millisecond, func() { fired = true })
	c.Advance(300 * time.Millisecond) // timer fires, task is queued
	d.Cancel()
	exec.flush()
	if fired {
		t.Error("task cancelled while queued still ran")
	}
}
