// Package dispatch provides the single sequential queue that owns all mutable
// session, mode and UI state, plus the clock and deferred-task primitives that
// schedule work onto it.
//
// Components such as the hotkey arbiter, the controller and the live session
// are queue-confined: their methods must only be called from functions running
// on the same [Executor]. Other goroutines (the audio I/O callback, the network
// receive loop, timers) hand work over with [Executor.Post] and never touch
// shared state directly.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrClosed is returned by [Queue.Do] when the queue no longer accepts work.
var ErrClosed = errors.New("dispatch: queue closed")

// Executor runs posted functions. Implementations decide on which goroutine.
type Executor interface {
	// Post schedules fn for execution. It never blocks on fn itself.
	Post(fn func())
}

// Inline is an [Executor] that runs functions immediately on the caller's
// goroutine. Useful in tests that drive a component from a single goroutine.
type Inline struct{}

// Post runs fn synchronously.
func (Inline) Post(fn func()) { fn() }

// Queue is a FIFO [Executor] backed by one worker goroutine started by
// [Queue.Run]. Post never blocks: the backlog is unbounded so that the audio
// I/O goroutine cannot be stalled by a slow consumer.
type Queue struct {
	mu      sync.Mutex
	pending []func()
	closed  bool

	wake chan struct{}
	done chan struct{}

	closeOnce sync.Once
}

// NewQueue creates an idle queue. Call [Queue.Run] to start processing.
func NewQueue() *Queue {
	return &Queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post appends fn to the queue. Functions posted after [Queue.Close] are
// dropped.
func (q *Queue) Post(fn func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Do posts fn and waits until it has run. It returns [ErrClosed] if the queue
// shuts down first, or ctx.Err() if ctx is done first.
func (q *Queue) Do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	q.Post(func() {
		fn()
		close(ran)
	})
	select {
	case <-ran:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes posted functions in order until ctx is cancelled or
// [Queue.Close] is called. Panics in posted functions are recovered and
// logged so that one faulty callback does not stop the queue.
func (q *Queue) Run(ctx context.Context) error {
	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		closed := q.closed
		q.mu.Unlock()

		for _, fn := range batch {
			q.run(fn)
		}
		if closed {
			return nil
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			q.Close()
			return ctx.Err()
		case <-q.done:
			// Drain anything posted before Close.
			continue
		case <-q.wake:
		}
	}
}

func (q *Queue) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatch: recovered panic in queued function", "panic", r)
		}
	}()
	fn()
}

// Close stops accepting new work. Functions already queued still run.
// Idempotent.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.done)
	})
}
