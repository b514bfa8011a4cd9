// Package playback plays decoded audio buffers strictly in arrival order.
//
// A [Queue] schedules one buffer at a time on an [audio.OutputStream]; when
// the device reports the buffer consumed, the next one is scheduled. The
// transitions idle→busy and busy→idle are reported once each through the
// OnStarted and OnFinished hooks, which run on the configured [Executor].
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/verbe/pkg/audio"
)

var (
	// ErrNotSetup is returned by Enqueue before Setup succeeded.
	ErrNotSetup = errors.New("playback: queue not set up")

	// ErrClosed is returned after Cleanup.
	ErrClosed = errors.New("playback: queue closed")
)

// Executor runs the started/finished hooks.
type Executor interface {
	Post(fn func())
}

// Queue is a FIFO of float32 mono buffers played on a single output stream.
// All methods are safe for concurrent use.
type Queue struct {
	dev    audio.OutputDevice
	exec   Executor
	format audio.Format

	mu         sync.Mutex
	stream     audio.OutputStream
	pending    [][]float32
	playing    bool
	gen        uint64
	closed     bool
	onStarted  func()
	onFinished func()
}

// New creates a Queue that will play through dev at the given sample rate
// (mono). Call [Queue.Setup] before enqueuing.
func New(dev audio.OutputDevice, exec Executor, sampleRate int) *Queue {
	return &Queue{
		dev:    dev,
		exec:   exec,
		format: audio.Format{SampleRate: sampleRate, Channels: 1},
	}
}

// OnStarted sets the hook fired when the first buffer after an idle period is
// scheduled.
func (q *Queue) OnStarted(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onStarted = fn
}

// OnFinished sets the hook fired when the last queued buffer has been
// consumed by the device.
func (q *Queue) OnFinished(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onFinished = fn
}

// Setup opens the output stream. Calling Setup on a queue that is already set
// up is a no-op.
func (q *Queue) Setup() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.stream != nil {
		return nil
	}
	s, err := q.dev.OpenOutput(q.format)
	if err != nil {
		return fmt.Errorf("playback: open output: %w", err)
	}
	q.stream = s
	return nil
}

// Enqueue appends samples to the queue and starts playback if idle.
// The queue takes ownership of samples. Empty buffers are ignored.
func (q *Queue) Enqueue(samples []float32) error {
	if len(samples) == 0 {
		return nil
	}
	q.mu.Lock()
	switch {
	case q.closed:
		q.mu.Unlock()
		return ErrClosed
	case q.stream == nil:
		q.mu.Unlock()
		return ErrNotSetup
	}

	q.pending = append(q.pending, samples)
	var hooks []func()
	if !q.playing {
		q.playing = true
		hooks = append(hooks, q.onStarted)
		if q.scheduleNextLocked() {
			hooks = append(hooks, q.onFinished)
		}
	}
	q.notify(hooks...)
	q.mu.Unlock()
	return nil
}

// EnqueuePCM16 decodes little-endian mono PCM16 and enqueues it.
func (q *Queue) EnqueuePCM16(pcm []byte) error {
	return q.Enqueue(audio.PCM16ToFloat32(pcm))
}

// Len returns the number of buffers not yet consumed, including the one
// currently playing.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	if q.playing {
		n++
	}
	return n
}

// Playing reports whether the queue is in a busy period.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Stop discards all queued audio and halts output. Hooks are not fired for
// discarded buffers. The queue can be enqueued again afterwards.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.haltLocked()
}

// Cleanup stops playback and closes the output stream. The queue cannot be
// used afterwards. Cleanup is idempotent.
//
// The stream is closed without q.mu held: closing may wait for the device
// goroutine, which can be blocked in a completion callback on q.mu.
func (q *Queue) Cleanup() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.haltLocked()
	q.closed = true
	q.onStarted = nil
	q.onFinished = nil
	stream := q.stream
	q.stream = nil
	q.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			slog.Warn("playback: close output stream", "err", err)
		}
	}
}

func (q *Queue) haltLocked() {
	q.gen++
	q.pending = nil
	q.playing = false
	if q.stream != nil {
		if err := q.stream.Stop(); err != nil {
			slog.Warn("playback: stop output stream", "err", err)
		}
	}
}

// scheduleNextLocked hands the head of the queue to the device. Buffers the
// device refuses are dropped and the next one is tried. It reports true when
// the queue ran dry and the busy period ended.
func (q *Queue) scheduleNextLocked() bool {
	for len(q.pending) > 0 {
		next := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]

		gen := q.gen
		err := q.stream.Schedule(next, func() { q.completed(gen) })
		if err == nil {
			return false
		}
		slog.Warn("playback: schedule buffer failed, dropping", "err", err, "samples", len(next))
	}
	q.playing = false
	return true
}

// completed runs on the device goroutine when a scheduled buffer has been
// consumed.
func (q *Queue) completed(gen uint64) {
	q.mu.Lock()
	if gen != q.gen || !q.playing {
		q.mu.Unlock()
		return
	}
	if q.scheduleNextLocked() {
		q.notify(q.onFinished)
	}
	q.mu.Unlock()
}

// notify posts hooks while q.mu is held so started and finished keep their
// order. Hooks must not be run synchronously by the executor if they call
// back into the Queue.
func (q *Queue) notify(hooks ...func()) {
	for _, fn := range hooks {
		if fn != nil {
			q.exec.Post(fn)
		}
	}
}
