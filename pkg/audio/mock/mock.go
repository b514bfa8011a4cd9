// Package mock provides in-memory mock implementations of the [audio.Backend]
// interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	b := &mock.Backend{Authorized: true}
//	eng := capture.New(b, b, dispatch.Inline{})
//	_ = eng.StartStreaming(onVis, onChunk)
//	b.LastInput().Emit(samples)
package mock

import (
	"errors"
	"sync"

	"github.com/MrWong99/verbe/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Backend = (*Backend)(nil)

// ErrStreamClosed is returned by stream methods after Close.
var ErrStreamClosed = errors.New("mock: stream closed")

// ─── Backend ──────────────────────────────────────────────────────────────────

// Backend is a mock implementation of [audio.Backend].
// Set the exported fields before use; inspect the Call* fields after.
type Backend struct {
	mu sync.Mutex

	// Authorized is returned by MicrophoneAuthorized.
	Authorized bool

	// InputFormat is the native format reported by opened input streams.
	// Defaults to 48 kHz mono.
	InputFormat audio.Format

	// OpenInputErr, if non-nil, is returned by OpenInput.
	OpenInputErr error

	// StartErr, if non-nil, is returned by Start on every opened input stream.
	StartErr error

	// OpenOutputErr, if non-nil, is returned by OpenOutput.
	OpenOutputErr error

	// CallCountAuthorized records how many times MicrophoneAuthorized was called.
	CallCountAuthorized int

	// OpenInputCalls records the framesPerBuffer of each OpenInput call.
	OpenInputCalls []int

	// OpenOutputCalls records the format of each OpenOutput call.
	OpenOutputCalls []audio.Format

	inputs  []*InputStream
	outputs []*OutputStream
}

// MicrophoneAuthorized implements [audio.PermissionChecker].
func (b *Backend) MicrophoneAuthorized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CallCountAuthorized++
	return b.Authorized
}

// OpenInput implements [audio.InputDevice].
func (b *Backend) OpenInput(framesPerBuffer int, cb audio.InputCallback) (audio.InputStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.OpenInputCalls = append(b.OpenInputCalls, framesPerBuffer)
	if b.OpenInputErr != nil {
		return nil, b.OpenInputErr
	}
	f := b.InputFormat
	if f.SampleRate == 0 {
		f = audio.Format{SampleRate: 48000, Channels: 1}
	}
	s := &InputStream{format: f, cb: cb, startErr: b.StartErr, FramesPerBuffer: framesPerBuffer}
	b.inputs = append(b.inputs, s)
	return s, nil
}

// OpenOutput implements [audio.OutputDevice].
func (b *Backend) OpenOutput(f audio.Format) (audio.OutputStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.OpenOutputCalls = append(b.OpenOutputCalls, f)
	if b.OpenOutputErr != nil {
		return nil, b.OpenOutputErr
	}
	s := &OutputStream{format: f}
	b.outputs = append(b.outputs, s)
	return s, nil
}

// Inputs returns every input stream opened so far.
func (b *Backend) Inputs() []*InputStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*InputStream(nil), b.inputs...)
}

// LastInput returns the most recently opened input stream, or nil.
func (b *Backend) LastInput() *InputStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.inputs) == 0 {
		return nil
	}
	return b.inputs[len(b.inputs)-1]
}

// LastOutput returns the most recently opened output stream, or nil.
func (b *Backend) LastOutput() *OutputStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.outputs) == 0 {
		return nil
	}
	return b.outputs[len(b.outputs)-1]
}

// ─── InputStream ──────────────────────────────────────────────────────────────

// InputStream is a mock [audio.InputStream]. Call [InputStream.Emit] to
// simulate a buffer arriving from the hardware.
type InputStream struct {
	mu       sync.Mutex
	format   audio.Format
	cb       audio.InputCallback
	startErr error
	started  bool
	closed   bool

	// FramesPerBuffer is the value passed to OpenInput.
	FramesPerBuffer int

	// OnStop, if set, runs at the start of Stop before the stream halts.
	// Tests use it to emit a buffer against a stream that is being torn down.
	OnStop func()

	// CallCountStart, CallCountStop and CallCountClose record lifecycle calls.
	CallCountStart int
	CallCountStop  int
	CallCountClose int
}

// Format implements [audio.InputStream].
func (s *InputStream) Format() audio.Format { return s.format }

// Start implements [audio.InputStream].
func (s *InputStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.closed {
		return ErrStreamClosed
	}
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

// Stop implements [audio.InputStream].
func (s *InputStream) Stop() error {
	s.mu.Lock()
	hook := s.OnStop
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.started = false
	return nil
}

// Close implements [audio.InputStream].
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.started = false
	s.closed = true
	return nil
}

// Running reports whether the stream is started and not closed.
func (s *InputStream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.closed
}

// Emit delivers samples to the registered callback, as the hardware would.
// Emit bypasses the started check so tests can model a late I/O callback.
func (s *InputStream) Emit(samples []float32) {
	s.cb(audio.Buffer{Samples: samples, Format: s.format})
}

// ─── OutputStream ─────────────────────────────────────────────────────────────

type scheduled struct {
	samples []float32
	done    func()
}

// OutputStream is a mock [audio.OutputStream]. Scheduled buffers stay pending
// until the test calls [OutputStream.CompleteNext].
type OutputStream struct {
	mu      sync.Mutex
	format  audio.Format
	pending []scheduled
	closed  bool

	// Played holds every buffer completed via CompleteNext, in order.
	Played [][]float32

	// CallCountSchedule, CallCountStop and CallCountClose record calls.
	CallCountSchedule int
	CallCountStop     int
	CallCountClose    int
}

// Format returns the format the stream was opened with.
func (s *OutputStream) Format() audio.Format { return s.format }

// Schedule implements [audio.OutputStream].
func (s *OutputStream) Schedule(samples []float32, done func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountSchedule++
	if s.closed {
		return ErrStreamClosed
	}
	s.pending = append(s.pending, scheduled{samples: samples, done: done})
	return nil
}

// Stop implements [audio.OutputStream]. Pending buffers are discarded without
// calling their done callbacks.
func (s *OutputStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.pending = nil
	return nil
}

// Close implements [audio.OutputStream].
func (s *OutputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.pending = nil
	s.closed = true
	return nil
}

// Pending returns the number of scheduled, not yet completed buffers.
func (s *OutputStream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Closed reports whether Close was called.
func (s *OutputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CompleteNext marks the oldest scheduled buffer as consumed by the hardware
// and invokes its done callback. It reports false when nothing is pending.
func (s *OutputStream) CompleteNext() bool {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return false
	}
	next := s.pending[0]
	s.pending = s.pending[1:]
	s.Played = append(s.Played, next.samples)
	s.mu.Unlock()

	if next.done != nil {
		next.done()
	}
	return true
}
