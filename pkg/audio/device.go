// Package audio defines the device abstractions, sample formats and
// conversions shared by the capture and playback pipelines.
//
// The device interfaces are intentionally narrow so that the real backend
// (package audio/portaudio) and the in-memory test double (package audio/mock)
// are interchangeable. Callbacks registered with an input stream run on the
// device's I/O goroutine and must return quickly without touching shared
// state.
package audio

import "errors"

// ErrNoDevice is returned when no default input or output device exists.
var ErrNoDevice = errors.New("audio: no device available")

// InputCallback receives one buffer of interleaved float32 samples. The
// Samples slice is owned by the device and may be reused after the callback
// returns; callers that keep it must copy.
type InputCallback func(buf Buffer)

// InputDevice opens capture streams on the default microphone.
type InputDevice interface {
	// OpenInput prepares a stream that delivers framesPerBuffer frames per
	// callback. The stream is created stopped.
	OpenInput(framesPerBuffer int, cb InputCallback) (InputStream, error)
}

// InputStream is an open capture stream.
type InputStream interface {
	// Format reports the native sample rate and channel count of the stream.
	Format() Format
	Start() error
	Stop() error
	Close() error
}

// OutputDevice opens playback streams on the default speaker.
type OutputDevice interface {
	OpenOutput(f Format) (OutputStream, error)
}

// OutputStream is an open playback stream that consumes scheduled buffers in
// order.
type OutputStream interface {
	// Schedule queues samples for output. done is called exactly once, from the
	// device's goroutine, when the hardware has consumed the buffer. Buffers
	// discarded by Stop or Close never call done.
	Schedule(samples []float32, done func()) error

	// Stop halts output and discards scheduled buffers. The stream may be
	// scheduled again afterwards.
	Stop() error

	// Close releases the stream irreversibly.
	Close() error
}

// PermissionChecker reports whether the process may use the microphone.
type PermissionChecker interface {
	MicrophoneAuthorized() bool
}

// Backend bundles everything the voice pipelines need from the audio system.
type Backend interface {
	InputDevice
	OutputDevice
	PermissionChecker
}
