// Package mock provides in-memory implementations of [engine.CommandEngine]
// and [engine.LiveEngine] for controller tests.
//
// The mocks record every call and expose the callbacks they were handed so a
// test can play the part of the pipeline. They are safe for concurrent use.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/verbe/internal/engine"
	"github.com/MrWong99/verbe/internal/voice"
	"github.com/MrWong99/verbe/pkg/audio"
	"github.com/MrWong99/verbe/pkg/types"
)

var (
	_ engine.CommandEngine = (*CommandEngine)(nil)
	_ engine.LiveEngine    = (*LiveEngine)(nil)
)

// CommandEngine is a mock [engine.CommandEngine].
type CommandEngine struct {
	mu sync.Mutex

	// StartErr is returned by StartRecording.
	StartErr error

	// Context is the capture context passed to StartRecording.
	Context voice.CaptureContext

	// OnVisualizer and OnDuration are the callbacks passed to StartRecording.
	OnVisualizer func(audio.VisualizerFrame)
	OnDuration   func(time.Duration)

	// Completion is the callback passed to StopRecordingAndProcess.
	Completion func(types.DraftResult, error)

	StartCalls  int
	StopCalls   int
	CancelCalls int
}

// StartRecording records the call.
func (e *CommandEngine) StartRecording(c voice.CaptureContext, onVisualizer func(audio.VisualizerFrame), onDuration func(time.Duration)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.StartCalls++
	e.Context = c
	e.OnVisualizer = onVisualizer
	e.OnDuration = onDuration
	return e.StartErr
}

// StopRecordingAndProcess stores completion for the test to invoke.
func (e *CommandEngine) StopRecordingAndProcess(completion func(types.DraftResult, error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.StopCalls++
	e.Completion = completion
}

// Cancel records the call.
func (e *CommandEngine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CancelCalls++
}

// Complete invokes the stored completion, if any.
func (e *CommandEngine) Complete(d types.DraftResult, err error) {
	e.mu.Lock()
	fn := e.Completion
	e.mu.Unlock()
	if fn != nil {
		fn(d, err)
	}
}

// Counts returns the start, stop and cancel call counts.
func (e *CommandEngine) Counts() (start, stop, cancel int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.StartCalls, e.StopCalls, e.CancelCalls
}

// LiveEngine is a mock [engine.LiveEngine].
type LiveEngine struct {
	mu sync.Mutex

	// ConnectErr is returned by Connect.
	ConnectErr error

	// Context and Callbacks are the arguments of the last Connect.
	Context   voice.CaptureContext
	Callbacks engine.LiveCallbacks

	// Chunks records every SendAudioChunk payload.
	Chunks [][]byte

	// Teardown is returned by Disconnect when set, so a test decides when
	// the devices count as released. Nil means released immediately.
	Teardown chan struct{}

	StatusValue     voice.LiveStatus
	ConnectCalls    int
	DisconnectCalls int
}

// Connect records the call.
func (e *LiveEngine) Connect(_ context.Context, c voice.CaptureContext, cb engine.LiveCallbacks) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ConnectCalls++
	e.Context = c
	e.Callbacks = cb
	if e.ConnectErr == nil {
		e.StatusValue = voice.LiveConnecting
	}
	return e.ConnectErr
}

// SendAudioChunk records the chunk.
func (e *LiveEngine) SendAudioChunk(pcm []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Chunks = append(e.Chunks, pcm)
}

// Disconnect records the call and returns Teardown, or a closed channel when
// Teardown is nil. The stored OnDisconnect callback is not invoked; tests
// call it explicitly.
func (e *LiveEngine) Disconnect() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.DisconnectCalls++
	e.StatusValue = voice.LiveOff
	if e.Teardown != nil {
		return e.Teardown
	}
	done := make(chan struct{})
	close(done)
	return done
}

// Connects returns the number of Connect calls.
func (e *LiveEngine) Connects() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ConnectCalls
}

// Status returns StatusValue.
func (e *LiveEngine) Status() voice.LiveStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.StatusValue
}

// CB returns the callbacks of the last Connect.
func (e *LiveEngine) CB() engine.LiveCallbacks {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Callbacks
}

// Disconnects returns the number of Disconnect calls.
func (e *LiveEngine) Disconnects() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.DisconnectCalls
}
