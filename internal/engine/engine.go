// Package engine defines the two voice pipelines the controller drives and the
// audio contracts they depend on.
//
// A [CommandEngine] records one utterance to a file and turns it into a
// [types.DraftResult] with a single structured completion call. A [LiveEngine]
// keeps a bidirectional session open, streaming microphone audio out and
// playing the model's audio back while dispatching its tool calls.
//
// Both are single-use: the controller creates a fresh instance whenever a mode
// starts and drops it when the mode ends. Callbacks are delivered on the
// executor the engine was built with, never on a device or network goroutine.
package engine

import (
	"context"
	"time"

	"github.com/MrWong99/verbe/internal/voice"
	"github.com/MrWong99/verbe/pkg/audio"
	"github.com/MrWong99/verbe/pkg/types"
)

// FileRecorder records microphone input to a file. Satisfied by
// *capture.Engine.
type FileRecorder interface {
	StartFile(onVisualizer func(audio.VisualizerFrame)) (string, error)
	StopFile() (string, error)
	Stop()
}

// StreamRecorder streams 16 kHz PCM16 chunks. Satisfied by *capture.Engine.
type StreamRecorder interface {
	StartStreaming(onVisualizer func(audio.VisualizerFrame), onChunk func([]byte)) error
	StopStreaming()
}

// Player plays 24 kHz PCM16 audio in arrival order. Satisfied by
// *playback.Queue.
type Player interface {
	Setup() error
	EnqueuePCM16(pcm []byte) error
	OnStarted(fn func())
	OnFinished(fn func())
	Len() int
	Stop()
	Cleanup()
}

// CommandEngine is the one-shot voice command pipeline.
type CommandEngine interface {
	// StartRecording begins file capture. onDuration receives the elapsed
	// recording time roughly every 100 ms.
	StartRecording(c voice.CaptureContext, onVisualizer func(audio.VisualizerFrame), onDuration func(time.Duration)) error

	// StopRecordingAndProcess stops capture and submits the recording.
	// completion is called exactly once unless Cancel runs first.
	StopRecordingAndProcess(completion func(types.DraftResult, error))

	// Cancel aborts capture and drops any pending completion.
	Cancel()
}

// LiveCallbacks are the notifications a [LiveEngine] sends to its owner.
// Nil fields are skipped.
type LiveCallbacks struct {
	OnVisualizer    func(audio.VisualizerFrame)
	OnDraftComplete func(types.DraftResult)
	OnImageRequest  func(prompt string)
	OnStatusChange  func(voice.LiveStatus)
	OnDisconnect    func()
	OnCloseIntent   func()
	OnError         func(error)
}

// LiveEngine is the persistent live conversation pipeline.
type LiveEngine interface {
	// Connect opens the session. It fails if the engine is already connected
	// or connecting. Setup completes asynchronously.
	Connect(ctx context.Context, c voice.CaptureContext, cb LiveCallbacks) error

	// SendAudioChunk forwards microphone audio. No-op until connected.
	SendAudioChunk(pcm []byte)

	// Disconnect tears the session down. Concurrent and repeated calls are
	// safe; the returned channel closes once teardown has finished.
	Disconnect() <-chan struct{}

	// Status returns the current live status.
	Status() voice.LiveStatus
}
