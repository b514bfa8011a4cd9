// Package capture owns the microphone and turns its buffers into either a
// recorded WAV file (one-shot commands) or a live stream of 16 kHz mono PCM16
// chunks (live sessions), plus periodic visualizer frames.
//
// The two modes are mutually exclusive. All consumer callbacks are handed to
// the configured [Executor] so that the device's I/O goroutine never runs
// consumer code directly.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/MrWong99/verbe/pkg/audio"
)

// Tap sizes in frames per device callback.
const (
	FileTapFrames   = 1024
	StreamTapFrames = 4096
)

const (
	wavBitDepth  = 16
	wavFormatPCM = 1

	// writeBacklog is the number of buffers the file writer may lag behind
	// the device before the tap blocks.
	writeBacklog = 256
)

var (
	// ErrAlreadyRecording is returned when a recording is started while
	// another one (in either mode) is still open.
	ErrAlreadyRecording = errors.New("capture: already recording")

	// ErrEngineSetup is returned when the input stream cannot be opened or
	// started.
	ErrEngineSetup = errors.New("capture: audio engine setup failed")

	// ErrInputUnavailable is returned when no input device exists.
	ErrInputUnavailable = errors.New("capture: input device not available")

	// ErrPermissionDenied is returned when microphone access is not granted.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")
)

// Executor runs consumer callbacks. It is satisfied by the application's
// sequential queue.
type Executor interface {
	Post(fn func())
}

// Mode identifies which recording mode is active.
type Mode int

const (
	ModeIdle Mode = iota
	ModeFile
	ModeStreaming
)

// String returns the human-readable name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeFile:
		return "file"
	case ModeStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Option configures an [Engine].
type Option func(*Engine)

// WithTempDir sets the directory used for file-mode recordings.
// Defaults to os.TempDir().
func WithTempDir(dir string) Option {
	return func(e *Engine) { e.tempDir = dir }
}

// WithTapFrames overrides the frames-per-buffer of both taps.
func WithTapFrames(file, stream int) Option {
	return func(e *Engine) {
		if file > 0 {
			e.fileFrames = file
		}
		if stream > 0 {
			e.streamFrames = stream
		}
	}
}

// Engine is the audio capture engine. Its methods are safe for concurrent
// use; teardown may run on a background goroutine while the owner moves on.
type Engine struct {
	dev  audio.InputDevice
	perm audio.PermissionChecker
	exec Executor

	tempDir      string
	fileFrames   int
	streamFrames int

	mu     sync.Mutex
	mode   Mode
	stream audio.InputStream
	rec    *recording

	// tap is read by the device callback. A nil tap means buffers are dropped.
	tap atomic.Pointer[func(audio.Buffer)]
}

// New creates an Engine on top of dev. perm may be nil, in which case the
// caller is responsible for checking permission beforehand.
func New(dev audio.InputDevice, perm audio.PermissionChecker, exec Executor, opts ...Option) *Engine {
	e := &Engine{
		dev:          dev,
		perm:         perm,
		exec:         exec,
		tempDir:      os.TempDir(),
		fileFrames:   FileTapFrames,
		streamFrames: StreamTapFrames,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Mode returns the active recording mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// recording is the per-session state shared between the tap and Stop.
type recording struct {
	mu     sync.Mutex
	active bool

	// file mode
	path    string
	file    *os.File
	enc     *wav.Encoder
	writeCh chan []float32
	written chan error
}

func (r *recording) isActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// ── File mode ─────────────────────────────────────────────────────────────────

// StartFile begins recording the microphone into a new temporary WAV file and
// returns its path. onVisualizer receives a frame per ~1024-sample buffer.
func (e *Engine) StartFile(onVisualizer func(audio.VisualizerFrame)) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkStartLocked(); err != nil {
		return "", err
	}

	path := filepath.Join(e.tempDir, "verbe-"+uuid.NewString()+".wav")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("%w: create recording: %v", ErrEngineSetup, err)
	}

	rec := &recording{
		active:  true,
		path:    path,
		file:    f,
		writeCh: make(chan []float32, writeBacklog),
		written: make(chan error, 1),
	}

	stream, err := e.dev.OpenInput(e.fileFrames, e.onInput)
	if err != nil {
		f.Close()
		os.Remove(path)
		return "", wrapOpenErr(err)
	}
	format := stream.Format()
	rec.enc = wav.NewEncoder(f, format.SampleRate, wavBitDepth, 1, wavFormatPCM)
	go rec.writeLoop(format.SampleRate)

	tap := func(buf audio.Buffer) {
		mono := audio.DownmixFloat32(buf.Samples, buf.Format.Channels)
		owned := make([]float32, len(mono))
		copy(owned, mono)

		rec.mu.Lock()
		if rec.active {
			rec.writeCh <- owned
		}
		rec.mu.Unlock()

		if onVisualizer != nil {
			frame := audio.Visualize(buf)
			e.exec.Post(func() {
				if rec.isActive() {
					onVisualizer(frame)
				}
			})
		}
	}
	e.tap.Store(&tap)

	if err := stream.Start(); err != nil {
		e.tap.Store(nil)
		stream.Close()
		rec.finish()
		os.Remove(path)
		return "", fmt.Errorf("%w: start input: %v", ErrEngineSetup, err)
	}

	e.mode = ModeFile
	e.stream = stream
	e.rec = rec
	slog.Debug("capture: file recording started", "path", path, "format", format)
	return path, nil
}

// StopFile stops a file-mode recording and returns the path of the finalized
// WAV file. The caller owns the file and must delete it. Calling StopFile
// when no file recording is active returns "" and a nil error.
func (e *Engine) StopFile() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode != ModeFile {
		return "", nil
	}
	rec := e.rec
	e.haltLocked()

	if err := rec.finish(); err != nil {
		return rec.path, fmt.Errorf("capture: finalize recording: %w", err)
	}
	return rec.path, nil
}

func (r *recording) writeLoop(sampleRate int) {
	var writeErr error
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		SourceBitDepth: wavBitDepth,
	}
	for samples := range r.writeCh {
		if writeErr != nil {
			continue
		}
		buf.Data = buf.Data[:0]
		for _, s := range samples {
			buf.Data = append(buf.Data, int(pcm16(s)))
		}
		writeErr = r.enc.Write(buf)
	}
	r.written <- writeErr
}

// finish deactivates the recording, drains the writer and closes the file.
// For streaming recordings it only deactivates.
func (r *recording) finish() error {
	r.mu.Lock()
	wasActive := r.active
	r.active = false
	if wasActive && r.writeCh != nil {
		close(r.writeCh)
	}
	r.mu.Unlock()

	if !wasActive || r.file == nil {
		return nil
	}

	var errs []error
	if err := <-r.written; err != nil {
		errs = append(errs, err)
	}
	if err := r.enc.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := r.file.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ── Streaming mode ────────────────────────────────────────────────────────────

// StartStreaming begins live capture. For every ~4096-sample buffer,
// onVisualizer receives a visualizer frame and onChunk receives the buffer
// converted to 16 kHz mono little-endian PCM16.
func (e *Engine) StartStreaming(onVisualizer func(audio.VisualizerFrame), onChunk func([]byte)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkStartLocked(); err != nil {
		return err
	}

	stream, err := e.dev.OpenInput(e.streamFrames, e.onInput)
	if err != nil {
		return wrapOpenErr(err)
	}

	rec := &recording{active: true}
	conv := &audio.FormatConverter{TargetRate: audio.CaptureRate}
	tap := func(buf audio.Buffer) {
		frame := audio.Visualize(buf)
		chunk := conv.Convert(buf)
		e.exec.Post(func() {
			if !rec.isActive() {
				return
			}
			if onVisualizer != nil {
				onVisualizer(frame)
			}
			if onChunk != nil && len(chunk) > 0 {
				onChunk(chunk)
			}
		})
	}
	e.tap.Store(&tap)

	if err := stream.Start(); err != nil {
		e.tap.Store(nil)
		stream.Close()
		return fmt.Errorf("%w: start input: %v", ErrEngineSetup, err)
	}

	e.mode = ModeStreaming
	e.stream = stream
	e.rec = rec
	slog.Debug("capture: streaming started", "format", stream.Format())
	return nil
}

// StopStreaming stops live capture. It is a no-op when not streaming.
func (e *Engine) StopStreaming() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode != ModeStreaming {
		return
	}
	rec := e.rec
	e.haltLocked()
	_ = rec.finish()
}

// Stop halts whichever mode is active. A file recording is finalized and its
// file removed, since no caller will collect it.
func (e *Engine) Stop() {
	switch e.Mode() {
	case ModeFile:
		path, err := e.StopFile()
		if err != nil {
			slog.Warn("capture: finalize discarded recording", "err", err)
		}
		if path != "" {
			os.Remove(path)
		}
	case ModeStreaming:
		e.StopStreaming()
	}
}

// ── shared ────────────────────────────────────────────────────────────────────

func (e *Engine) checkStartLocked() error {
	if e.mode != ModeIdle {
		return ErrAlreadyRecording
	}
	if e.perm != nil && !e.perm.MicrophoneAuthorized() {
		return ErrPermissionDenied
	}
	return nil
}

// haltLocked removes the tap and only then stops and closes the stream, so no
// callback can run against a half-torn-down stream.
func (e *Engine) haltLocked() {
	e.tap.Store(nil)
	if err := e.stream.Stop(); err != nil {
		slog.Warn("capture: stop input stream", "err", err)
	}
	if err := e.stream.Close(); err != nil {
		slog.Warn("capture: close input stream", "err", err)
	}
	e.stream = nil
	e.rec = nil
	e.mode = ModeIdle
}

// onInput is the device callback. It runs on the device's I/O goroutine.
func (e *Engine) onInput(buf audio.Buffer) {
	tap := e.tap.Load()
	if tap == nil {
		return
	}
	(*tap)(buf)
}

func wrapOpenErr(err error) error {
	if errors.Is(err, audio.ErrNoDevice) {
		return fmt.Errorf("%w: %v", ErrInputUnavailable, err)
	}
	return fmt.Errorf("%w: open input: %v", ErrEngineSetup, err)
}

func pcm16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(s * 32767)
}
