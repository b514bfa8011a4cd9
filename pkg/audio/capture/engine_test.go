package capture_test

import (
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/go-audio/wav"

	"github.com/MrWong99/verbe/pkg/audio"
	"github.com/MrWong99/verbe/pkg/audio/capture"
	"github.com/MrWong99/verbe/pkg/audio/mock"
)

// inline runs posted work immediately on the calling goroutine.
type inline struct{}

func (inline) Post(fn func()) { fn() }

// collector records posted callbacks for later inspection.
type collector struct {
	mu     sync.Mutex
	frames []audio.VisualizerFrame
	chunks [][]byte
}

func (c *collector) onFrame(f audio.VisualizerFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
}

func (c *collector) onChunk(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, b)
}

func (c *collector) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames), len(c.chunks)
}

func newEngine(t *testing.T, b *mock.Backend) *capture.Engine {
	t.Helper()
	return capture.New(b, b, inline{}, capture.WithTempDir(t.TempDir()))
}

func tone(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestStartFile_WritesWAV(t *testing.T) {
	t.Parallel()

	b := &mock.Backend{Authorized: true, InputFormat: audio.Format{SampleRate: 16000, Channels: 1}}
	eng := newEngine(t, b)
	var c collector

	path, err := eng.StartFile(c.onFrame)
	if err != nil {
		t.Fatalf("StartFile: %v", err)
	}
	if got := eng.Mode(); got != capture.ModeFile {
		t.Fatalf("Mode = %v, want file", got)
	}
	in := b.LastInput()
	if in.FramesPerBuffer != capture.FileTapFrames {
		t.Errorf("FramesPerBuffer = %d, want %d", in.FramesPerBuffer, capture.FileTapFrames)
	}

	in.Emit(tone(1024, 0.5))
	in.Emit(tone(1024, -0.5))

	got, err := eng.StopFile()
	if err != nil {
		t.Fatalf("StopFile: %v", err)
	}
	if got != path {
		t.Errorf("StopFile path = %q, want %q", got, path)
	}
	if frames, _ := c.counts(); frames != 2 {
		t.Errorf("visualizer frames = %d, want 2", frames)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open recording: %v", err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode recording: %v", err)
	}
	if dec.SampleRate != 16000 || dec.NumChans != 1 || dec.BitDepth != 16 {
		t.Errorf("header = %d Hz/%d ch/%d bit, want 16000/1/16", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	if len(buf.Data) != 2048 {
		t.Fatalf("decoded %d samples, want 2048", len(buf.Data))
	}
	if buf.Data[0] != 16383 || buf.Data[2047] != -16383 {
		t.Errorf("samples = %d, %d, want 16383, -16383", buf.Data[0], buf.Data[2047])
	}
}

func TestStartFile_DownmixesStereo(t *testing.T) {
	t.Parallel()

	b := &mock.Backend{Authorized: true, InputFormat: audio.Format{SampleRate: 44100, Channels: 2}}
	eng := newEngine(t, b)

	path, err := eng.StartFile(nil)
	if err != nil {
		t.Fatalf("StartFile: %v", err)
	}
	b.LastInput().Emit([]float32{1, 0, 1, 0, 1, 0, 1, 0})
	if _, err := eng.StopFile(); err != nil {
		t.Fatalf("StopFile: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatal(err)
	}
	if dec.NumChans != 1 || dec.SampleRate != 44100 {
		t.Errorf("header = %d ch @ %d Hz, want mono @ 44100", dec.NumChans, dec.SampleRate)
	}
	if len(buf.Data) != 4 {
		t.Errorf("decoded %d samples, want 4", len(buf.Data))
	}
}

func TestStart_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		backend *mock.Backend
		want    error
	}{
		{
			name:    "permission denied",
			backend: &mock.Backend{Authorized: false},
			want:    capture.ErrPermissionDenied,
		},
		{
			name:    "no device",
			backend: &mock.Backend{Authorized: true, OpenInputErr: audio.ErrNoDevice},
			want:    capture.ErrInputUnavailable,
		},
		{
			name:    "open fails",
			backend: &mock.Backend{Authorized: true, OpenInputErr: errors.New("busy")},
			want:    capture.ErrEngineSetup,
		},
		{
			name:    "start fails",
			backend: &mock.Backend{Authorized: true, StartErr: errors.New("boom")},
			want:    capture.ErrEngineSetup,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			eng := newEngine(t, tt.backend)

			if _, err := eng.StartFile(nil); !errors.Is(err, tt.want) {
				t.Errorf("StartFile error = %v, want %v", err, tt.want)
			}
			if err := eng.StartStreaming(nil, nil); !errors.Is(err, tt.want) {
				t.Errorf("StartStreaming error = %v, want %v", err, tt.want)
			}
			if got := eng.Mode(); got != capture.ModeIdle {
				t.Errorf("Mode = %v after failure, want idle", got)
			}
		})
	}
}

func TestStart_AlreadyRecording(t *testing.T) {
	t.Parallel()

	b := &mock.Backend{Authorized: true}
	eng := newEngine(t, b)

	if err := eng.StartStreaming(nil, nil); err != nil {
		t.Fatalf("StartStreaming: %v", err)
	}
	if _, err := eng.StartFile(nil); !errors.Is(err, capture.ErrAlreadyRecording) {
		t.Errorf("StartFile while streaming = %v, want ErrAlreadyRecording", err)
	}
	if err := eng.StartStreaming(nil, nil); !errors.Is(err, capture.ErrAlreadyRecording) {
		t.Errorf("second StartStreaming = %v, want ErrAlreadyRecording", err)
	}
	eng.StopStreaming()
	if err := eng.StartStreaming(nil, nil); err != nil {
		t.Errorf("StartStreaming after stop: %v", err)
	}
	eng.StopStreaming()
}

func TestStreaming_ConvertsTo16kPCM(t *testing.T) {
	t.Parallel()

	b := &mock.Backend{Authorized: true, InputFormat: audio.Format{SampleRate: 48000, Channels: 1}}
	eng := newEngine(t, b)
	var c collector

	if err := eng.StartStreaming(c.onFrame, c.onChunk); err != nil {
		t.Fatalf("StartStreaming: %v", err)
	}
	in := b.LastInput()
	if in.FramesPerBuffer != capture.StreamTapFrames {
		t.Errorf("FramesPerBuffer = %d, want %d", in.FramesPerBuffer, capture.StreamTapFrames)
	}

	in.Emit(tone(4800, 0.25))

	frames, chunks := c.counts()
	if frames != 1 || chunks != 1 {
		t.Fatalf("frames=%d chunks=%d, want 1/1", frames, chunks)
	}
	// 4800 samples at 48 kHz is 100 ms, which is 1600 samples at 16 kHz.
	if n := len(c.chunks[0]); n < 3198 || n > 3202 {
		t.Errorf("chunk length = %d bytes, want ~3200", n)
	}
	eng.StopStreaming()
}

func TestStop_DetachesTapBeforeHalting(t *testing.T) {
	t.Parallel()

	b := &mock.Backend{Authorized: true}
	eng := newEngine(t, b)
	var c collector

	if err := eng.StartStreaming(c.onFrame, c.onChunk); err != nil {
		t.Fatalf("StartStreaming: %v", err)
	}
	in := b.LastInput()
	in.OnStop = func() { in.Emit(tone(4096, 0.5)) }

	eng.StopStreaming()

	if frames, chunks := c.counts(); frames != 0 || chunks != 0 {
		t.Errorf("callback during teardown delivered frames=%d chunks=%d, want none", frames, chunks)
	}
	if in.CallCountStop != 1 || in.CallCountClose != 1 {
		t.Errorf("stop/close = %d/%d, want 1/1", in.CallCountStop, in.CallCountClose)
	}

	// A late buffer after teardown is dropped too.
	in.Emit(tone(4096, 0.5))
	if frames, _ := c.counts(); frames != 0 {
		t.Errorf("late buffer delivered %d frames", frames)
	}
}

func TestStop_PostedWorkAfterStopIsDropped(t *testing.T) {
	t.Parallel()

	b := &mock.Backend{Authorized: true}
	var q deferredExec
	eng := capture.New(b, b, &q, capture.WithTempDir(t.TempDir()))
	var c collector

	if err := eng.StartStreaming(c.onFrame, c.onChunk); err != nil {
		t.Fatalf("StartStreaming: %v", err)
	}
	b.LastInput().Emit(tone(4096, 0.5))
	eng.StopStreaming()
	q.drain()

	if frames, chunks := c.counts(); frames != 0 || chunks != 0 {
		t.Errorf("stale callbacks ran: frames=%d chunks=%d", frames, chunks)
	}
}

func TestStop_Idempotent(t *testing.T) {
	t.Parallel()

	b := &mock.Backend{Authorized: true}
	eng := newEngine(t, b)

	if path, err := eng.StopFile(); path != "" || err != nil {
		t.Errorf("StopFile when idle = %q, %v", path, err)
	}
	eng.StopStreaming()
	eng.Stop()

	path, err := eng.StartFile(nil)
	if err != nil {
		t.Fatal(err)
	}
	eng.StopStreaming() // wrong mode, no effect
	if got := eng.Mode(); got != capture.ModeFile {
		t.Fatalf("Mode = %v, want file", got)
	}
	eng.Stop()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Stop should remove an uncollected recording, stat err = %v", err)
	}
	if got := eng.Mode(); got != capture.ModeIdle {
		t.Errorf("Mode = %v, want idle", got)
	}
}

// deferredExec queues posted work until drain is called.
type deferredExec struct {
	mu  sync.Mutex
	fns []func()
}

func (d *deferredExec) Post(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fns = append(d.fns, fn)
}

func (d *deferredExec) drain() {
	d.mu.Lock()
	fns := d.fns
	d.fns = nil
	d.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
