// Package portaudio implements [audio.Backend] on top of the PortAudio C
// library via github.com/gordonklaus/portaudio.
//
// Input streams use PortAudio's callback mode; the callback runs on
// PortAudio's real-time thread and forwards each buffer to the registered
// [audio.InputCallback]. Output streams use blocking writes driven by one
// goroutine per stream, which also invokes the per-buffer done callbacks.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/verbe/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Backend = (*Backend)(nil)

// defaultOutputFrames is the blocking write granularity of output streams.
const defaultOutputFrames = 1024

// Option configures a [Backend].
type Option func(*Backend)

// WithInputDevice selects the capture device whose name contains name
// (case-insensitive). An empty name selects the system default.
func WithInputDevice(name string) Option {
	return func(b *Backend) { b.inputName = name }
}

// Backend is the PortAudio audio backend. Create it with [Open] and release it
// with [Backend.Close].
type Backend struct {
	inputName string

	mu     sync.Mutex
	closed bool
}

// Open initialises PortAudio.
func Open(opts ...Option) (*Backend, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	b := &Backend{}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Close terminates PortAudio. Streams must be closed first.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return pa.Terminate()
}

// Device describes an audio device for listing purposes.
type Device struct {
	Name              string
	HostAPI           string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	DefaultInput      bool
	DefaultOutput     bool
}

// Devices lists all devices PortAudio knows about.
func (b *Backend) Devices() ([]Device, error) {
	infos, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	defIn, _ := pa.DefaultInputDevice()
	defOut, _ := pa.DefaultOutputDevice()

	out := make([]Device, 0, len(infos))
	for _, d := range infos {
		dev := Device{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			DefaultInput:      defIn != nil && d.Name == defIn.Name,
			DefaultOutput:     defOut != nil && d.Name == defOut.Name,
		}
		if d.HostApi != nil {
			dev.HostAPI = d.HostApi.Name
		}
		out = append(out, dev)
	}
	return out, nil
}

// MicrophoneAuthorized reports whether a usable capture device exists.
// PortAudio has no permission API; on platforms that gate microphone access
// the OS prompts when the stream starts.
func (b *Backend) MicrophoneAuthorized() bool {
	d, err := b.inputDevice()
	return err == nil && d.MaxInputChannels > 0
}

func (b *Backend) inputDevice() (*pa.DeviceInfo, error) {
	if b.inputName == "" {
		d, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", audio.ErrNoDevice, err)
		}
		return d, nil
	}
	infos, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrNoDevice, err)
	}
	want := strings.ToLower(b.inputName)
	for _, d := range infos {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: no input device matching %q", audio.ErrNoDevice, b.inputName)
}

// ── Input ─────────────────────────────────────────────────────────────────────

// OpenInput implements [audio.InputDevice]. The stream captures one channel at
// the device's default sample rate.
func (b *Backend) OpenInput(framesPerBuffer int, cb audio.InputCallback) (audio.InputStream, error) {
	dev, err := b.inputDevice()
	if err != nil {
		return nil, err
	}
	p := pa.HighLatencyParameters(dev, nil)
	p.Input.Channels = 1
	p.FramesPerBuffer = framesPerBuffer

	format := audio.Format{SampleRate: int(dev.DefaultSampleRate), Channels: 1}
	s, err := pa.OpenStream(p, func(in []float32) {
		cb(audio.Buffer{Samples: in, Format: format})
	})
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input %q: %w", dev.Name, err)
	}
	return &inputStream{s: s, format: format}, nil
}

type inputStream struct {
	s      *pa.Stream
	format audio.Format

	mu      sync.Mutex
	started bool
	closed  bool
}

func (in *inputStream) Format() audio.Format { return in.format }

func (in *inputStream) Start() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return errors.New("portaudio: input stream closed")
	}
	if in.started {
		return nil
	}
	if err := in.s.Start(); err != nil {
		return err
	}
	in.started = true
	return nil
}

func (in *inputStream) Stop() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.started {
		return nil
	}
	in.started = false
	return in.s.Stop()
}

func (in *inputStream) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return nil
	}
	in.closed = true
	if in.started {
		in.started = false
		_ = in.s.Stop()
	}
	return in.s.Close()
}

// ── Output ────────────────────────────────────────────────────────────────────

// OpenOutput implements [audio.OutputDevice].
func (b *Backend) OpenOutput(f audio.Format) (audio.OutputStream, error) {
	dev, err := pa.DefaultOutputDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrNoDevice, err)
	}
	channels := max(f.Channels, 1)
	p := pa.HighLatencyParameters(nil, dev)
	p.Output.Channels = channels
	p.SampleRate = float64(f.SampleRate)
	p.FramesPerBuffer = defaultOutputFrames

	buf := make([]float32, defaultOutputFrames*channels)
	s, err := pa.OpenStream(p, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open output %q: %w", dev.Name, err)
	}

	out := &outputStream{
		s:    s,
		buf:  buf,
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go out.run()
	return out, nil
}

type scheduled struct {
	samples []float32
	done    func()
	gen     uint64
}

type outputStream struct {
	s   *pa.Stream
	buf []float32

	mu      sync.Mutex
	queue   []scheduled
	gen     uint64
	started bool
	closed  bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

func (o *outputStream) Schedule(samples []float32, done func()) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errors.New("portaudio: output stream closed")
	}
	o.queue = append(o.queue, scheduled{samples: samples, done: done, gen: o.gen})
	select {
	case o.wake <- struct{}{}:
	default:
	}
	return nil
}

func (o *outputStream) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gen++
	o.queue = nil
	return nil
}

func (o *outputStream) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.gen++
	o.queue = nil
	o.mu.Unlock()

	close(o.quit)
	<-o.done

	var errs []error
	if o.started {
		errs = append(errs, o.s.Stop())
	}
	errs = append(errs, o.s.Close())
	return errors.Join(errs...)
}

// run writes scheduled buffers in order. A buffer whose generation was
// invalidated by Stop is abandoned mid-write and its done is never called.
// Buffers that fail to play still complete so consumers never stall.
func (o *outputStream) run() {
	defer close(o.done)
	for {
		item, ok := o.next()
		if !ok {
			select {
			case <-o.wake:
				continue
			case <-o.quit:
				return
			}
		}
		if !o.started {
			if err := o.s.Start(); err != nil {
				slog.Warn("portaudio: start output stream", "err", err)
			} else {
				o.started = true
			}
		}
		if o.write(item) && item.done != nil {
			item.done()
		}
	}
}

func (o *outputStream) next() (scheduled, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return scheduled{}, false
	}
	item := o.queue[0]
	o.queue = o.queue[1:]
	return item, true
}

func (o *outputStream) current(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return gen == o.gen && !o.closed
}

func (o *outputStream) write(item scheduled) bool {
	samples := item.samples
	for len(samples) > 0 {
		if !o.current(item.gen) {
			return false
		}
		n := copy(o.buf, samples)
		clear(o.buf[n:])
		samples = samples[n:]
		if !o.started {
			continue
		}
		if err := o.s.Write(); err != nil && !errors.Is(err, pa.OutputUnderflowed) {
			slog.Warn("portaudio: write output", "err", err)
			return o.current(item.gen)
		}
	}
	return o.current(item.gen)
}
