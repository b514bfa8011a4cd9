// Package live implements the live conversation pipeline: a persistent
// speech-to-speech session that streams microphone audio to the model, plays
// its spoken answers back and dispatches the tool calls it makes.
//
// A [Session] is single-use. It moves through the [voice.LiveStatus] states
//
//	off → connecting → listening ⇄ speaking
//	                   listening ⇄ processing → off
//
// Server events, tool dispatch and status changes are all sequenced on the
// executor the session was built with. Network writes happen on a dedicated
// sender goroutine so the executor never blocks on the socket.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/verbe/internal/dispatch"
	"github.com/MrWong99/verbe/internal/engine"
	"github.com/MrWong99/verbe/internal/observe"
	"github.com/MrWong99/verbe/internal/voice"
	"github.com/MrWong99/verbe/pkg/audio"
	"github.com/MrWong99/verbe/pkg/provider/s2s"
	"github.com/MrWong99/verbe/pkg/types"
)

var _ engine.LiveEngine = (*Session)(nil)

const (
	// DefaultListenRevert is the delay after a tool-call frame before the
	// status returns to listening.
	DefaultListenRevert = 500 * time.Millisecond

	// outboxSize bounds queued outgoing frames. Audio chunks beyond it are
	// dropped; tool responses wait.
	outboxSize = 32
)

var (
	// ErrAlreadyConnected is returned by Connect on a session that was
	// already started.
	ErrAlreadyConnected = errors.New("live: session already started")
)

// Config holds the session's collaborators.
type Config struct {
	Provider s2s.Provider
	Recorder engine.StreamRecorder
	Player   engine.Player
	Clock    dispatch.Clock
	Exec     dispatch.Executor

	// Prompt overrides [voice.DefaultLivePrompt] when non-blank.
	Prompt string

	// ListenRevert overrides [DefaultListenRevert] when positive.
	ListenRevert time.Duration

	// Metrics is optional.
	Metrics *observe.Metrics
}

type outbound struct {
	audio []byte
	resps []types.ToolResponse
}

// Session is a single-use [engine.LiveEngine].
type Session struct {
	cfg    Config
	revert *dispatch.Deferred
	outbox chan outbound
	done   chan struct{}

	mu            sync.Mutex
	cb            *engine.LiveCallbacks
	status        voice.LiveStatus
	started       bool
	connected     bool
	disconnecting bool
	handle        s2s.SessionHandle
	sending       <-chan struct{}
	cancel        context.CancelFunc
	loopDone      chan struct{}
	connectedAt   time.Time
}

// New creates a Session. Clock defaults to [dispatch.RealClock] and Exec to
// [dispatch.Inline].
func New(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = dispatch.RealClock{}
	}
	if cfg.Exec == nil {
		cfg.Exec = dispatch.Inline{}
	}
	if cfg.ListenRevert <= 0 {
		cfg.ListenRevert = DefaultListenRevert
	}
	return &Session{
		cfg:    cfg,
		revert: dispatch.NewDeferred(cfg.Clock, cfg.Exec),
		outbox: make(chan outbound, outboxSize),
		done:   make(chan struct{}),
		status: voice.LiveOff,
	}
}

// Status implements [engine.LiveEngine].
func (s *Session) Status() voice.LiveStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Connect implements [engine.LiveEngine]. The dial and setup run in the
// background; failures are reported through OnError followed by a disconnect.
func (s *Session) Connect(ctx context.Context, c voice.CaptureContext, cb engine.LiveCallbacks) error {
	s.mu.Lock()
	if s.started || s.disconnecting {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.started = true
	s.cb = &cb
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	s.mu.Unlock()

	s.setStatus(voice.LiveConnecting)

	s.cfg.Player.OnStarted(func() {
		if s.isConnected() {
			s.setStatus(voice.LiveSpeaking)
		}
	})
	s.cfg.Player.OnFinished(func() {
		if s.isConnected() {
			s.setStatus(voice.LiveListening)
		}
	})
	if err := s.cfg.Player.Setup(); err != nil {
		slog.Warn("live: playback setup failed, continuing without audio output", "err", err)
	}

	go s.run(ctx, voice.LiveInstruction(c, s.cfg.Prompt))
	return nil
}

func (s *Session) run(ctx context.Context, instructions string) {
	defer close(s.loopDone)

	h, err := s.cfg.Provider.Connect(ctx, s2s.SessionConfig{
		Instructions: instructions,
		Tools:        Tools(),
	})
	s.recordConnect(ctx, err)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.failAndDisconnect(fmt.Errorf("live: connect: %w", err))
		return
	}

	loopCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(loopCtx)

	s.mu.Lock()
	if s.disconnecting {
		s.mu.Unlock()
		_ = h.Close()
		return
	}
	s.handle = h
	s.sending = gctx.Done()
	s.mu.Unlock()

	g.Go(func() error {
		defer stop()
		for {
			select {
			case ev, ok := <-h.Events():
				if !ok {
					return h.Err()
				}
				s.cfg.Exec.Post(func() { s.handleEvent(h, ev) })
			case <-gctx.Done():
				return nil
			}
		}
	})
	g.Go(func() error {
		return s.sendLoop(gctx, h)
	})
	err = g.Wait()

	if s.isDisconnecting() {
		return
	}
	if !isLocalCancel(err) {
		s.failAndDisconnect(fmt.Errorf("live: session: %w", err))
		return
	}
	slog.Info("live: session ended", "cause", context.Cause(ctx))
	s.cfg.Exec.Post(func() { s.Disconnect() })
}

func (s *Session) sendLoop(ctx context.Context, h s2s.SessionHandle) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-s.outbox:
			var err error
			if m.resps != nil {
				err = h.SendToolResponses(m.resps...)
			} else {
				err = h.SendAudio(m.audio)
			}
			if err == nil {
				continue
			}
			if errors.Is(err, s2s.ErrSessionClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("send: %w", err)
		}
	}
}

func isLocalCancel(err error) bool {
	return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, s2s.ErrSessionClosed)
}

// failAndDisconnect reports err and then disconnects, in that order, on the
// executor.
func (s *Session) failAndDisconnect(err error) {
	s.cfg.Exec.Post(func() {
		if cb := s.callbacks(); cb != nil && cb.OnError != nil {
			cb.OnError(err)
		}
		s.Disconnect()
	})
}

// handleEvent runs on the executor.
func (s *Session) handleEvent(h s2s.SessionHandle, ev s2s.Event) {
	s.mu.Lock()
	current := s.handle == h && !s.disconnecting
	s.mu.Unlock()
	if !current {
		return
	}

	switch ev.Kind {
	case s2s.EventSetupComplete:
		s.onSetupComplete()
	case s2s.EventToolCall:
		s.onToolCalls(ev.ToolCalls)
	case s2s.EventAudio:
		s.setStatus(voice.LiveSpeaking)
		if err := s.cfg.Player.EnqueuePCM16(ev.Audio); err != nil {
			slog.Warn("live: enqueue audio", "err", err, "bytes", len(ev.Audio))
		}
	case s2s.EventInterrupted:
		s.cfg.Player.Stop()
		s.setStatus(voice.LiveListening)
	case s2s.EventTurnComplete:
		slog.Debug("live: turn complete")
	case s2s.EventServerError:
		slog.Warn("live: server reported error", "err", ev.Err)
	}
}

func (s *Session) onSetupComplete() {
	s.mu.Lock()
	if s.disconnecting {
		s.mu.Unlock()
		return
	}
	s.connected = true
	s.connectedAt = s.cfg.Clock.Now()
	// Holding mu keeps a concurrent Disconnect from stopping the recorder
	// before it has started.
	err := s.cfg.Recorder.StartStreaming(s.onVisualizer, s.SendAudioChunk)
	s.mu.Unlock()

	if m := s.cfg.Metrics; m != nil {
		m.ActiveLiveSessions.Add(context.Background(), 1)
	}
	slog.Info("live: setup complete")
	s.setStatus(voice.LiveListening)

	if err != nil {
		s.failAndDisconnect(fmt.Errorf("live: start capture: %w", err))
	}
}

func (s *Session) onVisualizer(f audio.VisualizerFrame) {
	if cb := s.callbacks(); cb != nil && cb.OnVisualizer != nil {
		cb.OnVisualizer(f)
	}
}

func (s *Session) onToolCalls(calls []types.ToolCall) {
	s.setStatus(voice.LiveProcessing)

	for _, call := range calls {
		status := "ok"
		switch call.Name {
		case ToolFinalizeDraft:
			if d, ok := parseDraft(call.Args); ok {
				if cb := s.callbacks(); cb != nil && cb.OnDraftComplete != nil {
					cb.OnDraftComplete(d)
				}
			} else {
				status = "invalid_args"
				slog.Warn("live: finalize_draft without intent or form", "id", call.ID)
			}
			s.respond(ack(call, ackDraft))
		case ToolCloseSession:
			s.respond(ack(call, ackClose))
			if cb := s.callbacks(); cb != nil && cb.OnCloseIntent != nil {
				cb.OnCloseIntent()
			}
		case ToolGenerateImage:
			prompt, ok := call.Args["prompt"].(string)
			if !ok {
				status = "invalid_args"
				slog.Warn("live: generate_image without prompt", "id", call.ID)
				break
			}
			if cb := s.callbacks(); cb != nil && cb.OnImageRequest != nil {
				cb.OnImageRequest(prompt)
			}
			s.respond(ack(call, ackImage))
		default:
			status = "unknown"
			slog.Warn("live: ignoring unknown tool call", "name", call.Name, "id", call.ID)
		}
		if m := s.cfg.Metrics; m != nil {
			m.RecordToolCall(context.Background(), call.Name, status)
		}
	}

	s.revert.Schedule(s.cfg.ListenRevert, func() {
		if s.isConnected() {
			s.setStatus(voice.LiveListening)
		}
	})
}

// respond queues a tool response. Unlike audio it is never dropped while the
// session is alive.
func (s *Session) respond(r types.ToolResponse) {
	s.mu.Lock()
	sending := s.sending
	stopped := s.disconnecting
	s.mu.Unlock()
	if stopped {
		return
	}
	select {
	case s.outbox <- outbound{resps: []types.ToolResponse{r}}:
	case <-sending:
		slog.Warn("live: sender stopped, dropping tool response", "name", r.Name, "id", r.ID)
	}
}

// SendAudioChunk implements [engine.LiveEngine].
func (s *Session) SendAudioChunk(pcm []byte) {
	if !s.isConnected() {
		return
	}
	select {
	case s.outbox <- outbound{audio: pcm}:
	default:
		slog.Warn("live: outbox full, dropping audio chunk", "bytes", len(pcm))
	}
}

// Disconnect implements [engine.LiveEngine]. Callbacks are detached before it
// returns; OnDisconnect is posted exactly once. Hardware and socket teardown
// run in the background and the returned channel closes when they finish.
func (s *Session) Disconnect() <-chan struct{} {
	s.mu.Lock()
	if s.disconnecting {
		s.mu.Unlock()
		return s.done
	}
	s.disconnecting = true
	s.connected = false
	s.status = voice.LiveOff
	cb := s.cb
	s.cb = nil
	h := s.handle
	cancel := s.cancel
	loopDone := s.loopDone
	connectedAt := s.connectedAt
	s.mu.Unlock()

	s.revert.Cancel()
	go s.teardown(h, cancel, loopDone, connectedAt)

	if cb != nil && cb.OnDisconnect != nil {
		s.cfg.Exec.Post(cb.OnDisconnect)
	}
	return s.done
}

func (s *Session) teardown(h s2s.SessionHandle, cancel context.CancelFunc, loopDone chan struct{}, connectedAt time.Time) {
	defer close(s.done)

	if cancel != nil {
		cancel()
	}
	var g errgroup.Group
	g.Go(func() error {
		s.cfg.Recorder.StopStreaming()
		return nil
	})
	g.Go(func() error {
		s.cfg.Player.Cleanup()
		return nil
	})
	g.Go(func() error {
		if h == nil {
			return nil
		}
		return h.Close()
	})
	if err := g.Wait(); err != nil {
		slog.Warn("live: teardown", "err", err)
	}
	if loopDone != nil {
		<-loopDone
	}

	if m := s.cfg.Metrics; m != nil && !connectedAt.IsZero() {
		ctx := context.Background()
		m.ActiveLiveSessions.Add(ctx, -1)
		m.LiveSessionDuration.Record(ctx, s.cfg.Clock.Now().Sub(connectedAt).Seconds())
	}
	slog.Debug("live: teardown complete")
}

func (s *Session) setStatus(st voice.LiveStatus) {
	s.mu.Lock()
	if s.disconnecting {
		s.mu.Unlock()
		return
	}
	s.status = st
	s.mu.Unlock()

	s.cfg.Exec.Post(func() {
		if cb := s.callbacks(); cb != nil && cb.OnStatusChange != nil {
			cb.OnStatusChange(st)
		}
	})
}

func (s *Session) callbacks() *engine.LiveCallbacks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cb
}

func (s *Session) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Session) isDisconnecting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnecting
}

func (s *Session) recordConnect(ctx context.Context, err error) {
	m := s.cfg.Metrics
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, "gemini", "live")
	}
	m.RecordProviderRequest(ctx, "gemini", "live", status)
}
