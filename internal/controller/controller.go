// Package controller owns the voice session state and decides which pipeline
// runs. It is the single owner of the active command or live engine, turns
// engine callbacks into [voice.State] changes and publishes snapshots to
// subscribers.
//
// Everything except [Controller.Snapshot] and [Controller.Subscribe] must be
// called on the executor given in [Config]; engine callbacks are expected on
// the same executor.
package controller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/verbe/internal/dispatch"
	"github.com/MrWong99/verbe/internal/engine"
	"github.com/MrWong99/verbe/internal/hotkey"
	"github.com/MrWong99/verbe/internal/observe"
	"github.com/MrWong99/verbe/internal/voice"
	"github.com/MrWong99/verbe/pkg/audio"
	"github.com/MrWong99/verbe/pkg/provider/image"
	"github.com/MrWong99/verbe/pkg/types"
)

var _ hotkey.Target = (*Controller)(nil)

// DefaultGrace is how long after a mode stops the overlay waits before hiding
// itself when nothing is left to show.
const DefaultGrace = 300 * time.Millisecond

const (
	titleCommand = "Voice Command"
	titleLive    = "Live Conversation"

	defaultUserName  = "User"
	defaultTargetApp = "Unknown"
)

// Environment supplies the host facts the controller reads when a mode
// starts.
type Environment interface {
	MicrophonePermitted() bool
	UserName() string
	ForegroundApp() string
	SelectedText() string
}

// Config holds the controller's collaborators.
type Config struct {
	Env Environment

	// NewCommand and NewLive build a fresh single-use engine per mode start.
	NewCommand func() engine.CommandEngine
	NewLive    func() engine.LiveEngine

	// Images is optional; without it image requests fail immediately.
	Images image.Provider

	Clock dispatch.Clock
	Exec  dispatch.Executor

	// Grace overrides [DefaultGrace] when positive.
	Grace time.Duration

	// AutoHideOnRelease hides the overlay when command+option is released.
	AutoHideOnRelease bool

	Metrics *observe.Metrics
}

// Controller implements [hotkey.Target].
type Controller struct {
	cfg    Config
	grace  *dispatch.Deferred
	ctx    context.Context
	cancel context.CancelFunc

	// Executor-confined.
	gen          uint64
	command      engine.CommandEngine
	live         engine.LiveEngine
	liveTeardown <-chan struct{} // closes once every disconnected live engine released the devices
	recording    bool            // command engine's StartRecording has run
	deferred     func()          // latest mode start waiting on liveTeardown
	imageCancel  context.CancelFunc
	autoHide     bool

	mu      sync.Mutex
	state   voice.State
	subs    map[int]func(voice.Snapshot)
	nextSub int
}

// New creates a Controller. Clock defaults to [dispatch.RealClock] and Exec to
// [dispatch.Inline].
func New(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = dispatch.RealClock{}
	}
	if cfg.Exec == nil {
		cfg.Exec = dispatch.Inline{}
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:    cfg,
		grace:  dispatch.NewDeferred(cfg.Clock, cfg.Exec),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[int]func(voice.Snapshot)),
	}
}

// Snapshot returns the current state. Safe from any goroutine.
func (c *Controller) Snapshot() voice.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Snapshot()
}

// Subscribe registers fn to receive a snapshot after every state change. fn
// runs on the executor and must not block. Safe from any goroutine.
func (c *Controller) Subscribe(fn func(voice.Snapshot)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// update applies fn to the state and notifies subscribers.
func (c *Controller) update(fn func(s *voice.State)) {
	c.mu.Lock()
	fn(&c.state)
	snap := c.state.Snapshot()
	subs := make([]func(voice.Snapshot), 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		s(snap)
	}
}

func (c *Controller) read(fn func(s *voice.State) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(&c.state)
}

// nextGen invalidates callbacks bound to earlier engines.
func (c *Controller) nextGen() uint64 {
	c.gen++
	return c.gen
}

func (c *Controller) captureContext() voice.CaptureContext {
	cc := voice.CaptureContext{
		UserName:     c.cfg.Env.UserName(),
		TargetApp:    c.cfg.Env.ForegroundApp(),
		SelectedText: c.cfg.Env.SelectedText(),
	}
	if cc.UserName == "" {
		cc.UserName = defaultUserName
	}
	if cc.TargetApp == "" {
		cc.TargetApp = defaultTargetApp
	}
	return cc
}

// showForVoiceMode brings the overlay up for a voice mode with an empty
// response view.
func (c *Controller) showForVoiceMode(s *voice.State, mode voice.Mode) {
	s.Next()
	s.SetOverlayVisible(true)
	s.ClearResponse()
	s.StartRecording(mode)
	c.autoHide = false
}

// ── hotkey.Target ─────────────────────────────────────────────────────────────

// Mode returns the mode whose engine is running. A finished command that is
// still on screen does not count.
func (c *Controller) Mode() voice.Mode {
	switch {
	case c.live != nil:
		return voice.ModeLive
	case c.command != nil:
		return voice.ModeCommand
	default:
		return voice.ModeNone
	}
}

// OverlayVisible implements [hotkey.Target].
func (c *Controller) OverlayVisible() bool {
	return c.read(func(s *voice.State) bool { return s.OverlayVisible() })
}

// VoiceKeyReleased implements [hotkey.Target]. The overlay hides after the
// grace window unless something is left to show.
func (c *Controller) VoiceKeyReleased() { c.scheduleGrace() }

// AutoHideOnRelease implements [hotkey.Target].
func (c *Controller) AutoHideOnRelease() bool { return c.autoHide }

// ShowOverlay opens the overlay menu.
func (c *Controller) ShowOverlay() {
	c.grace.Cancel()
	c.autoHide = c.cfg.AutoHideOnRelease
	c.update(func(s *voice.State) {
		s.SetOverlayVisible(true)
		s.ClearResponse()
	})
}

// HideOverlay closes the overlay and everything running in it.
func (c *Controller) HideOverlay() { c.Hide() }

// StartCommand begins command mode. Without microphone permission the mode
// is entered with a permission error and no audio device is touched.
func (c *Controller) StartCommand() {
	if c.Mode() != voice.ModeNone {
		return
	}
	c.grace.Cancel()
	c.recordModeStart("command")

	if !c.cfg.Env.MicrophonePermitted() {
		slog.Warn("controller: microphone permission not granted")
		c.update(func(s *voice.State) {
			c.showForVoiceMode(s, voice.ModeCommand)
			s.SetError(voice.ErrorPermission, PermissionMessage, true)
		})
		return
	}

	gen := c.nextGen()
	eng := c.cfg.NewCommand()
	c.command = eng
	c.recording = false
	c.update(func(s *voice.State) { c.showForVoiceMode(s, voice.ModeCommand) })

	capCtx := c.captureContext()
	c.afterLiveTeardown(func() {
		if c.gen != gen || c.command != eng {
			return
		}
		c.recording = true
		err := eng.StartRecording(capCtx,
			func(f audio.VisualizerFrame) {
				if c.gen == gen {
					c.update(func(s *voice.State) { s.SetVisualizer(f) })
				}
			},
			func(d time.Duration) {
				if c.gen == gen {
					c.update(func(s *voice.State) { s.SetDuration(d) })
				}
			},
		)
		if err != nil {
			slog.Warn("controller: start recording", "err", err)
			c.command = nil
			c.recording = false
			kind, msg := classify(err)
			c.update(func(s *voice.State) { s.SetError(kind, msg, kind == voice.ErrorPermission) })
		}
	})
}

// StopCommand stops recording and submits it. The overlay hides itself after
// the grace window unless a result or error is on screen by then.
func (c *Controller) StopCommand() {
	defer c.scheduleGrace()

	eng := c.command
	if eng == nil {
		return
	}
	if !c.recording {
		// Released before the devices came free: nothing was recorded.
		c.nextGen()
		c.command = nil
		c.deferred = nil
		c.update(func(s *voice.State) { s.Reset() })
		return
	}
	gen := c.gen
	c.update(func(s *voice.State) { s.StopRecording() })
	eng.StopRecordingAndProcess(func(d types.DraftResult, err error) {
		c.onCommandResult(gen, d, err)
	})
}

func (c *Controller) onCommandResult(gen uint64, d types.DraftResult, err error) {
	if c.gen != gen {
		slog.Debug("controller: dropping stale command result")
		return
	}
	c.command = nil
	if err != nil {
		slog.Warn("controller: voice command failed", "err", err)
		kind, msg := classify(err)
		c.update(func(s *voice.State) { s.SetError(kind, msg, false) })
		return
	}
	c.update(func(s *voice.State) {
		s.Next()
		s.SetResult(d)
		s.ShowDraft(titleCommand, d)
	})
}

// CancelCommand aborts command mode and drops any pending result.
func (c *Controller) CancelCommand() {
	c.nextGen()
	if c.command != nil {
		c.command.Cancel()
		c.command = nil
	}
	c.update(func(s *voice.State) { s.Reset() })
}

// StartLive begins a live conversation.
func (c *Controller) StartLive() {
	if c.live != nil {
		return
	}
	if c.command != nil {
		c.CancelCommand()
	}
	c.grace.Cancel()
	c.recordModeStart("live")

	if !c.cfg.Env.MicrophonePermitted() {
		slog.Warn("controller: microphone permission not granted")
		c.update(func(s *voice.State) {
			c.showForVoiceMode(s, voice.ModeLive)
			s.SetError(voice.ErrorPermission, PermissionMessage, true)
		})
		return
	}

	gen := c.nextGen()
	eng := c.cfg.NewLive()
	c.live = eng
	c.update(func(s *voice.State) { c.showForVoiceMode(s, voice.ModeLive) })

	capCtx := c.captureContext()
	cb := c.liveCallbacks(gen)
	connect := func() {
		if c.gen != gen {
			return
		}
		if err := eng.Connect(c.ctx, capCtx, cb); err != nil {
			c.onLiveError(gen, err)
			c.nextGen()
			c.live = nil
		}
	}

	c.afterLiveTeardown(connect)
}

// afterLiveTeardown runs fn once every live engine disconnected so far has
// released the audio devices. fn runs inline when nothing is pending and on
// the executor otherwise. Only the latest waiting start is kept.
func (c *Controller) afterLiveTeardown(fn func()) {
	if c.liveTeardown == nil || isClosed(c.liveTeardown) {
		c.deferred = nil
		fn()
		return
	}
	waiting := c.deferred != nil
	c.deferred = fn
	if !waiting {
		slog.Debug("controller: waiting for live teardown")
		c.awaitTeardown(c.liveTeardown)
	}
}

func (c *Controller) awaitTeardown(pending <-chan struct{}) {
	go func() {
		select {
		case <-pending:
			c.cfg.Exec.Post(c.runDeferred)
		case <-c.ctx.Done():
		}
	}()
}

// runDeferred runs the waiting start, or waits again when another live engine
// was disconnected in the meantime.
func (c *Controller) runDeferred() {
	fn := c.deferred
	if fn == nil {
		return
	}
	if !isClosed(c.liveTeardown) {
		c.awaitTeardown(c.liveTeardown)
		return
	}
	c.deferred = nil
	fn()
}

// trackTeardown adds done to the teardowns the next mode start waits for.
func (c *Controller) trackTeardown(done <-chan struct{}) {
	prev := c.liveTeardown
	if prev == nil || isClosed(prev) {
		c.liveTeardown = done
		return
	}
	both := make(chan struct{})
	go func() {
		<-prev
		<-done
		close(both)
	}()
	c.liveTeardown = both
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (c *Controller) liveCallbacks(gen uint64) engine.LiveCallbacks {
	current := func() bool { return c.gen == gen }
	return engine.LiveCallbacks{
		OnVisualizer: func(f audio.VisualizerFrame) {
			if current() {
				c.update(func(s *voice.State) { s.SetVisualizer(f) })
			}
		},
		OnStatusChange: func(st voice.LiveStatus) {
			if current() {
				c.update(func(s *voice.State) { s.SetLiveStatus(st) })
			}
		},
		OnDraftComplete: func(d types.DraftResult) {
			if !current() {
				return
			}
			c.update(func(s *voice.State) {
				s.Next()
				s.SetResult(d)
				s.ShowDraft(titleLive, d)
			})
		},
		OnImageRequest: func(prompt string) {
			if current() {
				c.GenerateImage(prompt)
			}
		},
		OnCloseIntent: func() {
			if current() {
				c.stopLive()
			}
		},
		OnError: func(err error) { c.onLiveError(gen, err) },
		OnDisconnect: func() {
			if !current() {
				return
			}
			c.nextGen()
			c.live = nil
			c.update(func(s *voice.State) {
				// A preceding error stays on screen until the next start or hide.
				if s.Snapshot().Error == "" {
					s.Reset()
				}
			})
		},
	}
}

func (c *Controller) onLiveError(gen uint64, err error) {
	if c.gen != gen {
		return
	}
	slog.Warn("controller: live session error", "err", err)
	kind, msg := classify(err)
	c.update(func(s *voice.State) { s.SetError(kind, msg, kind == voice.ErrorPermission) })
}

// StopLive ends the live conversation and schedules the grace hide.
func (c *Controller) StopLive() {
	c.stopLive()
	c.scheduleGrace()
}

func (c *Controller) stopLive() {
	eng := c.live
	if eng == nil {
		return
	}
	c.nextGen()
	c.live = nil
	c.update(func(s *voice.State) {
		if s.Processing() != voice.ProcessingCompleted {
			s.Reset()
			return
		}
		s.StopRecording()
	})
	c.trackTeardown(eng.Disconnect())
}

// Hide tears down any running mode, cancels image generation and closes the
// overlay.
func (c *Controller) Hide() {
	c.grace.Cancel()
	c.nextGen()
	if c.command != nil {
		c.command.Cancel()
		c.command = nil
	}
	if c.live != nil {
		c.trackTeardown(c.live.Disconnect())
		c.live = nil
	}
	if c.imageCancel != nil {
		c.imageCancel()
		c.imageCancel = nil
	}
	c.update(func(s *voice.State) {
		s.Next()
		s.Reset()
		s.SetOverlayVisible(false)
	})
}

func (c *Controller) scheduleGrace() {
	c.grace.Schedule(c.cfg.Grace, func() {
		idle := c.read(func(s *voice.State) bool {
			return s.OverlayVisible() && !s.ShowingResponse() && !s.VoiceUIVisible()
		})
		if idle {
			slog.Debug("controller: hiding overlay after voice mode")
			c.Hide()
		}
	})
}

// GenerateImage shows an image placeholder and generates the image in the
// background. A newer result or a hide drops the outcome.
func (c *Controller) GenerateImage(prompt string) {
	if c.imageCancel != nil {
		c.imageCancel()
		c.imageCancel = nil
	}
	var seq voice.Seq
	c.update(func(s *voice.State) {
		seq = s.Next()
		s.BeginImage(prompt)
	})
	if c.cfg.Images == nil {
		c.update(func(s *voice.State) { s.FinishImage(nil, "image generation is not configured") })
		return
	}

	ctx, cancel := context.WithCancel(c.ctx)
	c.imageCancel = cancel
	started := c.cfg.Clock.Now()
	go func() {
		img, err := c.cfg.Images.Generate(ctx, prompt)
		if m := c.cfg.Metrics; m != nil {
			status := "ok"
			if err != nil {
				status = "error"
			}
			m.ImageDuration.Record(ctx, c.cfg.Clock.Now().Sub(started).Seconds(),
				metric.WithAttributes(observe.Attr("status", status)))
		}
		c.cfg.Exec.Post(func() { c.finishImage(seq, img, err) })
	}()
}

func (c *Controller) finishImage(seq voice.Seq, img *image.Image, err error) {
	stale := c.read(func(s *voice.State) bool { return !s.Current(seq) })
	if stale {
		slog.Debug("controller: dropping stale image result")
		return
	}
	c.imageCancel = nil
	if err != nil {
		slog.Warn("controller: image generation failed", "err", err)
		c.update(func(s *voice.State) { s.FinishImage(nil, imageErrorText(err)) })
		return
	}
	c.update(func(s *voice.State) {
		s.FinishImage(&voice.Image{MIMEType: img.MIMEType, Data: img.Data}, "")
	})
}

// Close hides everything and cancels background work. The controller must not
// be used afterwards.
func (c *Controller) Close() <-chan struct{} {
	c.Hide()
	c.cancel()
	if c.liveTeardown != nil {
		return c.liveTeardown
	}
	done := make(chan struct{})
	close(done)
	return done
}

func (c *Controller) recordModeStart(mode string) {
	if m := c.cfg.Metrics; m != nil {
		m.RecordModeStart(c.ctx, mode)
	}
}
