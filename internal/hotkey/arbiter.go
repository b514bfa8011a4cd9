// Package hotkey turns raw modifier-key transitions into voice mode and
// overlay commands.
//
// The fn key drives the voice modes: holding it past a short debounce starts
// command mode, adding shift switches to live mode, and releasing stops
// whichever mode is active. Command together with option toggles the overlay
// menu and suppresses the fn modes while held.
package hotkey

import (
	"log/slog"
	"time"

	"github.com/MrWong99/verbe/internal/dispatch"
	"github.com/MrWong99/verbe/internal/voice"
)

// DefaultDebounce is how long fn must be held before command mode starts.
const DefaultDebounce = 250 * time.Millisecond

// Flags is the current state of the modifier keys.
type Flags struct {
	Command  bool `json:"command"`
	Option   bool `json:"option"`
	Function bool `json:"function"`
	Shift    bool `json:"shift"`
}

// Target receives the arbiter's decisions. Implementations are called on the
// arbiter's executor.
type Target interface {
	Mode() voice.Mode
	StartCommand()
	StopCommand()
	CancelCommand()
	StartLive()
	StopLive()

	OverlayVisible() bool
	AutoHideOnRelease() bool
	ShowOverlay()
	HideOverlay()

	// VoiceKeyReleased is called on every fn release, after any stop, so the
	// target can hide an overlay that has nothing left to show.
	VoiceKeyReleased()
}

// Arbiter is the modifier-key state machine. It is queue-confined: call
// HandleFlags only from the executor passed to [New].
type Arbiter struct {
	target   Target
	clock    dispatch.Clock
	debounce time.Duration
	pending  *dispatch.Deferred

	fnDown        bool
	shiftDown     bool
	cmdOptionDown bool
	fnPressTime   time.Time
}

// Option configures an [Arbiter].
type Option func(*Arbiter)

// WithDebounce overrides [DefaultDebounce]. Non-positive values are ignored.
func WithDebounce(d time.Duration) Option {
	return func(a *Arbiter) {
		if d > 0 {
			a.debounce = d
		}
	}
}

// New creates an Arbiter. Deferred starts are timed with clock and run on exec.
func New(target Target, clock dispatch.Clock, exec dispatch.Executor, opts ...Option) *Arbiter {
	a := &Arbiter{
		target:   target,
		clock:    clock,
		debounce: DefaultDebounce,
		pending:  dispatch.NewDeferred(clock, exec),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// SetDebounce changes the debounce for subsequent fn presses.
func (a *Arbiter) SetDebounce(d time.Duration) {
	if d > 0 {
		a.debounce = d
	}
}

// HandleFlags processes one modifier-state change.
func (a *Arbiter) HandleFlags(f Flags) {
	a.cmdOptionDown = f.Command && f.Option
	a.handleVoiceKeys(f.Function, f.Shift)

	// The overlay menu never competes with an active voice mode.
	if a.target.Mode() != voice.ModeNone {
		return
	}
	visible := a.target.OverlayVisible()
	switch {
	case a.cmdOptionDown && !visible:
		a.target.ShowOverlay()
	case !a.cmdOptionDown && visible && a.target.AutoHideOnRelease():
		a.target.HideOverlay()
	}
}

func (a *Arbiter) handleVoiceKeys(fn, shift bool) {
	wasFn, wasShift := a.fnDown, a.shiftDown
	a.fnDown, a.shiftDown = fn, shift

	if fn && !wasFn {
		if a.cmdOptionDown {
			slog.Debug("hotkey: ignoring fn while command+option held")
		} else {
			a.fnPressTime = a.clock.Now()
			a.pending.Schedule(a.debounce, a.debounceFired)
		}
	}

	if shift && !wasShift && fn && !a.cmdOptionDown {
		a.pending.Cancel()
		switch a.target.Mode() {
		case voice.ModeCommand:
			a.target.CancelCommand()
			a.target.StartLive()
		case voice.ModeNone:
			a.target.StartLive()
		}
	}

	if !fn && wasFn {
		a.pending.Cancel()
		if !a.fnPressTime.IsZero() {
			slog.Debug("hotkey: fn released", "held", a.clock.Now().Sub(a.fnPressTime))
			a.fnPressTime = time.Time{}
		}
		switch a.target.Mode() {
		case voice.ModeCommand:
			a.target.StopCommand()
		case voice.ModeLive:
			a.target.StopLive()
		}
		a.target.VoiceKeyReleased()
	}

	if !shift && wasShift && a.target.Mode() == voice.ModeLive {
		a.target.StopLive()
	}
}

func (a *Arbiter) debounceFired() {
	if !a.fnDown || a.shiftDown || a.cmdOptionDown {
		return
	}
	if a.target.Mode() != voice.ModeNone {
		return
	}
	a.target.StartCommand()
}
