package voice

import (
	"time"

	"github.com/MrWong99/verbe/pkg/audio"
	"github.com/MrWong99/verbe/pkg/types"
)

// State is the mutable voice state. It is not safe for concurrent use; the
// controller confines it to the main queue.
type State struct {
	snap Snapshot
	seq  Seq
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	out := s.snap
	if s.snap.Draft != nil {
		d := *s.snap.Draft
		out.Draft = &d
	}
	if s.snap.Response.Image != nil {
		img := *s.snap.Response.Image
		out.Response.Image = &img
	}
	return out
}

// Seq returns the current result sequence.
func (s *State) Seq() Seq { return s.seq }

// Next advances the result sequence and returns the new value. Results tagged
// with an older sequence are considered stale.
func (s *State) Next() Seq {
	s.seq++
	return s.seq
}

// Current reports whether seq is still the latest sequence.
func (s *State) Current(seq Seq) bool { return seq == s.seq }

// Mode returns the active mode.
func (s *State) Mode() Mode { return s.snap.Mode }

// Processing returns the processing state.
func (s *State) Processing() ProcessingState { return s.snap.Processing }

// LiveStatus returns the live agent status.
func (s *State) LiveStatus() LiveStatus { return s.snap.LiveStatus }

// VoiceUIVisible reports whether the voice UI should be on screen.
func (s *State) VoiceUIVisible() bool { return s.snap.VoiceUIVisible() }

// StartRecording enters mode and clears any previous result or error.
func (s *State) StartRecording(mode Mode) {
	s.snap.Mode = mode
	s.snap.Processing = ProcessingRecording
	s.snap.Error = ""
	s.snap.ErrorKind = ErrorNone
	s.snap.NeedsPermissionSettings = false
	s.snap.Draft = nil
	s.snap.Duration = 0
	if mode == ModeLive {
		s.snap.LiveStatus = LiveConnecting
	}
}

// StopRecording moves command mode to processing. Live mode is reset.
func (s *State) StopRecording() {
	switch s.snap.Mode {
	case ModeCommand:
		s.snap.Processing = ProcessingProcessing
	case ModeLive:
		s.snap.Processing = ProcessingIdle
		s.snap.LiveStatus = LiveOff
		s.snap.Mode = ModeNone
	}
}

// SetResult records a finished draft.
func (s *State) SetResult(d types.DraftResult) {
	s.snap.Draft = &d
	s.snap.Processing = ProcessingCompleted
}

// SetError records an error. The mode stays active so the error is visible.
func (s *State) SetError(kind ErrorKind, msg string, needsPermissionSettings bool) {
	s.snap.Error = msg
	s.snap.ErrorKind = kind
	s.snap.NeedsPermissionSettings = needsPermissionSettings
	s.snap.Processing = ProcessingIdle
	s.snap.LiveStatus = LiveOff
}

// Reset returns to the idle state. The response view and overlay flag are
// left alone.
func (s *State) Reset() {
	s.snap.Mode = ModeNone
	s.snap.Processing = ProcessingIdle
	s.snap.LiveStatus = LiveOff
	s.snap.Visualizer = audio.VisualizerFrame{}
	s.snap.Draft = nil
	s.snap.Error = ""
	s.snap.ErrorKind = ErrorNone
	s.snap.NeedsPermissionSettings = false
	s.snap.Duration = 0
}

// SetVisualizer stores the latest visualizer frame.
func (s *State) SetVisualizer(f audio.VisualizerFrame) { s.snap.Visualizer = f }

// SetDuration stores the elapsed recording time.
func (s *State) SetDuration(d time.Duration) { s.snap.Duration = d }

// SetLiveStatus updates the live status. Completed also completes processing.
func (s *State) SetLiveStatus(st LiveStatus) {
	s.snap.LiveStatus = st
	if st == LiveCompleted {
		s.snap.Processing = ProcessingCompleted
	}
}

// OverlayVisible reports whether the overlay is shown.
func (s *State) OverlayVisible() bool { return s.snap.OverlayVisible }

// SetOverlayVisible shows or hides the overlay. Hiding also clears the
// response view.
func (s *State) SetOverlayVisible(v bool) {
	s.snap.OverlayVisible = v
	if !v {
		s.snap.Response = Response{}
	}
}

// ShowingResponse reports whether a result is presented.
func (s *State) ShowingResponse() bool { return s.snap.Response.Showing }

// ShowDraft presents a draft in the response view.
func (s *State) ShowDraft(title string, d types.DraftResult) {
	s.snap.Response = Response{
		Showing:     true,
		Title:       title,
		Instruction: d.Intent.Instruction,
		Text:        d.Form,
	}
}

// BeginImage resets the response view to an image-in-progress placeholder.
func (s *State) BeginImage(prompt string) {
	s.snap.Response = Response{
		Showing:         true,
		Title:           "Image Generation",
		Instruction:     prompt,
		Text:            "Generating image...",
		GeneratingImage: true,
	}
}

// FinishImage attaches a generated image, or an error text when img is nil.
func (s *State) FinishImage(img *Image, errText string) {
	s.snap.Response.GeneratingImage = false
	if img != nil {
		s.snap.Response.Image = img
		s.snap.Response.Text = ""
		return
	}
	s.snap.Response.Text = "Error: " + errText
}

// ClearResponse hides the response view.
func (s *State) ClearResponse() { s.snap.Response = Response{} }
