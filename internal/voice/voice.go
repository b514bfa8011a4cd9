// Package voice holds the shared state model of the voice interaction core:
// the active mode, processing and live status enums, the capture context handed
// to a service when its mode starts, and the observable [State] the controller
// publishes as [Snapshot] values.
package voice

import (
	"fmt"
	"time"

	"github.com/MrWong99/verbe/pkg/audio"
	"github.com/MrWong99/verbe/pkg/types"
)

// Mode is the active voice interaction mode. At most one is active.
type Mode int

const (
	ModeNone Mode = iota
	ModeCommand
	ModeLive
)

var modeNames = [...]string{"none", "command", "live"}

// String returns the lower-case mode name.
func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// ProcessingState is owned by the active service and reset on mode exit.
type ProcessingState int

const (
	ProcessingIdle ProcessingState = iota
	ProcessingRecording
	ProcessingProcessing
	ProcessingCompleted
)

var processingNames = [...]string{"idle", "recording", "processing", "completed"}

func (s ProcessingState) String() string {
	if s < 0 || int(s) >= len(processingNames) {
		return fmt.Sprintf("ProcessingState(%d)", int(s))
	}
	return processingNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s ProcessingState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// LiveStatus is the live session's agent status. Only meaningful in [ModeLive].
type LiveStatus int

const (
	LiveOff LiveStatus = iota
	LiveConnecting
	LiveListening
	LiveSpeaking
	LiveProcessing
	LiveCompleted
)

var liveNames = [...]string{"off", "connecting", "listening", "speaking", "processing", "completed"}

func (s LiveStatus) String() string {
	if s < 0 || int(s) >= len(liveNames) {
		return fmt.Sprintf("LiveStatus(%d)", int(s))
	}
	return liveNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s LiveStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// CaptureContext is the snapshot of the user's surroundings taken when a
// voice mode starts.
type CaptureContext struct {
	UserName     string `json:"user_name"`
	TargetApp    string `json:"target_app"`
	SelectedText string `json:"selected_text"`
}

// Seq orders asynchronous results. A result carrying a Seq lower than the
// state's current one is stale and must be dropped.
type Seq uint64

// Image is a generated image attached to the response view.
type Image struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Response is the outward-facing result view.
type Response struct {
	// Showing is set while a draft or image is presented.
	Showing bool `json:"showing"`

	// Title labels the origin of the response ("Voice Command", ...).
	Title string `json:"title,omitempty"`

	// Instruction is the prompt or restated instruction behind the response.
	Instruction string `json:"instruction,omitempty"`

	Text            string `json:"text,omitempty"`
	Image           *Image `json:"image,omitempty"`
	GeneratingImage bool   `json:"generating_image,omitempty"`
}

// Snapshot is an immutable copy of [State] for observers.
type Snapshot struct {
	Mode                    Mode                  `json:"mode"`
	Processing              ProcessingState       `json:"processing"`
	LiveStatus              LiveStatus            `json:"live_status"`
	Visualizer              audio.VisualizerFrame `json:"visualizer"`
	Duration                time.Duration         `json:"duration"`
	Draft                   *types.DraftResult    `json:"draft,omitempty"`
	Error                   string                `json:"error,omitempty"`
	ErrorKind               ErrorKind             `json:"error_kind,omitempty"`
	NeedsPermissionSettings bool                  `json:"needs_permission_settings"`
	OverlayVisible          bool                  `json:"overlay_visible"`
	Response                Response              `json:"response"`
}

// VoiceUIVisible reports whether the voice UI should be on screen.
func (s Snapshot) VoiceUIVisible() bool {
	return s.Mode != ModeNone || s.Processing == ProcessingProcessing || s.Processing == ProcessingCompleted
}
