// Package s2s defines the Provider interface for speech-to-speech (S2S)
// backends.
//
// An S2S provider wraps a real-time voice model that accepts raw microphone
// audio and answers with synthesised audio and tool calls over one stateful,
// bidirectional session. Everything the server sends arrives in order on a
// single event channel so that consumers can sequence tool-call handling and
// audio playback exactly as the server emitted them.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"errors"

	"github.com/MrWong99/verbe/pkg/types"
)

// ErrSessionClosed is returned by session methods after Close.
var ErrSessionClosed = errors.New("s2s: session closed")

// SessionConfig is the initial configuration for a new S2S session.
type SessionConfig struct {
	// Instructions is the system instruction for the whole session.
	Instructions string

	// Tools is the set of functions offered to the model. Calls arrive as
	// [EventToolCall] events and must be answered with
	// [SessionHandle.SendToolResponses].
	Tools []types.ToolDefinition
}

// EventKind discriminates [Event] values.
type EventKind int

const (
	// EventSetupComplete is emitted once, when the server acknowledged the
	// session setup. Audio sent before this event may be dropped by the server.
	EventSetupComplete EventKind = iota + 1

	// EventAudio carries one chunk of synthesised PCM16 audio.
	EventAudio

	// EventToolCall carries every function call of one server frame.
	EventToolCall

	// EventTurnComplete marks the end of a model turn.
	EventTurnComplete

	// EventInterrupted signals that the model stopped its current turn
	// because the user started talking.
	EventInterrupted

	// EventServerError carries an error frame sent by the server. The
	// session stays open.
	EventServerError
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventSetupComplete:
		return "setup_complete"
	case EventAudio:
		return "audio"
	case EventToolCall:
		return "tool_call"
	case EventTurnComplete:
		return "turn_complete"
	case EventInterrupted:
		return "interrupted"
	case EventServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

// Event is one decoded server frame (or part of one).
type Event struct {
	Kind EventKind

	// Audio is little-endian mono PCM16 at the provider's output rate.
	// Set for EventAudio.
	Audio []byte

	// ToolCalls is set for EventToolCall.
	ToolCalls []types.ToolCall

	// Err is set for EventServerError.
	Err error
}

// SessionHandle is an open S2S session. Callers must call Close when the
// session is no longer needed.
type SessionHandle interface {
	// Events returns the channel of server events. It is closed when the
	// session ends; call Err afterwards to learn why.
	Events() <-chan Event

	// Err returns the transport error that ended the session, or nil if the
	// session ended because Close was called.
	Err() error

	// SendAudio delivers one chunk of 16 kHz mono PCM16 microphone audio.
	SendAudio(chunk []byte) error

	// SendToolResponses answers previously received tool calls.
	SendToolResponses(resps ...types.ToolResponse) error

	// Close terminates the session. It is idempotent.
	Close() error
}

// Provider opens S2S sessions.
type Provider interface {
	// Connect dials the backend and sends the session setup. The returned
	// handle is usable immediately; the server acknowledges the setup with
	// an [EventSetupComplete] event.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
