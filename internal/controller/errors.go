package controller

import (
	"context"
	"errors"

	"github.com/MrWong99/verbe/internal/engine/command"
	"github.com/MrWong99/verbe/internal/voice"
	"github.com/MrWong99/verbe/pkg/audio/capture"
	"github.com/MrWong99/verbe/pkg/provider/image"
	"github.com/MrWong99/verbe/pkg/provider/s2s/gemini"
	"github.com/MrWong99/verbe/pkg/types"
)

// PermissionMessage is shown when the microphone is not authorized.
const PermissionMessage = "Microphone access required. Open System Settings → Privacy & Security → Microphone to enable."

// classify maps a pipeline error to its user-facing kind and message.
func classify(err error) (voice.ErrorKind, string) {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return voice.ErrorPermission, PermissionMessage
	case errors.Is(err, capture.ErrInputUnavailable):
		return voice.ErrorDevice, "No microphone input is available"
	case errors.Is(err, capture.ErrEngineSetup), errors.Is(err, capture.ErrAlreadyRecording):
		return voice.ErrorDevice, "Failed to start the audio engine"
	case errors.Is(err, command.ErrRecordingFailed):
		return voice.ErrorDevice, "Failed to record audio"
	case errors.Is(err, command.ErrAudioReadFailed):
		return voice.ErrorDevice, "Failed to read audio file"
	case errors.Is(err, command.ErrMissingContext):
		return voice.ErrorDecode, "Missing user context"
	case errors.Is(err, types.ErrMalformedDraft):
		return voice.ErrorDecode, "Failed to process voice command"
	case errors.Is(err, command.ErrProcessingFailed):
		return voice.ErrorTransient, "Failed to process voice command"
	case errors.Is(err, gemini.ErrMissingAPIKey):
		return voice.ErrorTransport, "Gemini API key is not configured"
	default:
		return voice.ErrorTransport, err.Error()
	}
}

// imageErrorText is the response text shown after a failed image generation.
func imageErrorText(err error) string {
	switch {
	case errors.Is(err, image.ErrNoImage):
		return "No image was returned"
	case errors.Is(err, context.DeadlineExceeded):
		return "Image generation timed out"
	default:
		return err.Error()
	}
}
