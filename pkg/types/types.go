// Package types defines the shared types used across verbe packages.
//
// These types form the lingua franca between providers, engines and the
// controller. Each package defines its own domain types; cross-cutting data
// structures live here to avoid circular imports.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Intent is the structured interpretation of what the user asked for.
type Intent struct {
	// Mode is the voice mode that produced the intent ("command" or "live").
	Mode string `json:"mode"`

	// Action is either "edit" (rewrite selected text) or "create".
	Action string `json:"action"`

	// TargetApp is the application the draft is meant for (e.g., "Slack").
	TargetApp string `json:"target_app"`

	// Language is a BCP-47-ish language tag, e.g. "en".
	Language string `json:"language"`

	// Tone is a free-form tone hint ("neutral", "formal", ...).
	Tone string `json:"tone"`

	// Instruction is the user's request restated by the model.
	Instruction string `json:"instruction"`

	// InputText is the text being edited, when Action is "edit".
	InputText *string `json:"input_text,omitempty"`
}

// DraftResult is the finalized text produced by a voice interaction.
type DraftResult struct {
	Intent Intent `json:"intent"`
	Form   string `json:"form"`
}

// ErrMalformedDraft is returned by [ParseDraftResult] when a payload does not
// match the draft result shape.
var ErrMalformedDraft = errors.New("types: malformed draft result")

// ParseDraftResult decodes a JSON draft result. The form string and every
// intent field except input_text must be present; null counts as missing.
func ParseDraftResult(data []byte) (DraftResult, error) {
	var raw struct {
		Intent *struct {
			Mode        *string `json:"mode"`
			Action      *string `json:"action"`
			TargetApp   *string `json:"target_app"`
			Language    *string `json:"language"`
			Tone        *string `json:"tone"`
			Instruction *string `json:"instruction"`
			InputText   *string `json:"input_text"`
		} `json:"intent"`
		Form *string `json:"form"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return DraftResult{}, fmt.Errorf("%w: %v", ErrMalformedDraft, err)
	}
	if raw.Intent == nil {
		return DraftResult{}, fmt.Errorf("%w: missing intent", ErrMalformedDraft)
	}
	if raw.Form == nil {
		return DraftResult{}, fmt.Errorf("%w: missing form", ErrMalformedDraft)
	}
	in := raw.Intent
	for _, f := range []struct {
		key string
		v   *string
	}{
		{"mode", in.Mode},
		{"action", in.Action},
		{"target_app", in.TargetApp},
		{"language", in.Language},
		{"tone", in.Tone},
		{"instruction", in.Instruction},
	} {
		if f.v == nil {
			return DraftResult{}, fmt.Errorf("%w: missing intent.%s", ErrMalformedDraft, f.key)
		}
	}
	return DraftResult{
		Intent: Intent{
			Mode:        *in.Mode,
			Action:      *in.Action,
			TargetApp:   *in.TargetApp,
			Language:    *in.Language,
			Tone:        *in.Tone,
			Instruction: *in.Instruction,
			InputText:   in.InputText,
		},
		Form: *raw.Form,
	}, nil
}

// ToolDefinition describes a function the model may invoke.
type ToolDefinition struct {
	// Name is the function name as seen by the model.
	Name string

	// Description tells the model when to call the function.
	Description string

	// Parameters is the parameter schema in the provider's schema dialect.
	Parameters map[string]any
}

// ToolCall is a server-initiated request to execute a named function.
// Every ToolCall must be answered by exactly one [ToolResponse] with the same ID.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResponse acknowledges a [ToolCall].
type ToolResponse struct {
	ID       string
	Name     string
	Response map[string]any
}

// StringArg returns args[key] if it is a string, or def otherwise.
func StringArg(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return def
}
