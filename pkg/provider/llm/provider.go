// Package llm defines the Provider interface for one-shot, structured
// completion backends.
//
// A completion request carries a system instruction and a single user turn made
// of text and inline media parts (recorded audio, for instance). Providers may
// be asked to constrain their answer to a JSON schema; the schema is written in
// the Gemini dialect (upper-case type names) and translated by providers that
// speak another dialect.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the backend answered without any text.
var ErrEmptyResponse = errors.New("llm: empty response")

// Part is one element of the user turn. Exactly one of Text or Data is set.
type Part struct {
	// Text is a plain-text part.
	Text string

	// MIMEType describes Data, e.g. "audio/wav".
	MIMEType string

	// Data is inline binary content.
	Data []byte
}

// TextPart returns a text part.
func TextPart(text string) Part { return Part{Text: text} }

// BlobPart returns an inline media part.
func BlobPart(mimeType string, data []byte) Part { return Part{MIMEType: mimeType, Data: data} }

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a response.
type CompletionRequest struct {
	// SystemPrompt is the high-priority instruction for this call.
	SystemPrompt string

	// Parts is the single user turn.
	Parts []Part

	// Temperature controls output randomness. Zero means provider default.
	Temperature float64

	// ResponseMIMEType requests a response encoding, e.g. "application/json".
	ResponseMIMEType string

	// ResponseSchema constrains a JSON response. Gemini schema dialect.
	ResponseSchema map[string]any

	// SchemaName names the schema for providers that require one.
	SchemaName string

	// ThinkingLevel is a reasoning-effort hint ("minimal", "low", "high").
	// Providers without such a knob ignore it.
	ThinkingLevel string
}

// CompletionResponse is the model's full answer.
type CompletionResponse struct {
	// Content is the text of the first candidate.
	Content string

	// Model is the model that produced the response.
	Model string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any completion backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
