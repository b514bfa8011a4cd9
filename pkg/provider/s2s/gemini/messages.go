package gemini

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrWong99/verbe/pkg/provider/s2s"
	"github.com/MrWong99/verbe/pkg/types"
)

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model             string             `json:"model"`
	GenerationConfig  generationConfig   `json:"generationConfig"`
	SystemInstruction *systemInstruction `json:"systemInstruction,omitempty"`
	Tools             []geminiTool       `json:"tools,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType,omitempty"`
	Data     string `json:"data"` // base64-encoded
}

type geminiTool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations,omitempty"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type toolResponseMessage struct {
	ToolResponse toolResponse `json:"toolResponse"`
}

type toolResponse struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type functionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

func newSetupMessage(model string, cfg s2s.SessionConfig) setupMessage {
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	msg := setupMessage{
		Setup: setupConfig{
			Model: model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
		},
	}

	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}

	if len(cfg.Tools) > 0 {
		decls := make([]functionDeclaration, len(cfg.Tools))
		for i, t := range cfg.Tools {
			decls[i] = functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			}
		}
		msg.Setup.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}
	return msg
}

func newRealtimeInputMessage(chunk []byte) realtimeInputMessage {
	return realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{
				{MIMEType: InputMIMEType, Data: base64.StdEncoding.EncodeToString(chunk)},
			},
		},
	}
}

func newToolResponseMessage(resps []types.ToolResponse) toolResponseMessage {
	out := make([]functionResponse, len(resps))
	for i, r := range resps {
		resp := r.Response
		if resp == nil {
			resp = map[string]any{}
		}
		out[i] = functionResponse{ID: r.ID, Name: r.Name, Response: resp}
	}
	return toolResponseMessage{ToolResponse: toolResponse{FunctionResponses: out}}
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	ToolCall      *toolCallMsg     `json:"toolCall,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

func (e *geminiError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	if e.Status != "" {
		return fmt.Sprintf("gemini: %s (%s)", msg, e.Status)
	}
	return "gemini: " + msg
}

type serverContent struct {
	ModelTurn    *modelTurn `json:"modelTurn,omitempty"`
	TurnComplete bool       `json:"turnComplete,omitempty"`
	Interrupted  bool       `json:"interrupted,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type toolCallMsg struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type functionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// decodeServerMessage parses one server frame. Frames may arrive as text or
// binary messages; both carry the same JSON.
func decodeServerMessage(data []byte) (*serverMessage, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("gemini: decode frame: %w", err)
	}
	return &msg, nil
}

// events flattens a frame into the s2s events it carries, in wire order.
// Inline parts that are not valid base64 are skipped.
func (m *serverMessage) events() []s2s.Event {
	var evs []s2s.Event
	if m.SetupComplete != nil {
		evs = append(evs, s2s.Event{Kind: s2s.EventSetupComplete})
	}
	if m.Error != nil {
		evs = append(evs, s2s.Event{Kind: s2s.EventServerError, Err: m.Error})
	}
	if sc := m.ServerContent; sc != nil {
		if sc.Interrupted {
			evs = append(evs, s2s.Event{Kind: s2s.EventInterrupted})
		}
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData == nil {
					continue
				}
				pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil || len(pcm) == 0 {
					continue
				}
				evs = append(evs, s2s.Event{Kind: s2s.EventAudio, Audio: pcm})
			}
		}
		if sc.TurnComplete {
			evs = append(evs, s2s.Event{Kind: s2s.EventTurnComplete})
		}
	}
	if tc := m.ToolCall; tc != nil && len(tc.FunctionCalls) > 0 {
		calls := make([]types.ToolCall, len(tc.FunctionCalls))
		for i, fc := range tc.FunctionCalls {
			args := fc.Args
			if args == nil {
				args = map[string]any{}
			}
			calls[i] = types.ToolCall{ID: fc.ID, Name: fc.Name, Args: args}
		}
		evs = append(evs, s2s.Event{Kind: s2s.EventToolCall, ToolCalls: calls})
	}
	return evs
}
