package live

import "github.com/MrWong99/verbe/pkg/types"

// Tool names offered to the live model.
const (
	ToolFinalizeDraft = "finalize_draft"
	ToolCloseSession  = "close_session"
	ToolGenerateImage = "generate_image"
)

// Tool acknowledgements sent back to the model.
const (
	ackDraft = "Draft displayed to user."
	ackClose = "Session closed."
	ackImage = "Image generation started. The image will be displayed to the user."
)

// Tools returns the function declarations sent in the session setup.
func Tools() []types.ToolDefinition {
	str := func() map[string]any { return map[string]any{"type": "STRING"} }
	return []types.ToolDefinition{
		{
			Name:        ToolFinalizeDraft,
			Description: "Call this function when you have sufficient information to generate the final text draft for the user.",
			Parameters: map[string]any{
				"type": "OBJECT",
				"properties": map[string]any{
					"intent": map[string]any{
						"type":        "OBJECT",
						"description": "Structured representation of the user's intent.",
						"properties": map[string]any{
							"mode":        str(),
							"action":      str(),
							"target_app":  str(),
							"language":    str(),
							"tone":        str(),
							"instruction": str(),
							"input_text":  str(),
						},
						"required": []string{"mode", "action", "target_app", "language", "tone", "instruction"},
					},
					"form": map[string]any{
						"type":        "STRING",
						"description": "The final formatted text output ready to be sent/pasted.",
					},
				},
				"required": []string{"intent", "form"},
			},
		},
		{
			Name:        ToolCloseSession,
			Description: "Call this function when the conversation is finished, the user is satisfied, or the user says goodbye.",
			Parameters: map[string]any{
				"type":       "OBJECT",
				"properties": map[string]any{},
			},
		},
		{
			Name:        ToolGenerateImage,
			Description: "Call this function when the user asks you to generate, create, or draw an image. Provide a detailed prompt describing the image to generate.",
			Parameters: map[string]any{
				"type": "OBJECT",
				"properties": map[string]any{
					"prompt": map[string]any{
						"type":        "STRING",
						"description": "A detailed description of the image to generate.",
					},
				},
				"required": []string{"prompt"},
			},
		},
	}
}

// parseDraft reads finalize_draft arguments. Missing intent fields fall back
// to live-mode defaults; a missing intent object or form is rejected.
func parseDraft(args map[string]any) (types.DraftResult, bool) {
	im, ok := args["intent"].(map[string]any)
	if !ok {
		return types.DraftResult{}, false
	}
	form, ok := args["form"].(string)
	if !ok {
		return types.DraftResult{}, false
	}
	intent := types.Intent{
		Mode:        types.StringArg(im, "mode", "live"),
		Action:      types.StringArg(im, "action", "create"),
		TargetApp:   types.StringArg(im, "target_app", ""),
		Language:    types.StringArg(im, "language", "en"),
		Tone:        types.StringArg(im, "tone", "neutral"),
		Instruction: types.StringArg(im, "instruction", ""),
	}
	if in, ok := im["input_text"].(string); ok {
		intent.InputText = &in
	}
	return types.DraftResult{Intent: intent, Form: form}, true
}

func ack(call types.ToolCall, result string) types.ToolResponse {
	return types.ToolResponse{ID: call.ID, Name: call.Name, Response: map[string]any{"result": result}}
}
