package voice

import (
	"fmt"
	"strings"
)

// DefaultCommandPrompt instructs the one-shot command model.
const DefaultCommandPrompt = `You are a precise command-to-text drafting engine.

Rules:
1. Analyze the audio command.
2. If "Selected Text" exists, perform an EDIT on it (rewrite, translate, etc.).
3. If no "Selected Text", perform a CREATE action (write new message).
4. You MUST NOT ask questions. Make the best reasonable default assumptions (e.g., neutral tone if unspecified, short length).
5. If critical info is missing (like a time), use a placeholder like "[time]".
6. Output JSON with the 'intent' details and the final 'form' text.`

// DefaultLivePrompt instructs the live conversation model.
const DefaultLivePrompt = `You are a professional drafting assistant.

Rules:
1. If "Selected Text" exists, assume EDIT flow (rewrite, fix, translate).
2. If no "Selected Text", assume CREATE flow (write from scratch).
3. Adapt your responses and the final draft to the format of the Target App (e.g., Slack=concise, Email=subject/body/signoff).
4. Ask short clarifying questions if the request is ambiguous.
5. Once you have enough info, call 'finalize_draft'.
6. IMPORTANT: After calling 'finalize_draft', DO NOT STOP. Continue the conversation verbally. Tell the user you have created the draft and ask if they want any changes.
7. If the user asks for changes, call 'finalize_draft' again with the updated version.
8. If the user indicates they are satisfied, says "looks good", "thanks", or "goodbye", call 'close_session' to end the interaction.
9. If the user asks you to generate, create, or draw an image, call 'generate_image' with a detailed prompt. Continue the conversation after calling it.`

// ResolvePrompt returns override unless it is blank, in which case def.
func ResolvePrompt(override, def string) string {
	if strings.TrimSpace(override) == "" {
		return def
	}
	return override
}

// CommandInstruction builds the system instruction for a command-mode call.
func CommandInstruction(c CaptureContext, prompt string) string {
	return instruction("Context:", c, ResolvePrompt(prompt, DefaultCommandPrompt))
}

// LiveInstruction builds the system instruction sent in the live setup frame.
func LiveInstruction(c CaptureContext, prompt string) string {
	return instruction("Current Context:", c, ResolvePrompt(prompt, DefaultLivePrompt))
}

func instruction(header string, c CaptureContext, prompt string) string {
	selected := c.SelectedText
	if selected == "" {
		selected = "(None)"
	}
	return fmt.Sprintf("%s\n- User Name: %s\n- Target App: %s\n- Selected Text: \"%s\"\n\n%s",
		header, c.UserName, c.TargetApp, selected, prompt)
}

// IntentSchema describes [types.Intent] in the Gemini schema dialect.
func IntentSchema() map[string]any {
	str := func() map[string]any { return map[string]any{"type": "STRING"} }
	return map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"mode":        map[string]any{"type": "STRING", "enum": []string{"command", "live"}},
			"action":      map[string]any{"type": "STRING", "enum": []string{"edit", "create"}},
			"target_app":  str(),
			"language":    str(),
			"tone":        str(),
			"instruction": str(),
			"input_text":  str(),
		},
		"required": []string{"mode", "action", "target_app", "language", "tone", "instruction"},
	}
}

// DraftResultSchema describes [types.DraftResult] in the Gemini schema dialect.
func DraftResultSchema() map[string]any {
	return map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"intent": IntentSchema(),
			"form": map[string]any{
				"type":        "STRING",
				"description": "The final formatted text output ready to be sent/pasted.",
			},
		},
		"required": []string{"intent", "form"},
	}
}
