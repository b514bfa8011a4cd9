package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/verbe/pkg/provider/llm"
	llmmock "github.com/MrWong99/verbe/pkg/provider/llm/mock"
)

func TestLLMFallback_Complete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		primaryErr   error
		secondaryErr error
		wantContent  string
		wantErr      error
		wantCalls    [2]int
	}{
		{
			name:        "primary ok",
			wantContent: "from gemini",
			wantCalls:   [2]int{1, 0},
		},
		{
			name:        "primary fails",
			primaryErr:  errTest,
			wantContent: "from openai",
			wantCalls:   [2]int{1, 1},
		},
		{
			name:         "both fail",
			primaryErr:   errTest,
			secondaryErr: errors.New("quota"),
			wantErr:      ErrAllFailed,
			wantCalls:    [2]int{1, 1},
		},
		{
			name:       "caller cancelled",
			primaryErr: context.Canceled,
			wantErr:    context.Canceled,
			wantCalls:  [2]int{1, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			primary := &llmmock.Provider{
				CompleteResponse: &llm.CompletionResponse{Content: "from gemini"},
				CompleteErr:      tt.primaryErr,
			}
			secondary := &llmmock.Provider{
				CompleteResponse: &llm.CompletionResponse{Content: "from openai"},
				CompleteErr:      tt.secondaryErr,
			}
			fb := NewLLMFallback(primary, "gemini", FallbackConfig{})
			fb.AddFallback("openai", secondary)

			resp, err := fb.Complete(context.Background(), llm.CompletionRequest{
				Parts: []llm.Part{llm.TextPart("hello")},
			})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if resp.Content != tt.wantContent {
					t.Errorf("Content = %q, want %q", resp.Content, tt.wantContent)
				}
			}
			if got := len(primary.Calls()); got != tt.wantCalls[0] {
				t.Errorf("primary calls = %d, want %d", got, tt.wantCalls[0])
			}
			if got := len(secondary.Calls()); got != tt.wantCalls[1] {
				t.Errorf("secondary calls = %d, want %d", got, tt.wantCalls[1])
			}
		})
	}
}

func TestLLMFallback_ForwardsRequest(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "{}"}}
	fb := NewLLMFallback(primary, "gemini", FallbackConfig{})

	req := llm.CompletionRequest{
		SystemPrompt:     "be precise",
		Parts:            []llm.Part{llm.BlobPart("audio/wav", []byte("RIFF"))},
		ResponseMIMEType: "application/json",
	}
	if _, err := fb.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	calls := primary.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	if calls[0].Req.SystemPrompt != "be precise" {
		t.Errorf("SystemPrompt = %q", calls[0].Req.SystemPrompt)
	}
	if got := fb.Group().Names(); len(got) != 1 || got[0] != "gemini" {
		t.Errorf("Names() = %v, want [gemini]", got)
	}
}
