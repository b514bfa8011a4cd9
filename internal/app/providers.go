package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/verbe/internal/config"
	"github.com/MrWong99/verbe/internal/resilience"
	"github.com/MrWong99/verbe/pkg/provider/image"
	"github.com/MrWong99/verbe/pkg/provider/llm"
	"github.com/MrWong99/verbe/pkg/provider/s2s"
)

// ErrNotConfigured is returned by provider slots that have no backend.
var ErrNotConfigured = errors.New("provider is not configured")

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Built by [BuildProviders].
type Providers struct {
	LLM    llm.Provider
	S2S    s2s.Provider
	Images image.Provider
}

// BuildProviders instantiates the providers named in cfg using reg. A slot
// whose constructor fails is logged and left nil so that the daemon can still
// start; readiness reports the gap. Fallback entries are chained behind their
// primary.
func BuildProviders(cfg *config.Config, reg *config.Registry) *Providers {
	pc := cfg.Providers
	ps := &Providers{}

	primaryLLM := createSlot("llm", pc.LLM, reg.CreateLLM)
	fallbackLLM := createSlot("llm_fallback", pc.LLMFallback, reg.CreateLLM)
	switch {
	case primaryLLM != nil && fallbackLLM != nil:
		fb := resilience.NewLLMFallback(primaryLLM, pc.LLM.Name, resilience.FallbackConfig{})
		fb.AddFallback(pc.LLMFallback.Name, fallbackLLM)
		ps.LLM = fb
	case primaryLLM != nil:
		ps.LLM = primaryLLM
	case fallbackLLM != nil:
		ps.LLM = fallbackLLM
	}

	ps.S2S = createSlot("s2s", pc.S2S, reg.CreateS2S)

	deadline := cfg.Timing.ImageDeadline
	primaryImage := createSlot("image", pc.Image, reg.CreateImage)
	fallbackImage := createSlot("image_fallback", pc.ImageFallback, reg.CreateImage)
	switch {
	case primaryImage != nil:
		fb := resilience.NewImageFallback(primaryImage, pc.Image.Name, resilience.FallbackConfig{}, deadline, 0)
		if fallbackImage != nil {
			fb.AddFallback(pc.ImageFallback.Name, fallbackImage)
		}
		ps.Images = fb
	case fallbackImage != nil:
		ps.Images = resilience.NewImageFallback(fallbackImage, pc.ImageFallback.Name, resilience.FallbackConfig{}, deadline, 0)
	}

	return ps
}

func createSlot[T any](slot string, entry config.ProviderEntry, create func(config.ProviderEntry) (T, error)) T {
	var zero T
	if entry.Name == "" {
		return zero
	}
	p, err := create(entry)
	if err != nil {
		slog.Warn("provider unavailable", "slot", slot, "name", entry.Name, "err", err)
		return zero
	}
	slog.Info("provider created", "slot", slot, "name", entry.Name, "model", entry.Model)
	return p
}

// unconfiguredLLM fails every completion. It stands in for a nil LLM slot so
// that a command recording still ends in a classified error.
type unconfiguredLLM struct{}

func (unconfiguredLLM) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, fmt.Errorf("llm: %w", ErrNotConfigured)
}

type unconfiguredS2S struct{}

func (unconfiguredS2S) Connect(context.Context, s2s.SessionConfig) (s2s.SessionHandle, error) {
	return nil, fmt.Errorf("s2s: %w", ErrNotConfigured)
}

// currentImages forwards to whichever image provider the app holds at call
// time, so that a reload takes effect without rebuilding the controller.
type currentImages struct{ a *App }

func (c currentImages) Generate(ctx context.Context, prompt string) (*image.Image, error) {
	p := c.a.providers.Load().Images
	if p == nil {
		return nil, errors.New("image generation is not configured")
	}
	return p.Generate(ctx, prompt)
}
