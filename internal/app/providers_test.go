package app

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/verbe/internal/config"
	"github.com/MrWong99/verbe/internal/resilience"
	audiomock "github.com/MrWong99/verbe/pkg/audio/mock"
	"github.com/MrWong99/verbe/pkg/provider/image"
	imagemock "github.com/MrWong99/verbe/pkg/provider/image/mock"
	"github.com/MrWong99/verbe/pkg/provider/llm"
	llmmock "github.com/MrWong99/verbe/pkg/provider/llm/mock"
	"github.com/MrWong99/verbe/pkg/provider/s2s"
	s2smock "github.com/MrWong99/verbe/pkg/provider/s2s/mock"
)

func mockRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterLLM("primary", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	reg.RegisterLLM("backup", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	reg.RegisterLLM("broken", func(config.ProviderEntry) (llm.Provider, error) { return nil, errors.New("no key") })
	reg.RegisterS2S("live", func(config.ProviderEntry) (s2s.Provider, error) { return &s2smock.Provider{}, nil })
	reg.RegisterImage("primary", func(config.ProviderEntry) (image.Provider, error) { return &imagemock.Provider{}, nil })
	reg.RegisterImage("backup", func(config.ProviderEntry) (image.Provider, error) { return &imagemock.Provider{}, nil })
	return reg
}

func TestBuildProviders_LLM(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		primary   string
		fallback  string
		wantNil   bool
		wantNames []string // nil when no fallback group is expected
	}{
		{name: "none"},
		{name: "primary only", primary: "primary"},
		{name: "primary and fallback", primary: "primary", fallback: "backup", wantNames: []string{"primary", "backup"}},
		{name: "fallback only", fallback: "backup"},
		{name: "broken primary", primary: "broken", wantNil: true},
		{name: "unregistered", primary: "nope", wantNil: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.Config{}
			cfg.Providers.LLM.Name = tt.primary
			cfg.Providers.LLMFallback.Name = tt.fallback

			ps := BuildProviders(cfg, mockRegistry())

			if tt.primary == "" && tt.fallback == "" || tt.wantNil {
				if ps.LLM != nil {
					t.Fatalf("LLM = %T, want nil", ps.LLM)
				}
				return
			}
			if ps.LLM == nil {
				t.Fatal("LLM = nil")
			}
			fb, isGroup := ps.LLM.(*resilience.LLMFallback)
			if tt.wantNames == nil {
				if isGroup {
					t.Fatalf("LLM is a fallback group, want plain provider")
				}
				return
			}
			if !isGroup {
				t.Fatalf("LLM = %T, want *resilience.LLMFallback", ps.LLM)
			}
			if got := fb.Group().Names(); !slices.Equal(got, tt.wantNames) {
				t.Errorf("names = %v, want %v", got, tt.wantNames)
			}
		})
	}
}

func TestBuildProviders_ImageAndS2S(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Providers.S2S.Name = "live"
	cfg.Providers.Image.Name = "primary"
	cfg.Providers.ImageFallback.Name = "backup"

	ps := BuildProviders(cfg, mockRegistry())

	if ps.S2S == nil {
		t.Error("S2S = nil")
	}
	fb, ok := ps.Images.(*resilience.ImageFallback)
	if !ok {
		t.Fatalf("Images = %T, want *resilience.ImageFallback", ps.Images)
	}
	if got := fb.Group().Names(); !slices.Equal(got, []string{"primary", "backup"}) {
		t.Errorf("names = %v", got)
	}
}

func TestUnconfiguredProviders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	if _, err := (unconfiguredLLM{}).Complete(ctx, llm.CompletionRequest{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("llm err = %v, want ErrNotConfigured", err)
	}
	if _, err := (unconfiguredS2S{}).Connect(ctx, s2s.SessionConfig{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("s2s err = %v, want ErrNotConfigured", err)
	}
}

func TestCurrentImages_FollowsReload(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	a, err := New(cfg, nil, &audiomock.Backend{})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	imgs := currentImages{a: a}

	if _, err := imgs.Generate(context.Background(), "a cat"); err == nil {
		t.Fatal("Generate() without provider = nil error")
	}

	p := &imagemock.Provider{}
	a.providers.Store(&Providers{Images: p})
	if _, err := imgs.Generate(context.Background(), "a cat"); err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if got := p.Calls(); len(got) != 1 || got[0] != "a cat" {
		t.Errorf("calls = %v", got)
	}
}
