package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/verbe/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Providers.LLM.APIKey = "k"
	cfg.Providers.Image.Options = map[string]any{"retry_delay": "500ms"}
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if !d.Empty() {
		t.Errorf("Diff of equal configs = %+v", d)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		edit  func(*config.Config)
		check func(*testing.T, config.ConfigDiff)
	}{
		{
			name: "log level",
			edit: func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
					t.Errorf("diff = %+v", d)
				}
			},
		},
		{
			name: "prompts",
			edit: func(c *config.Config) { c.Prompts.Live = "Be brief." },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.LivePromptChanged || d.CommandPromptChanged {
					t.Errorf("diff = %+v", d)
				}
			},
		},
		{
			name: "user",
			edit: func(c *config.Config) { c.User.Name = "Ada" },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.UserChanged {
					t.Errorf("diff = %+v", d)
				}
			},
		},
		{
			name: "provider model and options",
			edit: func(c *config.Config) {
				c.Providers.LLM.Model = "gemini-2.5-pro"
				c.Providers.Image.Options["retry_delay"] = "1s"
			},
			check: func(t *testing.T, d config.ConfigDiff) {
				if !slices.Equal(d.ProvidersChanged, []string{"llm", "image"}) {
					t.Errorf("ProvidersChanged = %v", d.ProvidersChanged)
				}
			},
		},
		{
			name: "fallback added",
			edit: func(c *config.Config) { c.Providers.LLMFallback.Name = "openai" },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !slices.Equal(d.ProvidersChanged, []string{"llm_fallback"}) {
					t.Errorf("ProvidersChanged = %v", d.ProvidersChanged)
				}
			},
		},
		{
			name: "debounce",
			edit: func(c *config.Config) { c.Timing.Debounce = 400 * time.Millisecond },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.DebounceChanged || d.NewDebounce != 400*time.Millisecond {
					t.Errorf("diff = %+v", d)
				}
			},
		},
		{
			name: "restart-only fields",
			edit: func(c *config.Config) {
				c.Server.ListenAddr = "127.0.0.1:1"
				c.Audio.InputDevice = "USB"
			},
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.Empty() {
					t.Errorf("diff = %+v, want empty", d)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next := baseConfig()
			tt.edit(next)
			tt.check(t, config.Diff(baseConfig(), next))
		})
	}
}
