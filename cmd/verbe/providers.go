package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/verbe/internal/config"
	"github.com/MrWong99/verbe/pkg/provider/image"
	geminiimage "github.com/MrWong99/verbe/pkg/provider/image/gemini"
	"github.com/MrWong99/verbe/pkg/provider/llm"
	geminillm "github.com/MrWong99/verbe/pkg/provider/llm/gemini"
	openaillm "github.com/MrWong99/verbe/pkg/provider/llm/openai"
	"github.com/MrWong99/verbe/pkg/provider/s2s"
	geminilive "github.com/MrWong99/verbe/pkg/provider/s2s/gemini"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// ctx bounds the SDK clients created by the factories.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("gemini", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []geminillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, geminillm.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, geminillm.WithTimeout(d))
		}
		return geminillm.New(ctx, entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, openaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openaillm.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, openaillm.WithTimeout(d))
		}
		return openaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// ── S2S ───────────────────────────────────────────────────────────────────

	reg.RegisterS2S("gemini-live", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "keepalive"); d > 0 {
			opts = append(opts, geminilive.WithKeepalive(d))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	// ── Image ─────────────────────────────────────────────────────────────────

	reg.RegisterImage("gemini", func(entry config.ProviderEntry) (image.Provider, error) {
		var opts []geminiimage.Option
		if entry.BaseURL != "" {
			opts = append(opts, geminiimage.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, geminiimage.WithTimeout(d))
		}
		return geminiimage.New(ctx, entry.APIKey, entry.Model, opts...)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optDuration parses a duration such as "30s" from a provider Options map.
// Invalid values are logged and ignored.
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid provider option", "key", key, "value", s, "err", err)
		return 0
	}
	return d
}
