package config

import (
	"reflect"
	"time"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; the listen address
// and audio device need a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	CommandPromptChanged bool
	LivePromptChanged    bool
	UserChanged          bool

	// ProvidersChanged lists the provider slots whose entry differs
	// ("llm", "llm_fallback", "s2s", "image", "image_fallback").
	ProvidersChanged []string

	DebounceChanged bool
	NewDebounce     time.Duration
}

// Empty reports whether nothing hot-reloadable changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.CommandPromptChanged && !d.LivePromptChanged &&
		!d.UserChanged && len(d.ProvidersChanged) == 0 && !d.DebounceChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.CommandPromptChanged = old.Prompts.Command != new.Prompts.Command
	d.LivePromptChanged = old.Prompts.Live != new.Prompts.Live
	d.UserChanged = old.User != new.User

	slots := []struct {
		name     string
		old, new *ProviderEntry
	}{
		{"llm", &old.Providers.LLM, &new.Providers.LLM},
		{"llm_fallback", &old.Providers.LLMFallback, &new.Providers.LLMFallback},
		{"s2s", &old.Providers.S2S, &new.Providers.S2S},
		{"image", &old.Providers.Image, &new.Providers.Image},
		{"image_fallback", &old.Providers.ImageFallback, &new.Providers.ImageFallback},
	}
	for _, s := range slots {
		if !sameEntry(s.old, s.new) {
			d.ProvidersChanged = append(d.ProvidersChanged, s.name)
		}
	}

	if old.Timing.Debounce != new.Timing.Debounce {
		d.DebounceChanged = true
		d.NewDebounce = new.Timing.Debounce
	}

	return d
}

// sameEntry compares two provider entries including their options.
func sameEntry(a, b *ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && reflect.DeepEqual(a.Options, b.Options)
}
