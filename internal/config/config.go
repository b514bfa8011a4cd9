// Package config provides the configuration schema, loader, and provider registry
// for the verbe voice daemon.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the verbe daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to the matching [slog.Level]. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Config is the root configuration structure for verbe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	User      UserConfig      `yaml:"user"`
	Prompts   PromptsConfig   `yaml:"prompts"`
	Audio     AudioConfig     `yaml:"audio"`
	Timing    TimingConfig    `yaml:"timing"`
}

// ServerConfig holds network and logging settings for the local bridge.
type ServerConfig struct {
	// ListenAddr is the TCP address the bridge listens on. It should stay on
	// loopback; the UI shell is the only client.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares which provider implementation backs each remote
// service. Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	// LLM serves the one-shot voice command completion.
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallback is tried when LLM fails. Optional.
	LLMFallback ProviderEntry `yaml:"llm_fallback"`

	// S2S serves live conversations.
	S2S ProviderEntry `yaml:"s2s"`

	// Image serves image generation requested from a live conversation.
	Image ProviderEntry `yaml:"image"`

	// ImageFallback is tried when Image fails. Optional.
	ImageFallback ProviderEntry `yaml:"image_fallback"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API. Left empty, it
	// is filled from the provider's environment variable by [ApplyEnv].
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// UserConfig describes the person using the daemon.
type UserConfig struct {
	// Name is included in the capture context. Defaults to "User".
	Name string `yaml:"name"`
}

// PromptsConfig overrides the built-in system prompts. Empty or
// whitespace-only values fall back to the defaults.
type PromptsConfig struct {
	Command string `yaml:"command"`
	Live    string `yaml:"live"`
}

// AudioConfig selects the audio device and tap sizes.
type AudioConfig struct {
	// InputDevice is the name of the microphone to open. Empty selects the
	// system default.
	InputDevice string `yaml:"input_device"`

	// FileFrames is the input tap buffer size in file mode. Default 1024.
	FileFrames int `yaml:"file_frames"`

	// StreamFrames is the input tap buffer size in streaming mode. Default 4096.
	StreamFrames int `yaml:"stream_frames"`
}

// TimingConfig overrides the interaction timings. Zero keeps the default.
type TimingConfig struct {
	// Debounce is how long fn must be held before command mode starts.
	Debounce time.Duration `yaml:"debounce"`

	// Grace is the delay before the overlay hides after a mode stops.
	Grace time.Duration `yaml:"grace"`

	// ListenRevert is the delay before a live session returns to listening
	// after a tool call.
	ListenRevert time.Duration `yaml:"listen_revert"`

	// ImageDeadline bounds an image generation including its retry.
	ImageDeadline time.Duration `yaml:"image_deadline"`
}
