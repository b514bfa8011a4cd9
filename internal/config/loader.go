package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":   {"gemini", "openai"},
	"s2s":   {"gemini-live"},
	"image": {"gemini"},
}

// apiKeyEnv maps a provider name to the environment variable holding its key.
var apiKeyEnv = map[string]string{
	"gemini":      "GEMINI_API_KEY",
	"gemini-live": "GEMINI_API_KEY",
	"openai":      "OPENAI_API_KEY",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := &Config{}
		ApplyDefaults(cfg)
		ApplyEnv(cfg, os.Getenv)
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and API keys
// from the environment, and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.Getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %q: %w", p, err)
		}
		slog.Debug("config: loaded environment file", "path", p)
	}
	return nil
}

// ApplyDefaults fills unset fields with the built-in defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1:7719"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.LLM.Name == "" {
		cfg.Providers.LLM.Name = "gemini"
	}
	if cfg.Providers.S2S.Name == "" {
		cfg.Providers.S2S.Name = "gemini-live"
	}
	if cfg.Providers.Image.Name == "" {
		cfg.Providers.Image.Name = "gemini"
	}
	if cfg.User.Name == "" {
		cfg.User.Name = "User"
	}
}

// ApplyEnv fills empty API keys from the environment. lookup is usually
// [os.Getenv].
func ApplyEnv(cfg *Config, lookup func(string) string) {
	for _, e := range cfg.Providers.entries() {
		if e.Name == "" || e.APIKey != "" {
			continue
		}
		if name, ok := apiKeyEnv[e.Name]; ok {
			e.APIKey = lookup(name)
		}
	}
}

// entries returns pointers to every provider entry.
func (p *ProvidersConfig) entries() []*ProviderEntry {
	return []*ProviderEntry{&p.LLM, &p.LLMFallback, &p.S2S, &p.Image, &p.ImageFallback}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.LLMFallback.Name)
	validateProviderName("s2s", cfg.Providers.S2S.Name)
	validateProviderName("image", cfg.Providers.Image.Name)
	validateProviderName("image", cfg.Providers.ImageFallback.Name)

	if cfg.Providers.LLMFallback.Name != "" && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm_fallback requires providers.llm"))
	}
	if cfg.Providers.ImageFallback.Name != "" && cfg.Providers.Image.Name == "" {
		errs = append(errs, errors.New("providers.image_fallback requires providers.image"))
	}
	if cfg.Providers.S2S.Name != "" && cfg.Providers.S2S.APIKey == "" {
		slog.Warn("providers.s2s has no API key; live conversations will fail", "provider", cfg.Providers.S2S.Name)
	}

	if cfg.Audio.FileFrames < 0 {
		errs = append(errs, fmt.Errorf("audio.file_frames %d must not be negative", cfg.Audio.FileFrames))
	}
	if cfg.Audio.StreamFrames < 0 {
		errs = append(errs, fmt.Errorf("audio.stream_frames %d must not be negative", cfg.Audio.StreamFrames))
	}

	for _, t := range []struct {
		name string
		d    time.Duration
	}{
		{"timing.debounce", cfg.Timing.Debounce},
		{"timing.grace", cfg.Timing.Grace},
		{"timing.listen_revert", cfg.Timing.ListenRevert},
		{"timing.image_deadline", cfg.Timing.ImageDeadline},
	} {
		if t.d < 0 {
			errs = append(errs, fmt.Errorf("%s %s must not be negative", t.name, t.d))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
