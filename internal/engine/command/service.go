// Package command implements the one-shot voice command pipeline: record one
// utterance to a WAV file, send it with the user's context to a structured
// completion model, and parse the reply into a [types.DraftResult].
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/verbe/internal/dispatch"
	"github.com/MrWong99/verbe/internal/engine"
	"github.com/MrWong99/verbe/internal/observe"
	"github.com/MrWong99/verbe/internal/voice"
	"github.com/MrWong99/verbe/pkg/audio"
	"github.com/MrWong99/verbe/pkg/provider/llm"
	"github.com/MrWong99/verbe/pkg/types"
)

const (
	// TickInterval is the period of the recording duration ticker.
	TickInterval = 100 * time.Millisecond

	// UserText accompanies the recorded audio in the completion request.
	UserText = "Process this audio command."

	audioMIMEType = "audio/wav"
)

var (
	// ErrRecordingFailed is returned when stopping produced no recording.
	ErrRecordingFailed = errors.New("command: failed to record audio")

	// ErrAudioReadFailed is returned when the recording cannot be read back.
	ErrAudioReadFailed = errors.New("command: failed to read audio file")

	// ErrMissingContext is returned when the recording was started without a
	// capture context.
	ErrMissingContext = errors.New("command: missing user context")

	// ErrProcessingFailed wraps completion and decode failures.
	ErrProcessingFailed = errors.New("command: failed to process voice command")
)

var _ engine.CommandEngine = (*Service)(nil)

// Config holds the service's collaborators.
type Config struct {
	Recorder engine.FileRecorder
	LLM      llm.Provider
	Clock    dispatch.Clock
	Exec     dispatch.Executor

	// Prompt overrides [voice.DefaultCommandPrompt] when non-blank.
	Prompt string

	// Metrics is optional.
	Metrics *observe.Metrics
}

// Service is a single-use [engine.CommandEngine].
type Service struct {
	cfg Config

	mu        sync.Mutex
	capCtx    voice.CaptureContext
	started   time.Time
	ticker    dispatch.Timer
	gen       uint64
	abort     context.CancelFunc
	recording bool
}

// New creates a Service. Clock defaults to [dispatch.RealClock] and Exec to
// [dispatch.Inline].
func New(cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = dispatch.RealClock{}
	}
	if cfg.Exec == nil {
		cfg.Exec = dispatch.Inline{}
	}
	return &Service{cfg: cfg}
}

// StartRecording implements [engine.CommandEngine].
func (s *Service) StartRecording(c voice.CaptureContext, onVisualizer func(audio.VisualizerFrame), onDuration func(time.Duration)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.cfg.Recorder.StartFile(onVisualizer); err != nil {
		return err
	}
	s.capCtx = c
	s.recording = true
	s.gen++
	s.started = s.cfg.Clock.Now()
	if onDuration != nil {
		s.armTickLocked(s.gen, onDuration)
	}
	return nil
}

func (s *Service) armTickLocked(gen uint64, onDuration func(time.Duration)) {
	s.ticker = s.cfg.Clock.AfterFunc(TickInterval, func() {
		s.mu.Lock()
		if gen != s.gen || !s.recording {
			s.mu.Unlock()
			return
		}
		elapsed := s.cfg.Clock.Now().Sub(s.started)
		s.armTickLocked(gen, onDuration)
		s.mu.Unlock()

		s.cfg.Exec.Post(func() {
			if s.current(gen) {
				onDuration(elapsed)
			}
		})
	})
}

func (s *Service) stopTickLocked() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *Service) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen
}

// StopRecordingAndProcess implements [engine.CommandEngine]. completion runs on
// the configured executor.
func (s *Service) StopRecordingAndProcess(completion func(types.DraftResult, error)) {
	s.mu.Lock()
	s.stopTickLocked()
	s.recording = false
	gen := s.gen
	capCtx := s.capCtx
	stoppedAt := s.cfg.Clock.Now()
	ctx, cancel := context.WithCancel(context.Background())
	s.abort = cancel
	s.mu.Unlock()

	finish := func(d types.DraftResult, err error) {
		cancel()
		s.cfg.Exec.Post(func() {
			if !s.current(gen) {
				slog.Debug("command: dropping completion after cancel")
				return
			}
			completion(d, err)
		})
	}

	path, err := s.cfg.Recorder.StopFile()
	if path == "" {
		if err != nil {
			slog.Warn("command: stop recording", "err", err)
		}
		finish(types.DraftResult{}, ErrRecordingFailed)
		return
	}
	data, err := os.ReadFile(path)
	if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		slog.Warn("command: remove recording", "path", path, "err", rmErr)
	}
	if err != nil {
		finish(types.DraftResult{}, fmt.Errorf("%w: %w", ErrAudioReadFailed, err))
		return
	}
	if capCtx == (voice.CaptureContext{}) {
		finish(types.DraftResult{}, ErrMissingContext)
		return
	}

	slog.Debug("command: submitting recording", "bytes", len(data))
	go func() {
		d, err := s.process(ctx, capCtx, data)
		if m := s.cfg.Metrics; m != nil {
			m.CommandDuration.Record(ctx, s.cfg.Clock.Now().Sub(stoppedAt).Seconds())
		}
		finish(d, err)
	}()
}

func (s *Service) process(ctx context.Context, capCtx voice.CaptureContext, wav []byte) (_ types.DraftResult, err error) {
	req := llm.CompletionRequest{
		SystemPrompt: voice.CommandInstruction(capCtx, s.cfg.Prompt),
		Parts: []llm.Part{
			llm.BlobPart(audioMIMEType, wav),
			llm.TextPart(UserText),
		},
		Temperature:      1.0,
		ResponseMIMEType: "application/json",
		ResponseSchema:   voice.DraftResultSchema(),
		SchemaName:       "draft_result",
		ThinkingLevel:    "minimal",
	}

	ctx, span := observe.StartSpan(ctx, "command.process")
	defer func() { observe.EndSpan(span, err) }()

	resp, err := s.cfg.LLM.Complete(ctx, req)
	if err != nil {
		s.record(ctx, "error")
		return types.DraftResult{}, fmt.Errorf("%w: %w", ErrProcessingFailed, err)
	}
	d, err := types.ParseDraftResult([]byte(resp.Content))
	if err != nil {
		s.record(ctx, "decode_error")
		return types.DraftResult{}, fmt.Errorf("%w: %w", ErrProcessingFailed, err)
	}
	s.record(ctx, "ok")
	observe.Logger(ctx).Info("command: draft ready",
		"model", resp.Model,
		"action", d.Intent.Action,
		"tokens", resp.Usage.TotalTokens)
	return d, nil
}

func (s *Service) record(ctx context.Context, status string) {
	m := s.cfg.Metrics
	if m == nil {
		return
	}
	m.RecordProviderRequest(ctx, "command", "llm", status)
	if status != "ok" {
		m.RecordProviderError(ctx, "command", status)
	}
}

// Cancel implements [engine.CommandEngine]. Any in-flight completion call is
// aborted and its result dropped.
func (s *Service) Cancel() {
	s.mu.Lock()
	s.stopTickLocked()
	s.recording = false
	s.gen++
	abort := s.abort
	s.abort = nil
	s.capCtx = voice.CaptureContext{}
	s.mu.Unlock()

	if abort != nil {
		abort()
	}
	s.cfg.Recorder.Stop()
}
