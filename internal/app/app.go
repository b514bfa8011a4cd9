// Package app wires the verbe subsystems into a running daemon.
//
// The App struct owns the full lifecycle: New builds the audio engines, the
// controller and the hotkey arbiter around one sequential queue, Run serves
// the local bridge and drives the queue, and Shutdown tears everything down
// in order.
//
// For testing, inject a mock audio backend and mock providers; the clock and
// metrics can be replaced through functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/verbe/internal/config"
	"github.com/MrWong99/verbe/internal/controller"
	"github.com/MrWong99/verbe/internal/dispatch"
	"github.com/MrWong99/verbe/internal/engine"
	"github.com/MrWong99/verbe/internal/engine/command"
	"github.com/MrWong99/verbe/internal/engine/live"
	"github.com/MrWong99/verbe/internal/health"
	"github.com/MrWong99/verbe/internal/hotkey"
	"github.com/MrWong99/verbe/internal/observe"
	"github.com/MrWong99/verbe/pkg/audio"
	"github.com/MrWong99/verbe/pkg/audio/capture"
	"github.com/MrWong99/verbe/pkg/audio/playback"
)

// shutdownTimeout bounds the HTTP server drain once Run's context ends.
const shutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg       atomic.Pointer[config.Config]
	providers atomic.Pointer[Providers]

	backend audio.Backend
	reg     *config.Registry
	clock   dispatch.Clock
	metrics *observe.Metrics
	level   *slog.LevelVar
	tempDir string
	probe   func() error

	queue   *dispatch.Queue
	host    *Host
	capture *capture.Engine
	ctrl    *controller.Controller
	arbiter *hotkey.Arbiter
	bridge  *Bridge
	health  *health.Handler

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithClock replaces the real clock. Tests pass a [dispatch.FakeClock].
func WithClock(c dispatch.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithMetrics records into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets [App.ApplyConfig] change the log level of the handler
// that reads lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithTempDir sets the directory for command recordings.
func WithTempDir(dir string) Option {
	return func(a *App) { a.tempDir = dir }
}

// WithRegistry enables provider rebuilds on config reload.
func WithRegistry(reg *config.Registry) Option {
	return func(a *App) { a.reg = reg }
}

// WithDeviceProbe adds an input_device readiness check backed by probe.
func WithDeviceProbe(probe func() error) Option {
	return func(a *App) { a.probe = probe }
}

// New creates an App. providers may be nil or partially filled; missing slots
// fail at use time with [ErrNotConfigured].
func New(cfg *config.Config, providers *Providers, backend audio.Backend, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if backend == nil {
		return nil, errors.New("app: audio backend is required")
	}
	if providers == nil {
		providers = &Providers{}
	}

	a := &App{backend: backend}
	for _, o := range opts {
		o(a)
	}
	if a.clock == nil {
		a.clock = dispatch.RealClock{}
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.cfg.Store(cfg)
	a.providers.Store(providers)

	a.queue = dispatch.NewQueue()
	a.host = NewHost(backend, cfg.User.Name)

	var capOpts []capture.Option
	if a.tempDir != "" {
		capOpts = append(capOpts, capture.WithTempDir(a.tempDir))
	}
	capOpts = append(capOpts, capture.WithTapFrames(cfg.Audio.FileFrames, cfg.Audio.StreamFrames))
	a.capture = capture.New(backend, backend, a.queue, capOpts...)

	a.ctrl = controller.New(controller.Config{
		Env:               a.host,
		NewCommand:        a.newCommand,
		NewLive:           a.newLive,
		Images:            currentImages{a: a},
		Clock:             a.clock,
		Exec:              a.queue,
		Grace:             cfg.Timing.Grace,
		AutoHideOnRelease: true,
		Metrics:           a.metrics,
	})
	a.arbiter = hotkey.New(a.ctrl, a.clock, a.queue, hotkey.WithDebounce(cfg.Timing.Debounce))
	a.bridge = NewBridge(a.queue, a.ctrl, a.arbiter, a.host)

	checks := []health.Checker{
		health.APIKey("llm", func() string { return a.cfg.Load().Providers.LLM.APIKey }),
		health.APIKey("s2s", func() string { return a.cfg.Load().Providers.S2S.APIKey }),
		health.Microphone(backend.MicrophoneAuthorized),
	}
	if a.probe != nil {
		checks = append(checks, health.InputDevice(a.probe))
	}
	a.health = health.New(checks...)

	return a, nil
}

func (a *App) newCommand() engine.CommandEngine {
	cfg := a.cfg.Load()
	provider := a.providers.Load().LLM
	if provider == nil {
		provider = unconfiguredLLM{}
	}
	return command.New(command.Config{
		Recorder: a.capture,
		LLM:      provider,
		Clock:    a.clock,
		Exec:     a.queue,
		Prompt:   cfg.Prompts.Command,
		Metrics:  a.metrics,
	})
}

func (a *App) newLive() engine.LiveEngine {
	cfg := a.cfg.Load()
	provider := a.providers.Load().S2S
	if provider == nil {
		provider = unconfiguredS2S{}
	}
	// Sessions clean their player up irreversibly on teardown, so each one
	// gets its own.
	return live.New(live.Config{
		Provider:     provider,
		Recorder:     a.capture,
		Player:       playback.New(a.backend, a.queue, audio.PlaybackRate),
		Clock:        a.clock,
		Exec:         a.queue,
		Prompt:       cfg.Prompts.Live,
		ListenRevert: cfg.Timing.ListenRevert,
		Metrics:      a.metrics,
	})
}

// Controller returns the voice session controller. Its methods must be called
// on the queue; see [App.Do].
func (a *App) Controller() *controller.Controller { return a.ctrl }

// Do runs fn on the main queue and waits for it.
func (a *App) Do(ctx context.Context, fn func()) error { return a.queue.Do(ctx, fn) }

// Handler returns the bridge, health and metrics routes wrapped in the
// observability middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", a.bridge)
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// Run listens on the configured address and serves until ctx is done.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Load().Server.ListenAddr
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", addr, err)
	}
	slog.Info("bridge listening", "addr", ln.Addr().String())
	return a.Serve(ctx, ln)
}

// Serve drives the main queue and serves HTTP on ln until ctx is done. A
// cancelled ctx is a clean exit.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.queue.Run(gctx) })
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.bridge.Close()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// ApplyConfig applies the hot-reloadable parts of next. Prompts and timings
// take effect on the next mode start. Suitable as a [config.Watcher]
// callback.
func (a *App) ApplyConfig(_, next *config.Config, d config.ConfigDiff) {
	a.cfg.Store(next)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.UserChanged {
		a.host.SetUserName(next.User.Name)
	}
	if len(d.ProvidersChanged) > 0 {
		if a.reg == nil {
			slog.Warn("provider change needs a restart", "slots", d.ProvidersChanged)
		} else {
			a.providers.Store(BuildProviders(next, a.reg))
			slog.Info("providers rebuilt", "slots", d.ProvidersChanged)
		}
	}
	if d.DebounceChanged {
		debounce := d.NewDebounce
		a.queue.Post(func() { a.arbiter.SetDebounce(debounce) })
	}
}

// Shutdown stops the controller and releases the audio engines. Call it
// after Run has returned. If ctx expires before the live session has torn
// down, ctx.Err() is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")
		a.queue.Close()
		a.bridge.Close()

		select {
		case <-a.ctrl.Close():
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded waiting for live teardown")
			shutdownErr = ctx.Err()
		}
		a.capture.Stop()
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
