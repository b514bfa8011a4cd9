package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/MrWong99/verbe/internal/app"
	"github.com/MrWong99/verbe/internal/config"
	"github.com/MrWong99/verbe/internal/dispatch"
	"github.com/MrWong99/verbe/internal/engine"
	"github.com/MrWong99/verbe/internal/engine/command"
	"github.com/MrWong99/verbe/internal/engine/live"
	"github.com/MrWong99/verbe/internal/observe"
	"github.com/MrWong99/verbe/internal/voice"
	"github.com/MrWong99/verbe/pkg/audio"
	"github.com/MrWong99/verbe/pkg/audio/capture"
	"github.com/MrWong99/verbe/pkg/audio/playback"
	"github.com/MrWong99/verbe/pkg/audio/portaudio"
	"github.com/MrWong99/verbe/pkg/provider/image"
	"github.com/MrWong99/verbe/pkg/types"
)

// shutdownTimeout bounds the daemon's graceful shutdown.
const shutdownTimeout = 15 * time.Second

// contextFlags describe the user's surroundings for the one-shot commands.
func contextFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "app", Usage: "foreground application name", Value: "Terminal"},
		&cli.StringFlag{Name: "selected", Usage: "currently selected text"},
	}
}

func captureContext(rt *env, cmd *cli.Command) voice.CaptureContext {
	return voice.CaptureContext{
		UserName:     rt.cfg.User.Name,
		TargetApp:    cmd.String("app"),
		SelectedText: cmd.String("selected"),
	}
}

func openBackend(cfg *config.Config) (*portaudio.Backend, error) {
	return portaudio.Open(portaudio.WithInputDevice(cfg.Audio.InputDevice))
}

func newCapture(rt *env, backend audio.Backend, exec capture.Executor) *capture.Engine {
	return capture.New(backend, backend, exec, capture.WithTapFrames(rt.cfg.Audio.FileFrames, rt.cfg.Audio.StreamFrames))
}

// ── serve ─────────────────────────────────────────────────────────────────────

func newServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the daemon and the local bridge for the UI shell",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "override server.listen_addr"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			if addr := cmd.String("listen"); addr != "" {
				rt.cfg.Server.ListenAddr = addr
			}

			shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
				ServiceName:    "verbe",
				ServiceVersion: version,
			})
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownOTel(sctx); err != nil {
					slog.Warn("telemetry shutdown", "err", err)
				}
			}()

			backend, err := openBackend(rt.cfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			application, err := app.New(rt.cfg, rt.providers, backend,
				app.WithLevelVar(rt.level),
				app.WithRegistry(rt.reg),
				app.WithDeviceProbe(inputProbe(backend, rt.cfg.Audio.InputDevice)),
			)
			if err != nil {
				return err
			}

			if rt.configPath != "" {
				w, err := config.NewWatcher(rt.configPath, application.ApplyConfig)
				if err != nil {
					return err
				}
				wctx, stopWatch := context.WithCancel(ctx)
				defer stopWatch()
				go func() { _ = w.Run(wctx) }()
				go reloadOnHangup(wctx, w)
			}

			printStartupSummary(rt.cfg)
			runErr := application.Run(ctx)

			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := application.Shutdown(sctx); err != nil {
				slog.Error("shutdown error", "err", err)
			}
			slog.Info("goodbye")
			return runErr
		},
	}
}

// reloadOnHangup re-reads the config file whenever the process receives
// SIGHUP.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			slog.Info("SIGHUP received, reloading config")
			w.Reload()
		}
	}
}

// inputProbe fails when no capture device is available, or when the named
// device is missing.
func inputProbe(b *portaudio.Backend, name string) func() error {
	return func() error {
		devices, err := b.Devices()
		if err != nil {
			return err
		}
		for _, d := range devices {
			if d.MaxInputChannels == 0 {
				continue
			}
			if name == "" || strings.Contains(d.Name, name) {
				return nil
			}
		}
		if name != "" {
			return fmt.Errorf("%w: %q", audio.ErrNoDevice, name)
		}
		return audio.ErrNoDevice
	}
}

func printStartupSummary(cfg *config.Config) {
	slog.Info("verbe starting",
		"version", version,
		"listen_addr", cfg.Server.ListenAddr,
		"llm", providerLabel(cfg.Providers.LLM),
		"s2s", providerLabel(cfg.Providers.S2S),
		"image", providerLabel(cfg.Providers.Image),
		"user", cfg.User.Name,
	)
}

func providerLabel(e config.ProviderEntry) string {
	switch {
	case e.Name == "":
		return "(not configured)"
	case e.Model != "":
		return e.Name + "/" + e.Model
	}
	return e.Name
}

// ── command ───────────────────────────────────────────────────────────────────

func newCommandCommand() *cli.Command {
	return &cli.Command{
		Name:  "command",
		Usage: "Record one voice command until Enter and print the draft as JSON",
		Flags: contextFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			if rt.providers.LLM == nil {
				return fmt.Errorf("llm: %w", app.ErrNotConfigured)
			}
			backend, err := openBackend(rt.cfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			exec := dispatch.Inline{}
			svc := command.New(command.Config{
				Recorder: newCapture(rt, backend, exec),
				LLM:      rt.providers.LLM,
				Exec:     exec,
				Prompt:   rt.cfg.Prompts.Command,
			})
			return runCommand(ctx, svc, captureContext(rt, cmd))
		},
	}
}

func runCommand(ctx context.Context, svc engine.CommandEngine, capCtx voice.CaptureContext) error {
	err := svc.StartRecording(capCtx,
		func(audio.VisualizerFrame) {},
		func(d time.Duration) { fmt.Fprintf(os.Stderr, "\rrecording %4.1fs, press Enter to stop", d.Seconds()) },
	)
	if err != nil {
		return err
	}

	enter := make(chan struct{})
	go func() {
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
		close(enter)
	}()
	select {
	case <-enter:
	case <-ctx.Done():
		svc.Cancel()
		return ctx.Err()
	}
	fmt.Fprintln(os.Stderr, "\nprocessing…")

	type result struct {
		draft types.DraftResult
		err   error
	}
	done := make(chan result, 1)
	svc.StopRecordingAndProcess(func(d types.DraftResult, err error) { done <- result{d, err} })

	select {
	case r := <-done:
		if r.err != nil {
			return r.err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(r.draft)
	case <-ctx.Done():
		svc.Cancel()
		return ctx.Err()
	}
}

// ── live ──────────────────────────────────────────────────────────────────────

func newLiveCommand() *cli.Command {
	flags := append([]cli.Flag{
		&cli.StringFlag{Name: "image-dir", Usage: "where images requested during the session are written", Value: "."},
	}, contextFlags()...)
	return &cli.Command{
		Name:  "live",
		Usage: "Hold a live conversation until Ctrl+C or the model closes the session",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			if rt.providers.S2S == nil {
				return fmt.Errorf("s2s: %w", app.ErrNotConfigured)
			}
			backend, err := openBackend(rt.cfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			exec := dispatch.Inline{}
			sess := live.New(live.Config{
				Provider:     rt.providers.S2S,
				Recorder:     newCapture(rt, backend, exec),
				Player:       playback.New(backend, exec, audio.PlaybackRate),
				Exec:         exec,
				Prompt:       rt.cfg.Prompts.Live,
				ListenRevert: rt.cfg.Timing.ListenRevert,
			})
			return runLive(ctx, sess, captureContext(rt, cmd), rt.providers.Images, cmd.String("image-dir"))
		},
	}
}

func runLive(ctx context.Context, sess engine.LiveEngine, capCtx voice.CaptureContext, images image.Provider, imageDir string) error {
	// Callbacks run on the session's goroutines; the first end signal wins.
	endCh := make(chan struct{}, 1)
	signalEnd := func() {
		select {
		case endCh <- struct{}{}:
		default:
		}
	}

	enc := json.NewEncoder(os.Stdout)
	cb := engine.LiveCallbacks{
		OnStatusChange: func(s voice.LiveStatus) { fmt.Fprintf(os.Stderr, "status: %s\n", s) },
		OnDraftComplete: func(d types.DraftResult) {
			if err := enc.Encode(d); err != nil {
				slog.Warn("write draft", "err", err)
			}
		},
		OnImageRequest: func(prompt string) {
			go saveImage(ctx, images, prompt, imageDir)
		},
		OnCloseIntent: signalEnd,
		OnDisconnect:  signalEnd,
		OnError:       func(err error) { fmt.Fprintf(os.Stderr, "error: %v\n", err) },
	}
	if err := sess.Connect(context.WithoutCancel(ctx), capCtx, cb); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-endCh:
	}
	<-sess.Disconnect()
	return nil
}

func saveImage(ctx context.Context, images image.Provider, prompt, dir string) {
	if images == nil {
		fmt.Fprintf(os.Stderr, "image requested but no image provider is configured: %q\n", prompt)
		return
	}
	fmt.Fprintf(os.Stderr, "generating image: %q\n", prompt)
	img, err := images.Generate(ctx, prompt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "image failed: %v\n", err)
		return
	}
	path := filepath.Join(dir, "image-"+uuid.NewString()+extensionFor(img.MIMEType))
	if err := os.WriteFile(path, img.Data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write image: %v\n", err)
		return
	}
	fmt.Fprintf(os.Stderr, "image written to %s\n", path)
}

func extensionFor(mimeType string) string {
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".png"
}

// ── image ─────────────────────────────────────────────────────────────────────

func newImageCommand() *cli.Command {
	return &cli.Command{
		Name:      "image",
		Usage:     "Generate one image from a prompt",
		ArgsUsage: "<prompt>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file; the extension follows the returned format when empty"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			prompt := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
			if prompt == "" {
				return errors.New("image: prompt is required")
			}
			rt, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			if rt.providers.Images == nil {
				return fmt.Errorf("image: %w", app.ErrNotConfigured)
			}

			img, err := rt.providers.Images.Generate(ctx, prompt)
			if err != nil {
				return err
			}
			out := cmd.String("out")
			if out == "" {
				out = "image" + extensionFor(img.MIMEType)
			}
			if err := os.WriteFile(out, img.Data, 0o644); err != nil {
				return fmt.Errorf("image: write %s: %w", out, err)
			}
			if img.Text != "" {
				fmt.Fprintln(os.Stderr, img.Text)
			}
			fmt.Println(out)
			return nil
		},
	}
}

// ── devices ───────────────────────────────────────────────────────────────────

func newDevicesCommand() *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "List audio devices",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			backend, err := portaudio.Open()
			if err != nil {
				return err
			}
			defer backend.Close()

			devices, err := backend.Devices()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tHOST API\tIN\tOUT\tRATE\tDEFAULT")
			for _, d := range devices {
				var def []string
				if d.DefaultInput {
					def = append(def, "input")
				}
				if d.DefaultOutput {
					def = append(def, "output")
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.0f\t%s\n",
					d.Name, d.HostAPI, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate, strings.Join(def, ","))
			}
			return tw.Flush()
		},
	}
}
