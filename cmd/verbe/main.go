// Command verbe is the voice interaction daemon and its command-line tools.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/MrWong99/verbe/internal/app"
	"github.com/MrWong99/verbe/internal/config"
)

var version = "dev"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Warn("failed to load .env", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().Run(ctx, os.Args); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:    "verbe",
		Usage:   "Voice commands and live conversations from a held hotkey",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration file (defaults apply when empty)",
				Sources: cli.EnvVars("VERBE_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			newServeCommand(),
			newCommandCommand(),
			newLiveCommand(),
			newImageCommand(),
			newDevicesCommand(),
		},
	}
}

// env is what every subcommand needs after the root flags are parsed.
type env struct {
	configPath string
	cfg        *config.Config
	level      *slog.LevelVar
	reg        *config.Registry
	providers  *app.Providers
}

// setup loads the configuration, installs the logger and builds providers.
func setup(ctx context.Context, cmd *cli.Command) (*env, error) {
	path := cmd.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found: %w", path, err)
		}
		return nil, err
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	if cmd.Bool("debug") {
		level.Set(slog.LevelDebug)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg)

	return &env{
		configPath: path,
		cfg:        cfg,
		level:      level,
		reg:        reg,
		providers:  app.BuildProviders(cfg, reg),
	}, nil
}
