package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/takohq/tako/internal/bridge"
	"github.com/takohq/tako/internal/config"
	"github.com/takohq/tako/internal/engine"
	"github.com/takohq/tako/internal/logging"
	"github.com/takohq/tako/internal/runner"
	"github.com/takohq/tako/internal/sessions"
	"github.com/takohq/tako/internal/telemetry"
	"github.com/takohq/tako/internal/transport"
	"github.com/takohq/tako/internal/transport/discord"
	"github.com/takohq/tako/internal/transport/telegram"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the chat bridge",
		Run: func(cmd *cobra.Command, args []string) {
			runBridge()
		},
	}
}

func runBridge() {
	logging.Setup(verbose)

	cfg, cfgPath, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "\nRun `tako onboard` to set up interactively.")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	store := sessions.New(sessions.ResolvePath(cfgPath))
	cwd, err := os.Getwd()
	if err != nil {
		slog.Error("cannot resolve working directory", "error", err)
		os.Exit(1)
	}
	cleared, err := store.SyncStartupCwd(cwd)
	if err != nil {
		slog.Error("session state sync failed", "error", err)
		os.Exit(1)
	}
	if cleared {
		slog.Info("working directory changed; stored sessions dropped", "cwd", cwd)
	}

	r, err := buildRunner(cfg, cfg.DefaultEngine)
	if err != nil {
		slog.Error("engine setup failed", "error", err)
		os.Exit(1)
	}

	tp, err := buildTransport(cfg)
	if err != nil {
		slog.Error("transport setup failed", "error", err)
		os.Exit(1)
	}

	b, err := bridge.New(cfg, tp, store, bridge.Adapt(r))
	if err != nil {
		slog.Error("bridge setup failed", "error", err)
		os.Exit(1)
	}

	slog.Info("tako starting", "version", Version, "transport", tp.Name(), "engine", cfg.DefaultEngine, "config", cfgPath)
	if err := b.Run(ctx); err != nil {
		slog.Error("bridge stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("tako stopped")
}

func buildRunner(cfg *config.Config, name string) (*runner.Runner, error) {
	engCfg := cfg.Engine(name)
	eng, err := engine.New(name, engCfg.Bin, engCfg.Args)
	if err != nil {
		return nil, err
	}
	return runner.New(eng, runner.NewLockRegistry()), nil
}

func buildTransport(cfg *config.Config) (transport.Transport, error) {
	switch cfg.Transport {
	case "", "telegram":
		return telegram.New(cfg.Transports.Telegram)
	case "discord":
		return discord.New(cfg.Transports.Discord)
	default:
		return nil, fmt.Errorf("unknown transport %q (expected telegram or discord)", cfg.Transport)
	}
}
