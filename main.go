package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/drift/config"
	"github.com/pthm-cable/drift/game"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	headless := flag.Bool("headless", false, "Run on the software device without a window")
	frames := flag.Int("frames", 0, "Stop after N frames (0 = unlimited)")
	scene := flag.String("scene", "", "Starting scene key (empty = first scene)")
	logStats := flag.Bool("log-stats", false, "Output perf stats via slog")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	snapshotDir := flag.String("snapshot-dir", "", "Directory for engine snapshots (S key, end of headless runs)")
	restore := flag.String("restore", "", "Snapshot file to restore before the first frame")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	shaderDir := flag.String("shader-dir", "", "Directory holding <variant>/<stage>.fs programs")

	flag.Parse()

	// Initialize config before anything else
	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Derived.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := game.Options{
		Headless:    *headless,
		Scene:       *scene,
		LogStats:    *logStats,
		OutputDir:   *outputDir,
		SnapshotDir: *snapshotDir,
		MetricsAddr: *metricsAddr,
		ShaderDir:   *shaderDir,
	}

	if *headless {
		os.Exit(runHeadless(ctx, opts, *frames, *restore))
	}
	os.Exit(runWindowed(ctx, opts, *frames, *restore))
}

func runHeadless(ctx context.Context, opts game.Options, frames int, restore string) int {
	g, err := game.NewGameWithOptions(ctx, opts)
	if err != nil {
		slog.Error("failed to start", "error", err)
		return 1
	}
	defer g.Unload()

	if restore != "" {
		if err := g.RestoreSnapshot(restore); err != nil {
			slog.Error("failed to restore snapshot", "path", restore, "error", err)
			return 1
		}
	}

	slog.Info("starting headless run", "scene", g.SceneKey(), "frames", frames)

	for ctx.Err() == nil {
		if err := g.UpdateHeadless(); err != nil {
			slog.Error("frame failed", "error", err)
			return 1
		}
		if frames > 0 && int(g.Frame()) >= frames {
			slog.Info("frame limit reached", "frame", g.Frame())
			break
		}
	}

	if opts.SnapshotDir != "" {
		if _, err := g.SaveSnapshot(); err != nil {
			slog.Error("failed to save snapshot", "error", err)
			return 1
		}
	}
	return 0
}

func runWindowed(ctx context.Context, opts game.Options, frames int, restore string) int {
	cfg := config.Cfg()

	rl.SetTraceLogLevel(rl.LogWarning)
	rl.InitWindow(int32(cfg.Device.WindowWidth), int32(cfg.Device.WindowHeight), "drift")
	defer rl.CloseWindow()

	rl.SetTargetFPS(int32(cfg.Frame.TargetFPS))

	g, err := game.NewGameWithOptions(ctx, opts)
	if err != nil {
		slog.Error("failed to start", "error", err)
		return 1
	}
	defer g.Unload()

	if restore != "" {
		if err := g.RestoreSnapshot(restore); err != nil {
			slog.Error("failed to restore snapshot", "path", restore, "error", err)
			return 1
		}
	}

	for !rl.WindowShouldClose() && ctx.Err() == nil {
		if err := g.Update(); err != nil {
			slog.Error("frame failed", "error", err)
			return 1
		}
		g.Draw()

		if frames > 0 && int(g.Frame()) >= frames {
			break
		}
	}
	return 0
}
