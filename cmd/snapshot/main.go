// Snapshot tool - runs one scene for a number of ticks and dumps its buffers
// to CSV for inspection.
//
// Usage: go run ./cmd/snapshot -scene orbit -ticks 120 -out snapshots
//
// Besides the CSV dumps a JSON engine snapshot is written; -restore starts
// the run from such a snapshot instead of the scene's initial state.
//
// With -gpu the scene runs on the raylib device in a hidden window using the
// programs under -shader-dir.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/drift/config"
	"github.com/pthm-cable/drift/gpu"
	"github.com/pthm-cable/drift/kernels"
	"github.com/pthm-cable/drift/pool"
	"github.com/pthm-cable/drift/renderer"
	"github.com/pthm-cable/drift/sim"
	"github.com/pthm-cable/drift/telemetry"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	sceneKey := flag.String("scene", "orbit", "Scene key to run")
	ticks := flag.Int("ticks", 60, "Ticks to run before dumping")
	outDir := flag.String("out", "snapshots", "Output directory")
	useGPU := flag.Bool("gpu", false, "Run on the raylib device in a hidden window")
	shaderDir := flag.String("shader-dir", "", "Shader directory (empty = config device.shader_dir)")
	restore := flag.String("restore", "", "Snapshot JSON to start from")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	sc, ok := cfg.Scene(*sceneKey)
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown scene: %s\n", *sceneKey)
		os.Exit(1)
	}

	var (
		dev    gpu.Device
		loader sim.KernelLoader
	)
	if *useGPU {
		rl.SetTraceLogLevel(rl.LogWarning)
		rl.SetConfigFlags(rl.FlagWindowHidden)
		rl.InitWindow(int32(sc.Cols), int32(sc.Rows), "Snapshot")
		defer rl.CloseWindow()

		d, err := renderer.NewDevice()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create device: %v\n", err)
			os.Exit(1)
		}
		defer d.Release()
		dir := cfg.Device.ShaderDir
		if *shaderDir != "" {
			dir = *shaderDir
		}
		dev, loader = d, kernels.DirLoader{Root: dir}
	} else {
		d := gpu.NewSoftwareDevice(cfg.Device.Workers)
		defer d.Release()
		dev, loader = d, kernels.NewRegistry(d)
	}

	if err := run(dev, loader, cfg, sc, *ticks, *outDir, *restore); err != nil {
		fmt.Fprintf(os.Stderr, "Snapshot failed: %v\n", err)
		os.Exit(1)
	}
}

func run(dev gpu.Device, loader sim.KernelLoader, cfg *config.Config, sc config.SceneConfig, ticks int, outDir, restore string) error {
	p, err := pool.New(dev, loader, []pool.Scene{pool.SceneFromConfig(sc)})
	if err != nil {
		return err
	}
	defer p.Dispose()
	if err := p.Init(context.Background()); err != nil {
		return err
	}

	e, err := p.GetEngine(sc.Key)
	if err != nil {
		return err
	}
	if e.Status() == sim.StatusDegraded {
		slog.Warn("scene is running the fallback passes", "scene", sc.Key)
	}

	dt := cfg.Frame.DT
	var start float64
	if restore != "" {
		snap, err := telemetry.LoadSnapshot(restore)
		if err != nil {
			return err
		}
		if snap.Scene != sc.Key {
			return fmt.Errorf("snapshot is for scene %q, not %q", snap.Scene, sc.Key)
		}
		if err := sim.RestoreState(e, snap.State()); err != nil {
			return err
		}
		start = snap.Time
	}

	for i := 0; i < ticks; i++ {
		if err := p.TickActive(pool.FrameOptions(sc, start+float64(i)*dt, dt)...); err != nil {
			return err
		}
	}

	st, err := sim.ReadState(e)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	buffers := []struct {
		name   string
		texels []float32
	}{
		{"position", st.Positions},
		{"color", st.Colors},
		{"velocity", st.Velocities},
	}
	for _, b := range buffers {
		if b.texels == nil {
			continue
		}
		path := filepath.Join(outDir, fmt.Sprintf("%s_%s_%06d.csv", sc.Key, b.name, ticks))
		if _, err := telemetry.WriteTexelsFile(path, b.texels, st.Cols); err != nil {
			return err
		}
		stats := telemetry.ComputeBufferStats(b.texels)
		stats.Frame = int64(ticks)
		stats.Scene = sc.Key
		stats.Buffer = b.name
		slog.Info("buffer written", "path", path, "stats", stats)
	}

	snap := telemetry.NewSnapshot(sc.Key, e.Kind(), int64(ticks), start+float64(ticks)*dt, st)
	path, err := telemetry.SaveSnapshot(snap, outDir)
	if err != nil {
		return err
	}
	slog.Info("snapshot written", "path", path)

	fmt.Printf("Scene %s (%s, %s) dumped after %d ticks to %s\n", sc.Key, dev.Name(), e.Status(), ticks, outDir)
	return nil
}
