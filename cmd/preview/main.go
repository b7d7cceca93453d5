// Scene preview tool - runs every pooled scene and switches between them
// with buttons.
//
// Usage: go run ./cmd/preview [-gpu -shader-dir shaders]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	rl "github.com/gen2brain/raylib-go/raylib"
	gui "github.com/gen2brain/raylib-go/raygui"

	"github.com/pthm-cable/drift/config"
	"github.com/pthm-cable/drift/gpu"
	"github.com/pthm-cable/drift/kernels"
	"github.com/pthm-cable/drift/pool"
	"github.com/pthm-cable/drift/renderer"
	"github.com/pthm-cable/drift/sim"
)

const (
	windowWidth  = 1200
	windowHeight = 720
	panelWidth   = 280
	panelX       = windowWidth - panelWidth
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	useGPU := flag.Bool("gpu", false, "Run the scenes on the raylib device")
	shaderDir := flag.String("shader-dir", "", "Shader directory (empty = config device.shader_dir)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Derived.LogLevel})))

	rl.SetTraceLogLevel(rl.LogWarning)
	rl.InitWindow(windowWidth, windowHeight, "Scene Preview")
	defer rl.CloseWindow()
	rl.SetTargetFPS(int32(cfg.Frame.TargetFPS))

	var (
		dev    gpu.Device
		loader sim.KernelLoader
	)
	if *useGPU {
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

	p, err := pool.New(dev, loader, pool.ScenesFromConfig(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer p.Dispose()
	if err := p.Init(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize pool: %v\n", err)
		os.Exit(1)
	}

	// Per-scene noise strength overrides
	strength := make(map[string]float32, len(cfg.Scenes))
	for _, sc := range cfg.Scenes {
		strength[sc.Key] = float32(sc.NoiseStrength)
	}

	current := 0
	if _, err := p.GetEngine(cfg.Scenes[current].Key); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to activate scene: %v\n", err)
		os.Exit(1)
	}

	points := renderer.NewPointRenderer(40, 0.25)
	var (
		t       float64
		running = true
		state   sim.State
	)

	for !rl.WindowShouldClose() {
		sc := cfg.Scenes[current]

		if running {
			opts := pool.FrameOptions(sc, t, cfg.Frame.DT)
			opts = append(opts, sim.NoiseStrength(float64(strength[sc.Key])))
			if err := p.TickActive(opts...); err != nil {
				slog.Error("tick failed", "scene", sc.Key, "error", err)
				running = false
			}
			t += cfg.Frame.DT
		}
		if e, err := p.Engine(sc.Key); err == nil {
			if st, err := sim.ReadState(e); err == nil {
				state = st
			}
		}

		rl.BeginDrawing()
		rl.ClearBackground(rl.Color{R: 12, G: 14, B: 20, A: 255})

		points.Draw(state.Positions, state.Colors)

		// Control panel
		rl.DrawRectangle(panelX, 0, panelWidth, windowHeight, rl.Fade(rl.RayWhite, 0.9))
		y := float32(10)
		rl.DrawText("Scenes", panelX+10, int32(y), 20, rl.DarkGray)
		y += 30

		for i, s := range cfg.Scenes {
			label := s.Key
			if i == current {
				label = "> " + label
			}
			if gui.Button(rl.Rectangle{X: panelX + 10, Y: y, Width: panelWidth - 20, Height: 28}, label) && i != current {
				if err := switchScene(p, cfg.Scenes[current].Key, s.Key); err != nil {
					slog.Error("scene switch failed", "scene", s.Key, "error", err)
				} else {
					current = i
					t = 0
				}
			}
			y += 34
		}
		y += 10

		rl.DrawText("Noise strength", panelX+10, int32(y), 14, rl.Gray)
		y += 18
		key := cfg.Scenes[current].Key
		strength[key] = gui.SliderBar(
			rl.Rectangle{X: panelX + 10, Y: y, Width: panelWidth - 80, Height: 20},
			"", "",
			strength[key], 0, 3,
		)
		rl.DrawText(fmt.Sprintf("%.2f", strength[key]), panelX+panelWidth-60, int32(y+2), 16, rl.DarkGray)
		y += 40

		if gui.Button(rl.Rectangle{X: panelX + 10, Y: y, Width: 120, Height: 30}, toggleText(running, "Pause", "Run")) {
			running = !running
		}
		if gui.Button(rl.Rectangle{X: panelX + 140, Y: y, Width: 120, Height: 30}, "Reset") {
			if err := p.ResetEngineToInitialState(key); err != nil {
				slog.Error("reset failed", "scene", key, "error", err)
			}
			t = 0
		}
		y += 45

		if e, err := p.Engine(key); err == nil {
			rl.DrawText(fmt.Sprintf("%s  %s  %d ticks", dev.Name(), e.Status(), e.Ticks()), panelX+10, int32(y), 14, rl.DarkGray)
			y += 20
		}
		lease, _ := p.LeaseOf(key)
		rl.DrawText(fmt.Sprintf("acquired %d  released %d  resets %d", lease.Acquired, lease.Released, lease.Resets), panelX+10, int32(y), 14, rl.Gray)

		rl.DrawText("Press C to copy noise strength YAML", panelX+10, windowHeight-30, 12, rl.Gray)
		if rl.IsKeyPressed(rl.KeyC) {
			rl.SetClipboardText(fmt.Sprintf("- key: %s\n  noise_strength: %.2f", key, strength[key]))
		}

		rl.DrawFPS(10, 10)
		rl.EndDrawing()
	}
}

// switchScene releases the current scene and restarts next from its
// initial state.
func switchScene(p *pool.Pool, current, next string) error {
	if err := p.ReleaseEngine(current); err != nil {
		return err
	}
	if err := p.ResetEngineToInitialState(next); err != nil {
		return err
	}
	_, err := p.GetEngine(next)
	return err
}

func toggleText(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
