// Package game hosts the frame loop: it owns the device, the engine pool and
// the telemetry sinks, rotates through the configured scenes and draws the
// active one.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/drift/config"
	"github.com/pthm-cable/drift/gpu"
	"github.com/pthm-cable/drift/kernels"
	"github.com/pthm-cable/drift/pool"
	"github.com/pthm-cable/drift/renderer"
	"github.com/pthm-cable/drift/sim"
	"github.com/pthm-cable/drift/telemetry"
)

// Options configures game initialization.
type Options struct {
	Config      *config.Config // nil = config.Cfg()
	Headless    bool           // software device, no drawing
	Scene       string         // starting scene key, empty = first in catalog
	LogStats    bool           // log perf stats every stats interval
	OutputDir   string         // CSV output directory, empty = disabled
	SnapshotDir string         // engine snapshot directory, empty = disabled
	MetricsAddr string         // overrides telemetry.metrics_addr
	ShaderDir   string         // overrides device.shader_dir
}

// Game holds the frame loop state.
type Game struct {
	cfg  *config.Config
	opts Options

	dev     gpu.Device
	release func()
	pool    *pool.Pool

	// Telemetry
	perf    *telemetry.PerfCollector
	metrics *telemetry.Metrics
	output  *telemetry.OutputManager
	server  *http.Server

	// Rotation
	scene      int
	sceneStart float64

	// State
	frame  int64
	time   float64
	paused bool

	// Rendering
	points *renderer.PointRenderer
	state  sim.State
}

// NewGameWithOptions creates the device and the pool, initializes every
// pooled engine and activates the starting scene.
func NewGameWithOptions(ctx context.Context, opts Options) (*Game, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Cfg()
	}

	start := 0
	if opts.Scene != "" {
		i, ok := cfg.Derived.SceneIndex[opts.Scene]
		if !ok {
			return nil, fmt.Errorf("%w: %q", pool.ErrUnknownKey, opts.Scene)
		}
		start = i
	}

	g := &Game{
		cfg:     cfg,
		opts:    opts,
		perf:    telemetry.NewPerfCollector(cfg.Telemetry.PerfCollectorWindow),
		metrics: telemetry.NewMetrics(),
		scene:   start,
	}
	g.perf.Observer = g.metrics.ObservePerf

	dev, loader, release, err := newDevice(cfg, opts)
	if err != nil {
		return nil, err
	}
	g.dev = dev
	g.release = release

	output, err := telemetry.NewOutputManager(opts.OutputDir)
	if err != nil {
		g.release()
		return nil, err
	}
	g.output = output
	if err := g.output.WriteConfig(cfg); err != nil {
		slog.Error("failed to write config snapshot", "error", err)
	}

	p, err := pool.New(dev, loader, pool.ScenesFromConfig(cfg),
		pool.WithMetrics(g.metrics),
		pool.WithPhaseTimer(g.perf),
	)
	if err != nil {
		g.Unload()
		return nil, err
	}
	g.pool = p

	initStart := time.Now()
	if err := p.Init(ctx); err != nil {
		g.Unload()
		return nil, fmt.Errorf("initializing pool: %w", err)
	}
	slog.Info("pool ready",
		"device", dev.Name(),
		"scenes", len(cfg.Scenes),
		"elapsed", time.Since(initStart),
	)

	if _, err := p.GetEngine(g.SceneKey()); err != nil {
		g.Unload()
		return nil, err
	}

	addr := cfg.Telemetry.MetricsAddr
	if opts.MetricsAddr != "" {
		addr = opts.MetricsAddr
	}
	if addr != "" {
		g.server = g.metrics.NewServer(addr)
		go func(s *http.Server) {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "addr", s.Addr, "error", err)
			}
		}(g.server)
		slog.Info("serving metrics", "addr", addr)
	}

	if !opts.Headless {
		g.points = renderer.NewPointRenderer(40, 0.25)
	}

	return g, nil
}

// newDevice picks the raylib device when a window is open and configured,
// and the software device with the reference kernels otherwise.
func newDevice(cfg *config.Config, opts Options) (gpu.Device, sim.KernelLoader, func(), error) {
	if !opts.Headless && cfg.Device.Backend == "raylib" {
		d, err := renderer.NewDevice()
		if err != nil {
			return nil, nil, nil, err
		}
		dir := cfg.Device.ShaderDir
		if opts.ShaderDir != "" {
			dir = opts.ShaderDir
		}
		return d, kernels.DirLoader{Root: dir}, d.Release, nil
	}
	d := gpu.NewSoftwareDevice(cfg.Device.Workers)
	return d, kernels.NewRegistry(d), d.Release, nil
}

// Unload releases the pool, the device and the telemetry sinks.
func (g *Game) Unload() {
	if g.pool != nil {
		g.pool.Dispose()
	}
	if g.release != nil {
		g.release()
		g.release = nil
	}
	if g.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := g.server.Shutdown(ctx); err != nil {
			slog.Error("metrics server shutdown", "error", err)
		}
		cancel()
		g.server = nil
	}
	if g.output != nil {
		if err := g.output.Close(); err != nil {
			slog.Error("failed to close output", "error", err)
		}
		g.output = nil
	}
}

// UpdateHeadless advances one frame without input or drawing.
func (g *Game) UpdateHeadless() error {
	return g.step(g.readbackDue())
}

// Update handles input and advances one frame.
func (g *Game) Update() error {
	g.handleInput()
	g.perf.RecordFrame()
	return g.step(g.readbackDue())
}

// readbackDue reports whether this frame copies the active scene to the
// host: texel dumps on the stats interval, and the point cloud every
// preview interval and after a scene switch.
func (g *Game) readbackDue() bool {
	if g.cfg.Telemetry.DumpTexels && g.statsDue() {
		return true
	}
	if g.points == nil {
		return false
	}
	if g.state.Positions == nil {
		return true
	}
	n := int64(g.cfg.Frame.PreviewInterval)
	return n > 0 && (g.frame+1)%n == 0
}

// step ticks the active engines with the current scene's frame options.
func (g *Game) step(readback bool) error {
	if g.paused {
		return nil
	}

	sc := g.cfg.Scenes[g.scene]
	local := g.time - g.sceneStart

	g.perf.StartTick()
	err := g.pool.TickActive(pool.FrameOptions(sc, local, g.cfg.Frame.DT)...)
	if err == nil && readback {
		err = g.readState()
	}
	g.perf.EndTick()
	if err != nil {
		return fmt.Errorf("frame %d: %w", g.frame, err)
	}

	g.frame++
	g.time += g.cfg.Frame.DT

	g.flushTelemetry()
	return g.rotate()
}

// readState copies the active scene's buffers to the host.
func (g *Game) readState() error {
	e, err := g.pool.Engine(g.SceneKey())
	if err != nil {
		return err
	}
	st, err := sim.ReadState(e)
	if err != nil {
		return err
	}
	g.state = st
	return nil
}

// Draw renders the active scene.
func (g *Game) Draw() {
	rl.BeginDrawing()
	rl.ClearBackground(rl.Color{R: 12, G: 14, B: 20, A: 255})

	if g.points != nil {
		g.points.Draw(g.state.Positions, g.state.Colors)
	}

	if d, ok := g.dev.(*renderer.Device); ok {
		if e, err := g.pool.Engine(g.SceneKey()); err == nil {
			renderer.DrawBuffer(d, e.CurrentPositionBuffer(), rl.Rectangle{X: 10, Y: 40, Width: 128, Height: 64})
		}
	}

	g.drawStatus()
	rl.EndDrawing()
}

func (g *Game) drawStatus() {
	e, err := g.pool.Engine(g.SceneKey())
	status := "unknown"
	if err == nil {
		status = e.Status().String()
	}
	line := fmt.Sprintf("%s [%s] frame %d", g.SceneKey(), status, g.frame)
	if g.paused {
		line += " (paused)"
	}
	rl.DrawText(line, 10, 10, 20, rl.RayWhite)
	rl.DrawFPS(int32(g.cfg.Device.WindowWidth)-90, 10)
}

// Frame returns the number of completed frames.
func (g *Game) Frame() int64 { return g.frame }

// Time returns the simulated time in seconds.
func (g *Game) Time() float64 { return g.time }

// SceneKey returns the key of the active scene.
func (g *Game) SceneKey() string { return g.cfg.Scenes[g.scene].Key }

// Pool returns the engine pool.
func (g *Game) Pool() *pool.Pool { return g.pool }

// State returns the most recent readback of the active scene.
func (g *Game) State() sim.State { return g.state }

// SetPaused pauses or resumes the frame loop.
func (g *Game) SetPaused(paused bool) { g.paused = paused }
