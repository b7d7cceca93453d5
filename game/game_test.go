package game

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pthm-cable/drift/config"
	"github.com/pthm-cable/drift/pool"
	"github.com/pthm-cable/drift/renderer"
	"github.com/pthm-cable/drift/sim"
)

const testConfig = `
frame:
  dt: 0.1
  scene_seconds: 0.3
log:
  stats_interval: 2
telemetry:
  perf_collector_window: 10
  dump_texels: true
scenes:
  - key: drift
    kind: particle
    variant: orbit
    placement: sphere
    cols: 4
    rows: 2
    base_radius: 5
    forces:
      - center: [6, 0, 0]
        strength: 1
        radius: 3
        orbit: 0.5
  - key: rain
    kind: physics
    variant: physics
    placement: sphere
    cols: 2
    rows: 2
    base_radius: 3
    physics:
      gravity: [0, -1, 0]
      ground_y: -50
`

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testConfig), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func newTestGame(t *testing.T, opts Options) *Game {
	t.Helper()
	if opts.Config == nil {
		opts.Config = loadTestConfig(t)
	}
	opts.Headless = true
	g, err := NewGameWithOptions(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewGameWithOptions: %v", err)
	}
	t.Cleanup(g.Unload)
	return g
}

func TestNewGame_UnknownScene(t *testing.T) {
	_, err := NewGameWithOptions(context.Background(), Options{
		Config:   loadTestConfig(t),
		Headless: true,
		Scene:    "missing",
	})
	if !errors.Is(err, pool.ErrUnknownKey) {
		t.Errorf("expected ErrUnknownKey, got %v", err)
	}
}

func TestNewGame_StartScene(t *testing.T) {
	g := newTestGame(t, Options{Scene: "rain"})
	if g.SceneKey() != "rain" {
		t.Errorf("SceneKey = %q, want rain", g.SceneKey())
	}
	if n := g.Pool().ActiveCount(); n != 1 {
		t.Errorf("ActiveCount = %d, want 1", n)
	}
}

func TestGame_Rotation(t *testing.T) {
	g := newTestGame(t, Options{})

	for i := 0; i < 3; i++ {
		if err := g.UpdateHeadless(); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
	if g.SceneKey() != "rain" {
		t.Fatalf("after 3 frames scene = %q, want rain", g.SceneKey())
	}
	if n := g.Pool().ActiveCount(); n != 1 {
		t.Errorf("ActiveCount = %d, want 1 after switch", n)
	}
	lease, _ := g.Pool().LeaseOf("drift")
	if lease.Released != 1 {
		t.Errorf("drift released %d times, want 1", lease.Released)
	}

	for i := 0; i < 3; i++ {
		if err := g.UpdateHeadless(); err != nil {
			t.Fatalf("frame %d: %v", i+3, err)
		}
	}
	if g.SceneKey() != "drift" {
		t.Errorf("after 6 frames scene = %q, want drift", g.SceneKey())
	}
	if g.Frame() != 6 {
		t.Errorf("Frame = %d, want 6", g.Frame())
	}
}

func TestGame_RotationDisabled(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.Frame.SceneSeconds = 0
	g := newTestGame(t, Options{Config: cfg})

	for i := 0; i < 10; i++ {
		if err := g.UpdateHeadless(); err != nil {
			t.Fatal(err)
		}
	}
	if g.SceneKey() != "drift" {
		t.Errorf("scene = %q, want drift", g.SceneKey())
	}
}

func TestGame_Paused(t *testing.T) {
	g := newTestGame(t, Options{})
	g.SetPaused(true)
	if err := g.UpdateHeadless(); err != nil {
		t.Fatal(err)
	}
	if g.Frame() != 0 {
		t.Errorf("paused game advanced to frame %d", g.Frame())
	}
}

func TestGame_SwitchScene_Resets(t *testing.T) {
	g := newTestGame(t, Options{})
	if err := g.SwitchScene(1); err != nil {
		t.Fatal(err)
	}
	lease, _ := g.Pool().LeaseOf("rain")
	if lease.Resets != 1 {
		t.Errorf("rain reset %d times, want 1", lease.Resets)
	}
	if lease.Acquired != 1 {
		t.Errorf("rain acquired %d times, want 1", lease.Acquired)
	}
}

func TestGame_TelemetryOutput(t *testing.T) {
	dir := t.TempDir()
	g := newTestGame(t, Options{OutputDir: dir})

	for i := 0; i < 2; i++ {
		if err := g.UpdateHeadless(); err != nil {
			t.Fatal(err)
		}
	}
	if len(g.State().Positions) != 4*2*4 {
		t.Errorf("state holds %d floats, want 32", len(g.State().Positions))
	}
	g.Unload()

	for _, name := range []string{"config.yaml", "perf.csv", "buffer_stats.csv", "drift_position_000002.csv", "drift_color_000002.csv"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "buffer_stats.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "drift,position") {
		t.Errorf("buffer_stats.csv lacks the position row:\n%s", data)
	}
}

func TestGame_ReadbackCadence(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.Frame.SceneSeconds = 0
	cfg.Frame.PreviewInterval = 3
	cfg.Telemetry.DumpTexels = false

	headless := newTestGame(t, Options{Config: cfg})
	for i := 0; i < 4; i++ {
		if err := headless.UpdateHeadless(); err != nil {
			t.Fatal(err)
		}
	}
	if headless.State().Positions != nil {
		t.Error("headless game without texel dumps should not read back")
	}

	g := newTestGame(t, Options{Config: cfg})
	g.points = renderer.NewPointRenderer(40, 0.25)

	// first returns the backing array of the latest readback.
	first := func() *float32 {
		t.Helper()
		if len(g.State().Positions) == 0 {
			t.Fatal("no readback yet")
		}
		return &g.State().Positions[0]
	}

	if err := g.UpdateHeadless(); err != nil {
		t.Fatal(err)
	}
	initial := first()

	if err := g.UpdateHeadless(); err != nil {
		t.Fatal(err)
	}
	if first() != initial {
		t.Error("frame 2 read back inside the preview interval")
	}

	if err := g.UpdateHeadless(); err != nil {
		t.Fatal(err)
	}
	if first() == initial {
		t.Error("frame 3 should refresh the point cloud")
	}

	if err := g.SwitchScene(1); err != nil {
		t.Fatal(err)
	}
	if err := g.UpdateHeadless(); err != nil {
		t.Fatal(err)
	}
	if len(g.State().Positions) != 2*2*4 {
		t.Errorf("after switch state holds %d floats, want 16", len(g.State().Positions))
	}
}

func TestGame_SnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := loadTestConfig(t)
	cfg.Frame.SceneSeconds = 0
	g := newTestGame(t, Options{Config: cfg, SnapshotDir: dir, Scene: "rain"})

	for i := 0; i < 4; i++ {
		if err := g.UpdateHeadless(); err != nil {
			t.Fatal(err)
		}
	}
	path, err := g.SaveSnapshot()
	if err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	e, _ := g.Pool().Engine("rain")
	saved, err := sim.ReadState(e)
	if err != nil {
		t.Fatal(err)
	}

	// Move on, then restore into a fresh game.
	for i := 0; i < 4; i++ {
		if err := g.UpdateHeadless(); err != nil {
			t.Fatal(err)
		}
	}

	g2 := newTestGame(t, Options{Config: loadTestConfig(t)})
	if err := g2.RestoreSnapshot(path); err != nil {
		t.Fatalf("RestoreSnapshot: %v", err)
	}
	if g2.SceneKey() != "rain" {
		t.Errorf("restored scene = %q, want rain", g2.SceneKey())
	}
	e2, _ := g2.Pool().Engine("rain")
	got, err := sim.ReadState(e2)
	if err != nil {
		t.Fatal(err)
	}
	for i := range saved.Positions {
		if got.Positions[i] != saved.Positions[i] || got.Velocities[i] != saved.Velocities[i] {
			t.Fatalf("texel float %d differs after restore", i)
		}
	}
}

func TestGame_SaveSnapshot_NoDir(t *testing.T) {
	g := newTestGame(t, Options{})
	if _, err := g.SaveSnapshot(); !errors.Is(err, ErrNoSnapshotDir) {
		t.Errorf("expected ErrNoSnapshotDir, got %v", err)
	}
}
