package game

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/pthm-cable/drift/sim"
	"github.com/pthm-cable/drift/telemetry"
)

// ErrNoSnapshotDir is returned by SaveSnapshot when no directory is set.
var ErrNoSnapshotDir = errors.New("game: no snapshot directory")

// statsDue reports whether the frame about to complete closes a stats
// interval.
func (g *Game) statsDue() bool {
	n := int64(g.cfg.Log.StatsInterval)
	return n > 0 && (g.frame+1)%n == 0
}

// flushTelemetry writes perf stats and, when enabled, buffer summaries and
// texel dumps once per stats interval.
func (g *Game) flushTelemetry() {
	n := int64(g.cfg.Log.StatsInterval)
	if n <= 0 || g.frame%n != 0 {
		return
	}

	scene := g.SceneKey()
	perfStats := g.perf.Stats()

	if g.opts.LogStats {
		perfStats.LogStats()
	}

	if err := g.output.WritePerf(perfStats, g.frame, scene); err != nil {
		slog.Error("failed to write perf", "error", err)
	}

	if !g.cfg.Telemetry.DumpTexels || len(g.state.Positions) == 0 {
		return
	}

	g.writeBuffer(scene, "position", g.state.Positions)
	if g.state.Colors != nil {
		g.writeBuffer(scene, "color", g.state.Colors)
	}
	if g.state.Velocities != nil {
		g.writeBuffer(scene, "velocity", g.state.Velocities)
	}
}

func (g *Game) writeBuffer(scene, buffer string, texels []float32) {
	bs := telemetry.ComputeBufferStats(texels)
	bs.Frame = g.frame
	bs.Scene = scene
	bs.Buffer = buffer

	if g.opts.LogStats {
		slog.Info("buffer stats", "stats", bs)
	}

	if err := g.output.WriteBufferStats(bs); err != nil {
		slog.Error("failed to write buffer stats", "error", err)
	}
	name := fmt.Sprintf("%s_%s_%06d", scene, buffer, g.frame)
	if _, err := g.output.WriteTexels(name, texels, g.state.Cols); err != nil {
		slog.Error("failed to write texels", "buffer", buffer, "error", err)
	}
}

// SaveSnapshot reads back the active scene and writes it to the snapshot
// directory.
func (g *Game) SaveSnapshot() (string, error) {
	if g.opts.SnapshotDir == "" {
		return "", ErrNoSnapshotDir
	}
	e, err := g.pool.Engine(g.SceneKey())
	if err != nil {
		return "", err
	}
	st, err := sim.ReadState(e)
	if err != nil {
		return "", err
	}
	snap := telemetry.NewSnapshot(g.SceneKey(), e.Kind(), g.frame, g.time-g.sceneStart, st)
	path, err := telemetry.SaveSnapshot(snap, g.opts.SnapshotDir)
	if err != nil {
		return "", err
	}
	slog.Info("snapshot saved", "scene", snap.Scene, "frame", snap.Frame, "path", path)
	return path, nil
}

// RestoreSnapshot loads a snapshot, switches to its scene and writes its
// buffers into the engine.
func (g *Game) RestoreSnapshot(path string) error {
	snap, err := telemetry.LoadSnapshot(path)
	if err != nil {
		return err
	}
	i, ok := g.cfg.Derived.SceneIndex[snap.Scene]
	if !ok {
		return fmt.Errorf("snapshot scene %q is not configured", snap.Scene)
	}
	if err := g.SwitchScene(i); err != nil {
		return err
	}
	e, err := g.pool.Engine(snap.Scene)
	if err != nil {
		return err
	}
	if err := sim.RestoreState(e, snap.State()); err != nil {
		return err
	}
	g.sceneStart = g.time - snap.Time
	slog.Info("snapshot restored", "scene", snap.Scene, "frame", snap.Frame)
	return nil
}
