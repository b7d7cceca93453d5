package game

import (
	"log/slog"

	"github.com/pthm-cable/drift/sim"
)

// rotate advances to the next scene once the current one has run for
// frame.scene_seconds. A zero period disables rotation.
func (g *Game) rotate() error {
	period := g.cfg.Frame.SceneSeconds
	if period <= 0 || len(g.cfg.Scenes) < 2 {
		return nil
	}
	// Half a frame of slack so float accumulation never delays a switch.
	if g.time-g.sceneStart+g.cfg.Frame.DT/2 < period {
		return nil
	}
	return g.NextScene()
}

// NextScene switches to the scene after the active one, wrapping around.
func (g *Game) NextScene() error {
	return g.SwitchScene((g.scene + 1) % len(g.cfg.Scenes))
}

// SwitchScene releases the active scene and activates scene i from its
// initial state. The released engine keeps its buffers in the pool.
func (g *Game) SwitchScene(i int) error {
	prev := g.SceneKey()
	next := g.cfg.Scenes[i].Key

	if i != g.scene {
		if err := g.pool.ReleaseEngine(prev); err != nil {
			return err
		}
	}
	if err := g.pool.ResetEngineToInitialState(next); err != nil {
		return err
	}
	if _, err := g.pool.GetEngine(next); err != nil {
		return err
	}

	g.scene = i
	g.sceneStart = g.time
	g.state = sim.State{}
	slog.Info("scene switched", "from", prev, "to", next, "frame", g.frame)
	return nil
}

// ResetScene restores the active scene to its initial state.
func (g *Game) ResetScene() error {
	g.sceneStart = g.time
	return g.pool.ResetEngineToInitialState(g.SceneKey())
}
