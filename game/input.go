package game

import (
	"log/slog"

	rl "github.com/gen2brain/raylib-go/raylib"
)

// handleInput processes keyboard input.
func (g *Game) handleInput() {
	if rl.IsKeyPressed(rl.KeySpace) {
		g.paused = !g.paused
	}

	// Next scene
	if rl.IsKeyPressed(rl.KeyN) {
		if err := g.NextScene(); err != nil {
			slog.Error("scene switch failed", "error", err)
		}
	}

	if rl.IsKeyPressed(rl.KeyR) {
		if err := g.ResetScene(); err != nil {
			slog.Error("scene reset failed", "scene", g.SceneKey(), "error", err)
		}
	}

	if rl.IsKeyPressed(rl.KeyS) && g.opts.SnapshotDir != "" {
		if _, err := g.SaveSnapshot(); err != nil {
			slog.Error("snapshot failed", "error", err)
		}
	}

	if rl.IsKeyPressed(rl.KeyO) && g.points != nil {
		g.points.Orbit = !g.points.Orbit
	}
}
