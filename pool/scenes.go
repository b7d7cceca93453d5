package pool

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drift/config"
	"github.com/pthm-cable/drift/sim"
)

// ScenesFromConfig converts the configured catalog into pool scenes.
func ScenesFromConfig(cfg *config.Config) []Scene {
	out := make([]Scene, 0, len(cfg.Scenes))
	for _, sc := range cfg.Scenes {
		out = append(out, SceneFromConfig(sc))
	}
	return out
}

// SceneFromConfig converts one configured scene.
func SceneFromConfig(sc config.SceneConfig) Scene {
	if sc.Kind == config.KindPhysics {
		g := config.Vec3(sc.Physics.Gravity)
		return Scene{
			Key:  sc.Key,
			Kind: sim.KindPhysics,
			Physics: sim.PhysicsConfig{
				Name:             sc.Key,
				Count:            sc.Count,
				Cols:             sc.Cols,
				Rows:             sc.Rows,
				ParticleSize:     sc.ParticleSize,
				BaseRadius:       sc.BaseRadius,
				Variant:          sc.Variant,
				Placement:        sc.Placement,
				Options:          sc.Options,
				Gravity:          r3.Vec{X: g[0], Y: g[1], Z: g[2]},
				SpringStiffness:  sc.Physics.SpringStiffness,
				SpringDamping:    sc.Physics.SpringDamping,
				RestoreStiffness: sc.Physics.RestoreStiffness,
				RestoreDamping:   sc.Physics.RestoreDamping,
				GroundY:          sc.Physics.GroundY,
			},
		}
	}
	return Scene{
		Key:  sc.Key,
		Kind: sim.KindParticle,
		Particle: sim.ParticleConfig{
			Name:          sc.Key,
			Count:         sc.Count,
			Cols:          sc.Cols,
			Rows:          sc.Rows,
			BaseRadius:    sc.BaseRadius,
			ParticleSize:  sc.ParticleSize,
			NoiseStrength: sc.NoiseStrength,
			Variant:       sc.Variant,
			Placement:     sc.Placement,
			Options:       sc.Options,
		},
	}
}

// ForcesAt evaluates the configured forces at time t. Orbiting forces
// rotate their center about the y axis by Orbit radians per second.
func ForcesAt(fcs []config.ForceConfig, t float64) []sim.Force {
	if len(fcs) == 0 {
		return nil
	}
	out := make([]sim.Force, 0, len(fcs))
	for _, fc := range fcs {
		c := config.Vec3(fc.Center)
		center := r3.Vec{X: c[0], Y: c[1], Z: c[2]}
		if fc.Orbit != 0 {
			s, co := math.Sincos(fc.Orbit * t)
			center = r3.Vec{
				X: center.X*co - center.Z*s,
				Y: center.Y,
				Z: center.X*s + center.Z*co,
			}
		}
		out = append(out, sim.Force{
			Center:            center,
			Strength:          fc.Strength,
			Radius:            fc.Radius,
			ReturnProbability: fc.ReturnProbability,
		})
	}
	return out
}

// FrameOptions builds the per-frame tick options for a scene: the clock,
// the configured forces, and the first force as the primary one.
func FrameOptions(sc config.SceneConfig, t, dt float64) []sim.Option {
	forces := ForcesAt(sc.Forces, t)
	opts := []sim.Option{sim.Time(t), sim.DeltaTime(dt), sim.Forces(forces...)}
	if len(forces) > 0 {
		opts = append(opts, sim.PointForce(forces[0]))
	}
	return opts
}
