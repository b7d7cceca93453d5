package sim

import (
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drift/gpu"
	"github.com/pthm-cable/drift/kernels"
)

// MaxForces is the number of simultaneous force descriptors a tick accepts.
const MaxForces = kernels.MaxForces

// Force is a point influence applied by the kernels.
type Force struct {
	Center            r3.Vec
	Strength          float64
	Radius            float64
	ReturnProbability float64
}

// Uniforms is the retained per-tick input of an engine. Options passed to
// Tick overwrite fields; everything else keeps its previous value.
type Uniforms struct {
	Time      float64
	DeltaTime float64

	NoiseScale    float64
	NoiseStrength float64
	BaseRadius    float64

	Gravity          r3.Vec
	SpringStiffness  float64
	SpringDamping    float64
	RestoreStiffness float64
	RestoreDamping   float64
	GroundY          float64

	// Force is the single primary influence.
	Force Force
	// Forces holds up to MaxForces descriptors.
	Forces []Force

	extras map[string]gpu.Value
}

// Option updates part of an engine's uniforms for the next tick.
type Option func(*Uniforms)

// Time sets the animation clock.
func Time(t float64) Option { return func(u *Uniforms) { u.Time = t } }

// DeltaTime sets the integration step.
func DeltaTime(dt float64) Option { return func(u *Uniforms) { u.DeltaTime = dt } }

// Noise sets noise frequency and amplitude.
func Noise(scale, strength float64) Option {
	return func(u *Uniforms) {
		u.NoiseScale = scale
		u.NoiseStrength = strength
	}
}

// NoiseStrength sets only the noise amplitude.
func NoiseStrength(strength float64) Option {
	return func(u *Uniforms) { u.NoiseStrength = strength }
}

// BaseRadius sets the sphere radius particles relax toward.
func BaseRadius(r float64) Option { return func(u *Uniforms) { u.BaseRadius = r } }

// Gravity sets the constant acceleration.
func Gravity(g r3.Vec) Option { return func(u *Uniforms) { u.Gravity = g } }

// Spring sets the pull toward the rest position.
func Spring(stiffness, damping float64) Option {
	return func(u *Uniforms) {
		u.SpringStiffness = stiffness
		u.SpringDamping = damping
	}
}

// Restore sets the ground-plane penalty spring.
func Restore(stiffness, damping float64) Option {
	return func(u *Uniforms) {
		u.RestoreStiffness = stiffness
		u.RestoreDamping = damping
	}
}

// GroundY sets the ground plane height.
func GroundY(y float64) Option { return func(u *Uniforms) { u.GroundY = y } }

// PointForce sets the primary force.
func PointForce(f Force) Option { return func(u *Uniforms) { u.Force = f } }

// Forces replaces the force descriptors. Descriptors beyond MaxForces are
// dropped; calling it with no arguments clears them.
func Forces(fs ...Force) Option {
	if n := len(fs); n > MaxForces {
		slog.Debug("forces truncated", "given", n, "max", MaxForces)
		fs = fs[:MaxForces]
	}
	cp := make([]Force, len(fs))
	copy(cp, fs)
	return func(u *Uniforms) { u.Forces = cp }
}

// Extra updates a parameter registered with AddExtraParameter.
func Extra(name string, v gpu.Value) Option {
	return func(u *Uniforms) {
		if u.extras == nil {
			u.extras = make(map[string]gpu.Value)
		}
		u.extras[name] = v
	}
}

// forceScratch avoids per-tick allocation when flattening descriptors.
type forceScratch struct {
	centers   [MaxForces * 3]float32
	strengths [MaxForces]float32
	radii     [MaxForces]float32
	returns   [MaxForces]float32
}

// declareCommon declares the parameters both engine variants consume.
func declareCommon(p *gpu.Params, cols, rows int, particleSize float64) {
	p.Declare(kernels.UTime, gpu.Float(0))
	p.Declare(kernels.UDeltaTime, gpu.Float(0))
	p.Declare(kernels.UResolution, gpu.Vec2(float32(cols), float32(rows)))
	p.Declare(kernels.UParticleSize, gpu.Float(float32(particleSize)))

	p.Declare(kernels.UForceCenter, gpu.Vec3(0, 0, 0))
	p.Declare(kernels.UForceStrength, gpu.Float(0))
	p.Declare(kernels.UForceRadius, gpu.Float(0))
	p.Declare(kernels.UForceCount, gpu.Int(0))
	p.Declare(kernels.UForceCenters, gpu.Vec3Array(MaxForces))
	p.Declare(kernels.UForceStrengths, gpu.FloatArray(make([]float32, MaxForces)))
	p.Declare(kernels.UForceRadii, gpu.FloatArray(make([]float32, MaxForces)))
	p.Declare(kernels.UForceReturnProbabilities, gpu.FloatArray(make([]float32, MaxForces)))
}

// writeCommon pushes time, forces and pending extras into p.
func writeCommon(p *gpu.Params, u *Uniforms, s *forceScratch) error {
	if err := p.SetFloat(kernels.UTime, float32(u.Time)); err != nil {
		return err
	}
	if err := p.SetFloat(kernels.UDeltaTime, float32(u.DeltaTime)); err != nil {
		return err
	}

	c := u.Force.Center
	if err := p.SetComponents(kernels.UForceCenter, float32(c.X), float32(c.Y), float32(c.Z)); err != nil {
		return err
	}
	if err := p.SetFloat(kernels.UForceStrength, float32(u.Force.Strength)); err != nil {
		return err
	}
	if err := p.SetFloat(kernels.UForceRadius, float32(u.Force.Radius)); err != nil {
		return err
	}

	*s = forceScratch{}
	for i, f := range u.Forces {
		s.centers[i*3] = float32(f.Center.X)
		s.centers[i*3+1] = float32(f.Center.Y)
		s.centers[i*3+2] = float32(f.Center.Z)
		s.strengths[i] = float32(f.Strength)
		s.radii[i] = float32(f.Radius)
		s.returns[i] = float32(f.ReturnProbability)
	}
	if err := p.SetComponents(kernels.UForceCount, float32(len(u.Forces))); err != nil {
		return err
	}
	if err := p.SetComponents(kernels.UForceCenters, s.centers[:]...); err != nil {
		return err
	}
	if err := p.SetComponents(kernels.UForceStrengths, s.strengths[:]...); err != nil {
		return err
	}
	if err := p.SetComponents(kernels.UForceRadii, s.radii[:]...); err != nil {
		return err
	}
	if err := p.SetComponents(kernels.UForceReturnProbabilities, s.returns[:]...); err != nil {
		return err
	}

	pending := u.extras
	u.extras = nil
	for name, v := range pending {
		if err := p.Set(name, v); err != nil {
			return fmt.Errorf("extra parameter: %w", err)
		}
	}
	return nil
}
