package kernels

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drift/gpu"
	"github.com/pthm-cable/drift/placement"
)

// reference returns the Go implementations of every variant stage. The GLSL
// programs under shaders/ are ports of these functions.
func reference() map[string]gpu.KernelFunc {
	return map[string]gpu.KernelFunc{
		Name(VariantOrbit, StagePosition):    orbitPosition,
		Name(VariantOrbit, StageColor):       orbitColor,
		Name(VariantTerrain, StagePosition):  terrainPosition,
		Name(VariantTerrain, StageColor):     terrainColor,
		Name(VariantManifold, StagePosition): manifoldPosition,
		Name(VariantManifold, StageColor):    manifoldColor,
		Name(VariantPhysics, StageVelocity):  physicsVelocity,
		Name(VariantPhysics, StagePosition):  physicsPosition,
	}
}

func vec(t [4]float32) r3.Vec {
	return r3.Vec{X: float64(t[0]), Y: float64(t[1]), Z: float64(t[2])}
}

func texel(v r3.Vec, w float32) [4]float32 {
	return [4]float32{float32(v.X), float32(v.Y), float32(v.Z), w}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func lerp(t, a, b float64) float64 {
	return a + t*(b-a)
}

// falloff returns the linear influence of a point force at pos: 1 at the
// center, 0 at and beyond radius.
func falloff(pos, center r3.Vec, radius float64) (r3.Vec, float64) {
	d := r3.Sub(pos, center)
	dist := r3.Norm(d)
	if radius <= 0 || dist >= radius || dist < 1e-9 {
		return r3.Vec{}, 0
	}
	return r3.Scale(1/dist, d), 1 - dist/radius
}

// forceField reads the force uniforms once per invocation.
type forceField struct {
	primaryCenter   r3.Vec
	primaryStrength float64
	primaryRadius   float64

	count     int
	centers   []float32
	strengths []float32
	radii     []float32
	returns   []float32
}

func readForces(p *gpu.Params) forceField {
	c := p.Vec3(UForceCenter)
	f := forceField{
		primaryCenter:   r3.Vec{X: float64(c[0]), Y: float64(c[1]), Z: float64(c[2])},
		primaryStrength: float64(p.Float(UForceStrength)),
		primaryRadius:   float64(p.Float(UForceRadius)),
		count:           p.Int(UForceCount),
		centers:         p.Slice(UForceCenters),
		strengths:       p.Slice(UForceStrengths),
		radii:           p.Slice(UForceRadii),
		returns:         p.Slice(UForceReturnProbabilities),
	}
	if f.count > len(f.strengths) {
		f.count = len(f.strengths)
	}
	if f.count > MaxForces {
		f.count = MaxForces
	}
	return f
}

func (f forceField) center(i int) r3.Vec {
	return r3.Vec{X: float64(f.centers[i*3]), Y: float64(f.centers[i*3+1]), Z: float64(f.centers[i*3+2])}
}

func (f forceField) radius(i int) float64 {
	if i < len(f.radii) {
		return float64(f.radii[i])
	}
	return 0
}

func (f forceField) returnProbability(i int) float64 {
	if i < len(f.returns) {
		return float64(f.returns[i])
	}
	return 0
}

// accel sums the radial push of the primary force and every descriptor.
func (f forceField) accel(pos r3.Vec) r3.Vec {
	var a r3.Vec
	if f.primaryStrength != 0 {
		dir, w := falloff(pos, f.primaryCenter, f.primaryRadius)
		a = r3.Add(a, r3.Scale(f.primaryStrength*w, dir))
	}
	for i := 0; i < f.count; i++ {
		dir, w := falloff(pos, f.center(i), f.radius(i))
		a = r3.Add(a, r3.Scale(float64(f.strengths[i])*w, dir))
	}
	return a
}

func orbitPosition(inv *gpu.Invocation) [4]float32 {
	p := inv.Params
	prev := inv.Input(0)
	pos := vec(prev)
	t := float64(p.Float(UTime))
	dt := float64(p.Float(UDeltaTime))

	dir := r3.Vec{Y: 1}
	if n := r3.Norm(pos); n > 1e-9 {
		dir = r3.Scale(1/n, pos)
	}
	ns := float64(p.Float(UNoiseScale))
	noise := placement.SignedNoise3(dir.X*ns+t*0.1, dir.Y*ns, dir.Z*ns)
	radius := float64(p.Float(UBaseRadius)) * (1 + float64(p.Float(UNoiseStrength))*noise)
	target := r3.Scale(radius, dir)

	next := r3.Add(pos, r3.Scale(clamp01(dt*4), r3.Sub(target, pos)))

	f := readForces(p)
	next = r3.Add(next, r3.Scale(dt, f.accel(next)))

	// A displaced particle snaps home with its force's return probability,
	// drawn from a per-texel, per-frame hash.
	frame := math.Floor(t * 60)
	for i := 0; i < f.count; i++ {
		rp := f.returnProbability(i)
		if rp <= 0 {
			continue
		}
		if _, w := falloff(next, f.center(i), f.radius(i)); w == 0 {
			continue
		}
		if placement.Hash3(float64(inv.Index()), frame, float64(i)) < rp {
			next = target
			break
		}
	}
	return texel(next, prev[3])
}

func orbitColor(inv *gpu.Invocation) [4]float32 {
	p := inv.Params
	pos := vec(inv.Input(0))
	prev := inv.Input(1)
	dt := float64(p.Float(UDeltaTime))

	t := 0.5
	if base := float64(p.Float(UBaseRadius)); base > 0 {
		t = clamp01((r3.Norm(pos)/base-1)*4 + 0.5)
	}
	target := [3]float64{lerp(t, 0.35, 1), lerp(t, 0.55, 0.6), lerp(t, 1, 0.35)}
	k := clamp01(dt * 2)

	var out [4]float32
	for c := 0; c < 3; c++ {
		out[c] = float32(lerp(k, float64(prev[c]), target[c]))
	}
	out[3] = 1
	return out
}

func terrainPosition(inv *gpu.Invocation) [4]float32 {
	p := inv.Params
	prev := inv.Input(0)
	off := inv.Input(2)
	t := float64(p.Float(UTime))
	ns := float64(p.Float(UNoiseScale))
	strength := float64(p.Float(UNoiseStrength))

	rest := float64(prev[3])
	x, z := float64(prev[0]), float64(prev[2])

	wave := placement.SignedNoise3(x*ns+float64(off[1]), z*ns+float64(off[2]), t*0.25) * strength
	bob := math.Sin(t+float64(off[0])*2*math.Pi) * strength * 0.1
	pos := r3.Vec{X: x, Y: rest + wave + bob, Z: z}

	// Forces dent or raise the surface; the plane coordinates stay fixed.
	pos.Y += readForces(p).accel(pos).Y
	return texel(pos, prev[3])
}

func terrainColor(inv *gpu.Invocation) [4]float32 {
	p := inv.Params
	pos := inv.Input(0)
	prev := inv.Input(1)
	dt := float64(p.Float(UDeltaTime))
	amplitude := float64(p.Float(UTerrainScale)) * 0.25

	target := placement.TerrainColor(float64(pos[1]), amplitude)
	k := clamp01(dt * 4)

	var out [4]float32
	for c := 0; c < 3; c++ {
		out[c] = float32(lerp(k, float64(prev[c]), float64(target[c])))
	}
	out[3] = 1
	return out
}

func manifoldScale(p *gpu.Params) float64 {
	if s := float64(p.Float(UManifoldScale)); s != 0 {
		return s
	}
	return 1
}

func manifoldPosition(inv *gpu.Invocation) [4]float32 {
	p := inv.Params
	u, v := placement.GridUV(inv.X, inv.Y, inv.Width, inv.Height)
	x, y, z := placement.ManifoldPoint(u, v, float64(p.Float(UTime)), manifoldScale(p), float64(p.Float(UManifoldComplexity)))
	pos := r3.Vec{X: x, Y: y, Z: z}
	pos = r3.Add(pos, readForces(p).accel(pos))
	return texel(pos, 1)
}

func manifoldColor(inv *gpu.Invocation) [4]float32 {
	u, v := placement.GridUV(inv.X, inv.Y, inv.Width, inv.Height)
	pos := inv.Input(0)
	return placement.ManifoldColor(u, v, float64(pos[1]), manifoldScale(inv.Params))
}

// physicsVelocity integrates acceleration into velocity. Inputs: velocity,
// position, rest position. Velocity comes first so the pass-through copy
// keeps it unchanged.
func physicsVelocity(inv *gpu.Invocation) [4]float32 {
	p := inv.Params
	prevVel := inv.Input(0)
	pos := vec(inv.Input(1))
	vel := vec(prevVel)
	rest := vec(inv.Input(2))
	dt := float64(p.Float(UDeltaTime))

	g := p.Vec3(UGravity)
	a := r3.Vec{X: float64(g[0]), Y: float64(g[1]), Z: float64(g[2])}

	k := float64(p.Float(USpringStiffness))
	c := float64(p.Float(USpringDamping))
	a = r3.Add(a, r3.Scale(-k, r3.Sub(pos, rest)))
	a = r3.Add(a, r3.Scale(-c, vel))

	if ground := float64(p.Float(UGroundY)); pos.Y < ground {
		a.Y += float64(p.Float(URestoreStiffness))*(ground-pos.Y) - float64(p.Float(URestoreDamping))*vel.Y
	}

	a = r3.Add(a, readForces(p).accel(pos))
	return texel(r3.Add(vel, r3.Scale(dt, a)), prevVel[3])
}

// physicsPosition advances position with the velocity written this tick.
// Inputs: position, new velocity.
func physicsPosition(inv *gpu.Invocation) [4]float32 {
	prev := inv.Input(0)
	vel := vec(inv.Input(1))
	dt := float64(inv.Params.Float(UDeltaTime))
	return texel(r3.Add(vec(prev), r3.Scale(dt, vel)), prev[3])
}
