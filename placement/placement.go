// Package placement synthesizes deterministic initial particle states.
//
// Every function here is pure: the same strategy, grid size and options
// always produce the same grids, which lets the host prime buffer slot 0
// and the device kernels continue from exactly that state.
package placement

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Errors returned by Synthesize.
var (
	ErrBadGrid         = errors.New("placement: grid dimensions must be positive")
	ErrUnknownStrategy = errors.New("placement: unknown strategy")
)

// Strategy selects how particles are initially placed.
type Strategy uint8

const (
	Sphere Strategy = iota
	Terrain
	Manifold
)

// String returns the string representation of Strategy.
func (s Strategy) String() string {
	switch s {
	case Sphere:
		return "sphere"
	case Terrain:
		return "terrain"
	case Manifold:
		return "manifold"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy parses a strategy name. "grid" is accepted for Manifold.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sphere":
		return Sphere, nil
	case "terrain":
		return Terrain, nil
	case "manifold", "grid":
		return Manifold, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// DefaultTint is the sphere color when Options.Tint is unset.
var DefaultTint = [4]float32{0.55, 0.75, 1, 1}

// Options holds the strategy-specific placement parameters.
type Options struct {
	NoiseScale         float64   `yaml:"noise_scale"`
	NoiseSeed          int64     `yaml:"noise_seed"`
	TerrainScale       float64   `yaml:"terrain_scale"`
	ZRange             float64   `yaml:"z_range"`
	ManifoldScale      float64   `yaml:"manifold_scale"`
	ManifoldComplexity float64   `yaml:"manifold_complexity"`
	Tint               []float32 `yaml:"tint,omitempty"`
}

// tint returns the configured tint padded to RGBA.
func (o Options) tint() [4]float32 {
	if len(o.Tint) == 0 {
		return DefaultTint
	}
	t := [4]float32{0, 0, 0, 1}
	copy(t[:], o.Tint)
	return t
}

// Grid is a synthesized initial state: RGBA float texels laid out row-major.
type Grid struct {
	Cols, Rows int
	Positions  []float32
	Colors     []float32
	// Offsets holds per-texel animation phases (terrain only, nil otherwise).
	Offsets []float32
}

func newGrid(cols, rows int) *Grid {
	n := cols * rows * 4
	return &Grid{
		Cols:      cols,
		Rows:      rows,
		Positions: make([]float32, n),
		Colors:    make([]float32, n),
	}
}

// Position returns texel (x, y) of the position grid.
func (g *Grid) Position(x, y int) [4]float32 {
	i := (y*g.Cols + x) * 4
	return [4]float32{g.Positions[i], g.Positions[i+1], g.Positions[i+2], g.Positions[i+3]}
}

// Color returns texel (x, y) of the color grid.
func (g *Grid) Color(x, y int) [4]float32 {
	i := (y*g.Cols + x) * 4
	return [4]float32{g.Colors[i], g.Colors[i+1], g.Colors[i+2], g.Colors[i+3]}
}

// Synthesize builds the initial grids for a strategy.
func Synthesize(s Strategy, cols, rows int, baseRadius float64, opts Options) (*Grid, error) {
	if cols <= 0 || rows <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrBadGrid, cols, rows)
	}
	switch s {
	case Sphere:
		return sphere(cols, rows, baseRadius, opts), nil
	case Terrain:
		return terrain(cols, rows, opts), nil
	case Manifold:
		return manifold(cols, rows, opts), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, s)
	}
}

// SpherePoint maps texel (x, y) to the sphere of the given radius. Columns
// wrap around the full circle, so x = cols would land on x = 0; rows span
// pole to pole inclusive.
func SpherePoint(x, y, cols, rows int, radius float64) (float64, float64, float64) {
	// Longitude divides by cols, not cols-1: texel (2, y) of 4 columns sits at π.
	lon := 2 * math.Pi * float64(x) / float64(max(cols, 1))
	lat := math.Pi * (float64(y)/span(rows) - 0.5)
	return radius * math.Cos(lat) * math.Cos(lon),
		radius * math.Sin(lat),
		radius * math.Cos(lat) * math.Sin(lon)
}

func sphere(cols, rows int, radius float64, opts Options) *Grid {
	g := newGrid(cols, rows)
	tint := opts.tint()
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			px, py, pz := SpherePoint(x, y, cols, rows, radius)
			i := (y*cols + x) * 4
			g.Positions[i] = float32(px)
			g.Positions[i+1] = float32(py)
			g.Positions[i+2] = float32(pz)
			g.Positions[i+3] = 1
			copy(g.Colors[i:i+4], tint[:])
		}
	}
	return g
}

// TerrainExtent returns the x and z spans of the terrain plane.
func TerrainExtent(opts Options) (float64, float64) {
	w := opts.TerrainScale
	if w == 0 {
		w = 1
	}
	d := opts.ZRange
	if d == 0 {
		d = w
	}
	return w, d
}

// TerrainHeight returns the rest height at plane coordinates (x, z).
func TerrainHeight(x, z float64, opts Options) float64 {
	w, _ := TerrainExtent(opts)
	s := opts.NoiseScale
	if s == 0 {
		s = 1
	}
	return SignedNoise3(x*s, z*s, float64(opts.NoiseSeed)*0.173) * w * 0.25
}

// TerrainColor ramps from deep blue at the lowest heights to pale sand at
// the highest, given the terrain amplitude.
func TerrainColor(height, amplitude float64) [4]float32 {
	t := 0.5
	if amplitude != 0 {
		t = clamp01(0.5 + 0.5*height/amplitude)
	}
	return [4]float32{
		float32(lerp(t, 0.10, 0.90)),
		float32(lerp(t, 0.30, 0.88)),
		float32(lerp(t, 0.60, 0.75)),
		1,
	}
}

func terrain(cols, rows int, opts Options) *Grid {
	g := newGrid(cols, rows)
	g.Offsets = make([]float32, cols*rows*4)
	w, d := TerrainExtent(opts)
	amplitude := w * 0.25
	seed := float64(opts.NoiseSeed)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			px := (float64(x)/span(cols) - 0.5) * w
			pz := (float64(y)/span(rows) - 0.5) * d
			h := TerrainHeight(px, pz, opts)

			i := (y*cols + x) * 4
			g.Positions[i] = float32(px)
			g.Positions[i+1] = float32(h)
			g.Positions[i+2] = float32(pz)
			g.Positions[i+3] = float32(h)

			c := TerrainColor(h, amplitude)
			copy(g.Colors[i:i+4], c[:])

			fx, fy := float64(x), float64(y)
			g.Offsets[i] = float32(Hash3(fx, fy, seed))
			g.Offsets[i+1] = float32(Hash3(fy, fx, seed+1))
			g.Offsets[i+2] = float32(Hash3(fx+fy, seed, 1))
			g.Offsets[i+3] = 0
		}
	}
	return g
}

func manifold(cols, rows int, opts Options) *Grid {
	g := newGrid(cols, rows)
	scale := opts.ManifoldScale
	if scale == 0 {
		scale = 1
	}
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			u, v := GridUV(x, y, cols, rows)
			px, py, pz := ManifoldPoint(u, v, 0, scale, opts.ManifoldComplexity)

			i := (y*cols + x) * 4
			g.Positions[i] = float32(px)
			g.Positions[i+1] = float32(py)
			g.Positions[i+2] = float32(pz)
			g.Positions[i+3] = 1

			c := ManifoldColor(u, v, py, scale)
			copy(g.Colors[i:i+4], c[:])
		}
	}
	return g
}
