package placement

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/floats/scalar"
)

func TestSynthesize_SphereExample(t *testing.T) {
	g, err := Synthesize(Sphere, 4, 2, 10, Options{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	// Row 0 sits on the south pole, row 1 on the north pole.
	south := g.Position(0, 0)
	north := g.Position(2, 1)
	want := [][2][4]float32{
		{south, {0, -10, 0, 1}},
		{north, {0, 10, 0, 1}},
	}
	for _, w := range want {
		for c := 0; c < 4; c++ {
			if !scalar.EqualWithinAbs(float64(w[0][c]), float64(w[1][c]), 1e-5) {
				t.Errorf("texel %v, want %v", w[0], w[1])
				break
			}
		}
	}
	if g.Color(1, 1) != DefaultTint {
		t.Errorf("sphere color = %v, want default tint", g.Color(1, 1))
	}
}

func TestSynthesize_SphereRadius(t *testing.T) {
	g, _ := Synthesize(Sphere, 16, 9, 3.5, Options{})
	for y := 0; y < g.Rows; y++ {
		for x := 0; x < g.Cols; x++ {
			p := g.Position(x, y)
			r := math.Sqrt(float64(p[0]*p[0] + p[1]*p[1] + p[2]*p[2]))
			if !scalar.EqualWithinAbs(r, 3.5, 1e-5) {
				t.Fatalf("texel (%d,%d) radius %v, want 3.5", x, y, r)
			}
		}
	}
}

func TestSynthesize_Deterministic(t *testing.T) {
	opts := Options{NoiseScale: 0.8, NoiseSeed: 7, TerrainScale: 20, ManifoldScale: 4, ManifoldComplexity: 2}
	for _, s := range []Strategy{Sphere, Terrain, Manifold} {
		a, err := Synthesize(s, 12, 8, 5, opts)
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		b, _ := Synthesize(s, 12, 8, 5, opts)
		for i := range a.Positions {
			if math.Abs(float64(a.Positions[i]-b.Positions[i])) > 1e-6 {
				t.Fatalf("%s: position component %d differs: %v vs %v", s, i, a.Positions[i], b.Positions[i])
			}
			if math.Abs(float64(a.Colors[i]-b.Colors[i])) > 1e-6 {
				t.Fatalf("%s: color component %d differs", s, i)
			}
		}
	}
}

func TestSynthesize_Terrain(t *testing.T) {
	opts := Options{NoiseScale: 0.3, NoiseSeed: 3, TerrainScale: 40, ZRange: 20}
	g, err := Synthesize(Terrain, 10, 5, 0, opts)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(g.Offsets) != len(g.Positions) {
		t.Fatalf("offsets len = %d, want %d", len(g.Offsets), len(g.Positions))
	}

	first, last := g.Position(0, 0), g.Position(9, 4)
	if first[0] != -20 || last[0] != 20 {
		t.Errorf("x span = [%v, %v], want [-20, 20]", first[0], last[0])
	}
	if first[2] != -10 || last[2] != 10 {
		t.Errorf("z span = [%v, %v], want [-10, 10]", first[2], last[2])
	}

	amplitude := 40 * 0.25
	for y := 0; y < g.Rows; y++ {
		for x := 0; x < g.Cols; x++ {
			p := g.Position(x, y)
			if p[1] != p[3] {
				t.Errorf("texel (%d,%d) rest height %v != height %v", x, y, p[3], p[1])
			}
			if math.Abs(float64(p[1])) > amplitude {
				t.Errorf("texel (%d,%d) height %v exceeds amplitude", x, y, p[1])
			}
		}
	}
	for i, o := range g.Offsets {
		if o < 0 || o >= 1 {
			t.Fatalf("offset %d = %v outside [0,1)", i, o)
		}
	}
}

func TestSynthesize_ManifoldMatchesClosedForm(t *testing.T) {
	opts := Options{ManifoldScale: 3, ManifoldComplexity: 2}
	g, err := Synthesize(Manifold, 6, 4, 0, opts)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	u, v := GridUV(5, 3, 6, 4)
	if u != 1 || v != 1 {
		t.Fatalf("GridUV corner = (%v, %v), want (1, 1)", u, v)
	}
	x, y, z := ManifoldPoint(u, v, 0, 3, 2)
	p := g.Position(5, 3)
	got := []float64{float64(p[0]), float64(p[1]), float64(p[2])}
	for i, w := range []float64{x, y, z} {
		if !scalar.EqualWithinAbs(got[i], w, 1e-5) {
			t.Errorf("component %d = %v, want %v", i, got[i], w)
		}
	}
	if g.Offsets != nil {
		t.Error("manifold grid should not carry offsets")
	}
}

func TestSynthesize_DegenerateAxis(t *testing.T) {
	for _, s := range []Strategy{Sphere, Terrain, Manifold} {
		g, err := Synthesize(s, 1, 1, 2, Options{})
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		for _, v := range g.Positions {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				t.Errorf("%s: non-finite position %v", s, g.Positions)
				break
			}
		}
	}
}

func TestSynthesize_Errors(t *testing.T) {
	if _, err := Synthesize(Sphere, 0, 4, 1, Options{}); !errors.Is(err, ErrBadGrid) {
		t.Errorf("expected ErrBadGrid, got %v", err)
	}
	if _, err := Synthesize(Strategy(9), 4, 4, 1, Options{}); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("expected ErrUnknownStrategy, got %v", err)
	}
}

func TestStrategy_Text(t *testing.T) {
	var s Strategy
	if err := s.UnmarshalText([]byte("Grid")); err != nil || s != Manifold {
		t.Errorf("grid alias: got %v, %v", s, err)
	}
	if err := s.UnmarshalText([]byte("torus")); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("expected ErrUnknownStrategy, got %v", err)
	}
	text, _ := Terrain.MarshalText()
	if string(text) != "terrain" {
		t.Errorf("MarshalText = %q", text)
	}
}

func TestHash3_Range(t *testing.T) {
	for i := 0; i < 1000; i++ {
		h := Hash3(float64(i), float64(i*7), 0.173)
		if h < 0 || h >= 1 {
			t.Fatalf("Hash3 = %v outside [0,1)", h)
		}
	}
	if Hash3(1, 2, 3) != Hash3(1, 2, 3) {
		t.Error("Hash3 not deterministic")
	}
}

func TestSpherePoint_Longitude(t *testing.T) {
	// Row 1 of 3 is the equator; with cols=4 column 1 is a quarter turn.
	x, y, z := SpherePoint(1, 1, 4, 3, 10)
	if !scalar.EqualWithinAbs(x, 0, 1e-9) || !scalar.EqualWithinAbs(y, 0, 1e-9) || !scalar.EqualWithinAbs(z, 10, 1e-9) {
		t.Errorf("quarter turn = (%v, %v, %v), want (0, 0, 10)", x, y, z)
	}
	x, _, z = SpherePoint(2, 1, 4, 3, 10)
	if !scalar.EqualWithinAbs(x, -10, 1e-9) || !scalar.EqualWithinAbs(z, 0, 1e-9) {
		t.Errorf("half turn = (%v, %v), want (-10, 0)", x, z)
	}
}
