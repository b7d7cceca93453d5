package telemetry

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/floats/scalar"
)

func TestComputeBufferStats_Sphere(t *testing.T) {
	// Four points on a radius-2 sphere.
	texels := []float32{
		2, 0, 0, 1,
		-2, 0, 0, 1,
		0, 2, 0, 1,
		0, -2, 0, 1,
	}
	s := ComputeBufferStats(texels)

	if s.Texels != 4 || s.NonFinite != 0 {
		t.Fatalf("texels=%d non_finite=%d", s.Texels, s.NonFinite)
	}
	if s.MeanX != 0 || s.MeanY != 0 || s.MeanZ != 0 {
		t.Errorf("mean = (%v, %v, %v), want origin", s.MeanX, s.MeanY, s.MeanZ)
	}
	if s.MinY != -2 || s.MaxY != 2 {
		t.Errorf("y range = [%v, %v]", s.MinY, s.MaxY)
	}
	if !scalar.EqualWithinAbs(s.LenMean, 2, 1e-12) || s.LenStd != 0 {
		t.Errorf("length mean=%v std=%v, want 2 and 0", s.LenMean, s.LenStd)
	}
	if s.LenP10 != 2 || s.LenP90 != 2 {
		t.Errorf("length quantiles = %v..%v", s.LenP10, s.LenP90)
	}
}

func TestComputeBufferStats_SkipsNonFinite(t *testing.T) {
	nan := float32(math.NaN())
	texels := []float32{
		1, 1, 1, 1,
		nan, 0, 0, 1,
		3, 3, 3, 1,
	}
	s := ComputeBufferStats(texels)
	if s.NonFinite != 1 {
		t.Errorf("non_finite = %d, want 1", s.NonFinite)
	}
	if s.MeanY != 2 {
		t.Errorf("mean_y = %v, want 2", s.MeanY)
	}
	if !scalar.EqualWithinAbs(s.StdY, math.Sqrt2, 1e-12) {
		t.Errorf("std_y = %v, want sqrt(2)", s.StdY)
	}
}

func TestComputeBufferStats_Empty(t *testing.T) {
	s := ComputeBufferStats(nil)
	if s.Texels != 0 || s.LenMean != 0 {
		t.Errorf("empty stats = %+v", s)
	}
	one := ComputeBufferStats([]float32{0, 5, 0, 1})
	if one.MeanY != 5 || one.StdY != 0 {
		t.Errorf("single texel stats = %+v", one)
	}
}
