package telemetry

import (
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/drift/gpu"
)

// BufferStats summarizes an RGBA texel buffer read back from a device.
// Channels 0..2 are treated as a position (or color) vector.
type BufferStats struct {
	Frame  int64  `csv:"frame"`
	Scene  string `csv:"scene"`
	Buffer string `csv:"buffer"`
	Texels int    `csv:"texels"`

	MeanX float64 `csv:"mean_x"`
	MeanY float64 `csv:"mean_y"`
	MeanZ float64 `csv:"mean_z"`
	StdX  float64 `csv:"std_x"`
	StdY  float64 `csv:"std_y"`
	StdZ  float64 `csv:"std_z"`
	MinY  float64 `csv:"min_y"`
	MaxY  float64 `csv:"max_y"`

	// Distribution of vector length
	LenMean float64 `csv:"len_mean"`
	LenStd  float64 `csv:"len_std"`
	LenP10  float64 `csv:"len_p10"`
	LenP50  float64 `csv:"len_p50"`
	LenP90  float64 `csv:"len_p90"`

	// Texels with a NaN or Inf component, excluded from the statistics
	NonFinite int `csv:"non_finite"`
}

// ComputeBufferStats computes per-axis and length statistics over texels.
func ComputeBufferStats(texels []float32) BufferStats {
	n := len(texels) / gpu.Channels
	s := BufferStats{Texels: n}

	xs := make([]float64, 0, n)
	ys := make([]float64, 0, n)
	zs := make([]float64, 0, n)
	lens := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		x := float64(texels[i*gpu.Channels])
		y := float64(texels[i*gpu.Channels+1])
		z := float64(texels[i*gpu.Channels+2])
		if !finite(x) || !finite(y) || !finite(z) {
			s.NonFinite++
			continue
		}
		xs = append(xs, x)
		ys = append(ys, y)
		zs = append(zs, z)
		lens = append(lens, math.Sqrt(x*x+y*y+z*z))
	}
	if len(xs) == 0 {
		return s
	}

	s.MeanX, s.StdX = meanStd(xs)
	s.MeanY, s.StdY = meanStd(ys)
	s.MeanZ, s.StdZ = meanStd(zs)
	s.MinY = floats.Min(ys)
	s.MaxY = floats.Max(ys)

	s.LenMean, s.LenStd = meanStd(lens)
	sort.Float64s(lens)
	s.LenP10 = stat.Quantile(0.1, stat.Empirical, lens, nil)
	s.LenP50 = stat.Quantile(0.5, stat.Empirical, lens, nil)
	s.LenP90 = stat.Quantile(0.9, stat.Empirical, lens, nil)
	return s
}

// meanStd returns the mean and the sample standard deviation, 0 for a
// single value.
func meanStd(x []float64) (float64, float64) {
	if len(x) < 2 {
		return x[0], 0
	}
	return stat.MeanStdDev(x, nil)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// LogValue implements slog.LogValuer for structured logging.
func (s BufferStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("buffer", s.Buffer),
		slog.Int("texels", s.Texels),
		slog.Float64("mean_y", s.MeanY),
		slog.Float64("min_y", s.MinY),
		slog.Float64("max_y", s.MaxY),
		slog.Float64("len_mean", s.LenMean),
		slog.Float64("len_p50", s.LenP50),
		slog.Int("non_finite", s.NonFinite),
	)
}
