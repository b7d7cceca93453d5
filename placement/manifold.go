package placement

import "math"

// ManifoldPoint evaluates the time-parameterized surface family at
// (u, v) ∈ [-1,1]². The manifold reference kernel animates the same
// function, so the t=0 prime and the first device frame line up.
func ManifoldPoint(u, v, t, scale, complexity float64) (x, y, z float64) {
	k := complexity
	if k < 1 {
		k = 1
	}
	x = scale * (u + 0.25*math.Sin(math.Pi*k*v+t))
	y = scale * 0.5 * math.Sin(math.Pi*k*u+0.5*t) * math.Cos(math.Pi*v-0.3*t)
	z = scale * (v + 0.25*math.Cos(math.Pi*k*u-t))
	return x, y, z
}

// ManifoldColor shades a manifold texel from its parameters and height.
func ManifoldColor(u, v, y, scale float64) [4]float32 {
	h := 0.5
	if scale != 0 {
		h = clamp01(0.5 + y/scale)
	}
	return [4]float32{
		float32(0.5 + 0.5*u),
		float32(0.3 + 0.7*h),
		float32(0.5 + 0.5*v),
		1,
	}
}

// GridUV maps texel (x, y) of a cols×rows grid into [-1,1]².
func GridUV(x, y, cols, rows int) (float64, float64) {
	return 2*float64(x)/span(cols) - 1, 2*float64(y)/span(rows) - 1
}

// span is the normalizing denominator for an n-wide axis.
func span(n int) float64 {
	if n <= 1 {
		return 1
	}
	return float64(n - 1)
}
