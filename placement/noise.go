package placement

import "math"

// Hash3 maps a lattice point to [0,1). It is the sin-hash used by the
// device kernels, so host and device agree up to float precision.
func Hash3(x, y, z float64) float64 {
	s := math.Sin(x*127.1+y*311.7+z*74.7) * 43758.5453
	return s - math.Floor(s)
}

// ValueNoise3 returns coherent noise in [0,1): a Hermite-weighted trilinear
// interpolation of Hash3 over the integer lattice.
func ValueNoise3(x, y, z float64) float64 {
	ix, iy, iz := math.Floor(x), math.Floor(y), math.Floor(z)
	fx, fy, fz := x-ix, y-iy, z-iz

	u := fade(fx)
	v := fade(fy)
	w := fade(fz)

	c000 := Hash3(ix, iy, iz)
	c100 := Hash3(ix+1, iy, iz)
	c010 := Hash3(ix, iy+1, iz)
	c110 := Hash3(ix+1, iy+1, iz)
	c001 := Hash3(ix, iy, iz+1)
	c101 := Hash3(ix+1, iy, iz+1)
	c011 := Hash3(ix, iy+1, iz+1)
	c111 := Hash3(ix+1, iy+1, iz+1)

	return lerp(w,
		lerp(v, lerp(u, c000, c100), lerp(u, c010, c110)),
		lerp(v, lerp(u, c001, c101), lerp(u, c011, c111)))
}

// SignedNoise3 is ValueNoise3 remapped to [-1,1).
func SignedNoise3(x, y, z float64) float64 {
	return ValueNoise3(x, y, z)*2 - 1
}

func fade(t float64) float64 {
	return t * t * (3 - 2*t)
}

func lerp(t, a, b float64) float64 {
	return a + t*(b-a)
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
