package gpu

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DecodeTexels converts raw readback bytes into float texels. RGBA32F data is
// reinterpreted as little-endian float32 words; RGBA8 data is normalized to
// [0,1]. Backends use the RGBA8 path when the runtime cannot hand back the
// native float layout.
func DecodeTexels(raw []byte, width, height int, format Format) ([]float32, error) {
	n := width * height * Channels
	switch format {
	case FormatRGBA32F:
		if len(raw) < n*4 {
			return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrSizeMismatch, n*4, len(raw))
		}
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil
	case FormatRGBA8:
		if len(raw) < n {
			return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrSizeMismatch, n, len(raw))
		}
		out := make([]float32, n)
		for i := range out {
			out[i] = float32(raw[i]) / 255
		}
		return out, nil
	default:
		return nil, fmt.Errorf("gpu: cannot decode %s", format)
	}
}

// EncodeTexels is the inverse of DecodeTexels. RGBA8 values are clamped to
// [0,1] and rounded to the nearest byte.
func EncodeTexels(texels []float32, format Format) []byte {
	switch format {
	case FormatRGBA8:
		out := make([]byte, len(texels))
		for i, v := range texels {
			out[i] = quantize8(v)
		}
		return out
	default:
		out := make([]byte, len(texels)*4)
		for i, v := range texels {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		}
		return out
	}
}

func quantize8(v float32) byte {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return byte(v*255 + 0.5)
}

func sqrt32(v float32) float32 {
	return float32(math.Sqrt(float64(v)))
}
