// Package gpu defines the capability seam between the simulation engines and a
// concrete graphics backend, plus the ping-pong buffer and pass abstractions
// built on top of it.
package gpu

import (
	"errors"
	"fmt"
)

// Errors returned by devices and the helpers in this package.
var (
	ErrUnknownBuffer  = errors.New("gpu: unknown buffer")
	ErrSizeMismatch   = errors.New("gpu: texel data does not match buffer size")
	ErrEmptySource    = errors.New("gpu: empty kernel source")
	ErrUnknownKernel  = errors.New("gpu: unknown kernel")
	ErrAliasedInput   = errors.New("gpu: pass input aliases its output")
	ErrDeviceReleased = errors.New("gpu: device released")
	ErrBadDimensions  = errors.New("gpu: buffer dimensions must be positive")
)

// Channels is the number of float channels per texel.
const Channels = 4

// Format is the storage format of a buffer.
type Format uint8

const (
	// FormatRGBA32F stores four 32-bit floats per texel.
	FormatRGBA32F Format = iota
	// FormatRGBA8 stores four normalized bytes per texel.
	FormatRGBA8
)

// String returns the string representation of Format.
func (f Format) String() string {
	switch f {
	case FormatRGBA32F:
		return "rgba32f"
	case FormatRGBA8:
		return "rgba8"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Buffer is an opaque handle to a device-resident W×H image buffer.
// The zero value is never a valid buffer.
type Buffer uint32

// Source is the text of a kernel program as handed to Device.Compile.
type Source struct {
	Name string
	Text string
}

// Kernel is a compiled kernel program owned by a device.
type Kernel interface {
	Name() string
}

// BuiltinKernel identifies one of the minimal kernels every device provides.
type BuiltinKernel uint8

const (
	// BuiltinCopy writes input 0 to the output unchanged.
	BuiltinCopy BuiltinKernel = iota
	// BuiltinFlatColor derives a flat color from the position in input 0.
	BuiltinFlatColor
)

// String returns the string representation of BuiltinKernel.
func (b BuiltinKernel) String() string {
	switch b {
	case BuiltinCopy:
		return "builtin/copy"
	case BuiltinFlatColor:
		return "builtin/flat_color"
	default:
		return fmt.Sprintf("builtin/%d", int(b))
	}
}

// Device is the only seam to a concrete graphics backend. All calls are made
// from the single goroutine that owns the device; passes complete in
// submission order.
type Device interface {
	// Name identifies the backend in logs.
	Name() string

	// Allocate creates a zero-filled width×height buffer.
	Allocate(width, height int, format Format) (Buffer, error)
	// Upload replaces the contents of b with texels (len = w*h*Channels).
	Upload(b Buffer, texels []float32) error
	// Read copies the contents of b back to host memory.
	Read(b Buffer) ([]float32, error)
	// Free releases b. Freeing an unknown buffer is a no-op.
	Free(b Buffer)

	// Compile builds a kernel from program text.
	Compile(src Source) (Kernel, error)
	// Builtin returns one of the minimal fallback kernels.
	Builtin(b BuiltinKernel) (Kernel, error)
	// ReleaseKernel frees a compiled kernel.
	ReleaseKernel(k Kernel)

	// Run executes k once per texel of output, sampling inputs in order.
	Run(k Kernel, params *Params, inputs []Buffer, output Buffer) error
}

// FlatColor is the color the flat-color builtin derives from a position:
// the direction of p remapped from [-1,1] into [0.25,1] with opaque alpha.
func FlatColor(p [4]float32) [4]float32 {
	var out [4]float32
	var n float32
	for i := 0; i < 3; i++ {
		n += p[i] * p[i]
	}
	if n > 0 {
		inv := 1 / sqrt32(n)
		for i := 0; i < 3; i++ {
			out[i] = 0.625 + 0.375*p[i]*inv
		}
	} else {
		out[0], out[1], out[2] = 0.625, 0.625, 0.625
	}
	out[3] = 1
	return out
}
