// Package renderer implements gpu.Device on top of raylib: buffers are
// float render textures and kernels are GLSL fragment shaders drawn as a
// fullscreen quad into the output texture.
package renderer

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"unsafe"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/drift/gpu"
)

// Device errors.
var (
	ErrNoContext = errors.New("renderer: no raylib window or GL context")
	ErrCompile   = errors.New("renderer: shader failed to compile")
	ErrFramebuf  = errors.New("renderer: framebuffer incomplete")
)

// Sampler uniform names bound to kernel inputs, in order.
var samplerNames = [...]string{"texture0", "texture1", "texture2"}

type rlBuffer struct {
	width, height int
	format        gpu.Format
	target        rl.RenderTexture2D
}

type rlKernel struct {
	name    string
	shader  rl.Shader
	locs    map[string]int32
	builtin bool
}

func (k *rlKernel) Name() string { return k.name }

// loc returns the cached uniform location, -1 when the shader does not use
// the uniform.
func (k *rlKernel) loc(name string) int32 {
	if l, ok := k.locs[name]; ok {
		return l
	}
	l := rl.GetShaderLocation(k.shader, name)
	k.locs[name] = l
	return l
}

// Device is a gpu.Device backed by raylib. It must be created and used on
// the goroutine that opened the window.
type Device struct {
	buffers  map[gpu.Buffer]*rlBuffer
	next     gpu.Buffer
	builtins map[gpu.BuiltinKernel]*rlKernel
	released bool

	warnedDecode bool
}

// NewDevice creates a device bound to the current raylib window.
func NewDevice() (*Device, error) {
	if !rl.IsWindowReady() {
		return nil, ErrNoContext
	}
	return &Device{
		buffers:  make(map[gpu.Buffer]*rlBuffer),
		builtins: make(map[gpu.BuiltinKernel]*rlKernel),
	}, nil
}

// Name implements gpu.Device.
func (d *Device) Name() string { return "raylib" }

// BufferCount returns the number of live buffers.
func (d *Device) BufferCount() int { return len(d.buffers) }

// Allocate implements gpu.Device.
func (d *Device) Allocate(width, height int, format gpu.Format) (gpu.Buffer, error) {
	if d.released {
		return 0, gpu.ErrDeviceReleased
	}
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("%w: %dx%d", gpu.ErrBadDimensions, width, height)
	}

	zero := make([]float32, width*height*gpu.Channels)
	tex := loadTexture(zero, width, height, format)
	fbo := rl.LoadFramebuffer()
	rl.FramebufferAttach(fbo, tex.ID, rl.AttachmentColorChannel0, rl.AttachmentTexture2d, 0)
	if !rl.FramebufferComplete(fbo) {
		rl.UnloadFramebuffer(fbo)
		rl.UnloadTexture(tex)
		return 0, fmt.Errorf("%w: %dx%d %s", ErrFramebuf, width, height, format)
	}

	d.next++
	d.buffers[d.next] = &rlBuffer{
		width:  width,
		height: height,
		format: format,
		target: rl.RenderTexture2D{ID: fbo, Texture: tex},
	}
	return d.next, nil
}

// loadTexture creates a point-filtered texture holding texels.
func loadTexture(texels []float32, width, height int, format gpu.Format) rl.Texture2D {
	pf := rl.UncompressedR32g32b32a32
	if format == gpu.FormatRGBA8 {
		pf = rl.UncompressedR8g8b8a8
	}
	img := rl.NewImage(gpu.EncodeTexels(texels, format), int32(width), int32(height), 1, pf)
	tex := rl.LoadTextureFromImage(img)
	rl.SetTextureFilter(tex, rl.FilterPoint)
	return tex
}

// Upload implements gpu.Device. The data goes through a staging texture
// drawn into the buffer with the copy builtin.
func (d *Device) Upload(b gpu.Buffer, texels []float32) error {
	buf, err := d.buffer(b)
	if err != nil {
		return err
	}
	if want := buf.width * buf.height * gpu.Channels; len(texels) != want {
		return fmt.Errorf("%w: got %d floats, want %d", gpu.ErrSizeMismatch, len(texels), want)
	}
	k, err := d.builtin(gpu.BuiltinCopy)
	if err != nil {
		return err
	}
	staging := loadTexture(texels, buf.width, buf.height, buf.format)
	defer rl.UnloadTexture(staging)

	d.draw(k, nil, []rl.Texture2D{staging}, buf)
	return nil
}

// Read implements gpu.Device. Float textures are read back bit-exact; if the
// driver returns another pixel format the data is decoded from 8-bit color.
func (d *Device) Read(b gpu.Buffer) ([]float32, error) {
	buf, err := d.buffer(b)
	if err != nil {
		return nil, err
	}
	img := rl.LoadImageFromTexture(buf.target.Texture)
	defer rl.UnloadImage(img)

	n := buf.width * buf.height
	switch img.Format {
	case rl.UncompressedR32g32b32a32:
		raw := unsafe.Slice((*byte)(img.Data), n*gpu.Channels*4)
		return gpu.DecodeTexels(raw, buf.width, buf.height, gpu.FormatRGBA32F)
	case rl.UncompressedR8g8b8a8:
		raw := unsafe.Slice((*byte)(img.Data), n*gpu.Channels)
		return gpu.DecodeTexels(raw, buf.width, buf.height, gpu.FormatRGBA8)
	}

	if !d.warnedDecode {
		slog.Warn("readback format not native, decoding 8-bit colors", "format", int(img.Format))
		d.warnedDecode = true
	}
	colors := rl.LoadImageColors(img)
	defer rl.UnloadImageColors(colors)
	raw := make([]byte, 0, n*gpu.Channels)
	for _, c := range colors {
		raw = append(raw, c.R, c.G, c.B, c.A)
	}
	return gpu.DecodeTexels(raw, buf.width, buf.height, gpu.FormatRGBA8)
}

// Free implements gpu.Device.
func (d *Device) Free(b gpu.Buffer) {
	buf, ok := d.buffers[b]
	if !ok {
		return
	}
	rl.UnloadFramebuffer(buf.target.ID)
	rl.UnloadTexture(buf.target.Texture)
	delete(d.buffers, b)
}

// Compile implements gpu.Device. Text is a GLSL 330 fragment shader; the
// vertex stage is raylib's default.
func (d *Device) Compile(src gpu.Source) (gpu.Kernel, error) {
	if d.released {
		return nil, gpu.ErrDeviceReleased
	}
	if src.Text == "" {
		return nil, fmt.Errorf("%w: %s", gpu.ErrEmptySource, src.Name)
	}
	shader := rl.LoadShaderFromMemory("", src.Text)
	// raylib substitutes its default shader when compilation fails.
	if !rl.IsShaderValid(shader) || shader.ID == rl.GetShaderIdDefault() {
		return nil, fmt.Errorf("%w: %s", ErrCompile, src.Name)
	}
	return &rlKernel{name: src.Name, shader: shader, locs: make(map[string]int32)}, nil
}

// Builtin implements gpu.Device.
func (d *Device) Builtin(b gpu.BuiltinKernel) (gpu.Kernel, error) {
	return d.builtin(b)
}

func (d *Device) builtin(b gpu.BuiltinKernel) (*rlKernel, error) {
	if d.released {
		return nil, gpu.ErrDeviceReleased
	}
	if k, ok := d.builtins[b]; ok {
		return k, nil
	}
	text, ok := builtinSources[b]
	if !ok {
		return nil, fmt.Errorf("%w: %s", gpu.ErrUnknownKernel, b)
	}
	kern, err := d.Compile(gpu.Source{Name: b.String(), Text: text})
	if err != nil {
		return nil, err
	}
	k := kern.(*rlKernel)
	k.builtin = true
	d.builtins[b] = k
	return k, nil
}

// ReleaseKernel implements gpu.Device. Builtins live until Release.
func (d *Device) ReleaseKernel(k gpu.Kernel) {
	kern, ok := k.(*rlKernel)
	if !ok || kern.builtin {
		return
	}
	rl.UnloadShader(kern.shader)
}

// Run implements gpu.Device.
func (d *Device) Run(k gpu.Kernel, params *gpu.Params, inputs []gpu.Buffer, output gpu.Buffer) error {
	if d.released {
		return gpu.ErrDeviceReleased
	}
	kern, ok := k.(*rlKernel)
	if !ok || kern == nil {
		return gpu.ErrUnknownKernel
	}
	if len(inputs) > len(samplerNames) {
		return fmt.Errorf("renderer: %d inputs, at most %d supported", len(inputs), len(samplerNames))
	}
	out, err := d.buffer(output)
	if err != nil {
		return err
	}
	textures := make([]rl.Texture2D, len(inputs))
	for i, in := range inputs {
		if in == output {
			return fmt.Errorf("%w: input %d", gpu.ErrAliasedInput, i)
		}
		buf, err := d.buffer(in)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
		textures[i] = buf.target.Texture
	}

	d.draw(kern, params, textures, out)
	return nil
}

// draw renders one fullscreen pass of k into out. Input 0 is drawn as the
// quad texture so raylib binds it to texture0; the rest are bound as extra
// samplers. Blending is off so alpha is written unchanged.
func (d *Device) draw(k *rlKernel, params *gpu.Params, inputs []rl.Texture2D, out *rlBuffer) {
	w, h := float32(out.width), float32(out.height)

	rl.BeginTextureMode(out.target)
	rl.ClearBackground(rl.Blank)
	rl.DisableColorBlend()
	rl.BeginShaderMode(k.shader)

	if params != nil {
		params.Each(func(name string, v gpu.Value) {
			setUniform(k, name, v)
		})
	}
	for i := 1; i < len(inputs); i++ {
		if loc := k.loc(samplerNames[i]); loc >= 0 {
			rl.SetShaderValueTexture(k.shader, loc, inputs[i])
		}
	}

	dst := rl.Rectangle{Width: w, Height: h}
	if len(inputs) > 0 {
		in := inputs[0]
		// Render textures are stored bottom-up; a negative source height
		// keeps texel (x, y) of the input aligned with texel (x, y) of out.
		src := rl.Rectangle{Width: float32(in.Width), Height: -float32(in.Height)}
		rl.DrawTexturePro(in, src, dst, rl.Vector2{}, 0, rl.White)
	} else {
		rl.DrawRectangle(0, 0, int32(out.width), int32(out.height), rl.White)
	}

	rl.EndShaderMode()
	rl.EnableColorBlend()
	rl.EndTextureMode()
}

// setUniform uploads one parameter. Ints travel as float32 in gpu.Params and
// are reinterpreted here because raylib passes the raw words to GL.
func setUniform(k *rlKernel, name string, v gpu.Value) {
	loc := k.loc(name)
	if loc < 0 {
		return
	}
	data := v.Data()
	switch v.Kind() {
	case gpu.KindFloat:
		rl.SetShaderValue(k.shader, loc, data, rl.ShaderUniformFloat)
	case gpu.KindInt:
		bits := math.Float32frombits(uint32(int32(data[0])))
		rl.SetShaderValue(k.shader, loc, []float32{bits}, rl.ShaderUniformInt)
	case gpu.KindVec2:
		rl.SetShaderValue(k.shader, loc, data, rl.ShaderUniformVec2)
	case gpu.KindVec3:
		rl.SetShaderValue(k.shader, loc, data, rl.ShaderUniformVec3)
	case gpu.KindVec4:
		rl.SetShaderValue(k.shader, loc, data, rl.ShaderUniformVec4)
	case gpu.KindFloatArray:
		rl.SetShaderValueV(k.shader, loc, data, rl.ShaderUniformFloat, int32(len(data)))
	case gpu.KindVec3Array:
		rl.SetShaderValueV(k.shader, loc, data, rl.ShaderUniformVec3, int32(len(data)/3))
	}
}

// Texture returns the raylib texture backing b, for drawing previews.
func (d *Device) Texture(b gpu.Buffer) (rl.Texture2D, bool) {
	buf, ok := d.buffers[b]
	if !ok {
		return rl.Texture2D{}, false
	}
	return buf.target.Texture, true
}

// Release frees every buffer and builtin. The device is unusable afterwards.
func (d *Device) Release() {
	if d.released {
		return
	}
	for b := range d.buffers {
		d.Free(b)
	}
	for _, k := range d.builtins {
		rl.UnloadShader(k.shader)
	}
	d.builtins = nil
	d.released = true
}

func (d *Device) buffer(b gpu.Buffer) (*rlBuffer, error) {
	if d.released {
		return nil, gpu.ErrDeviceReleased
	}
	buf, ok := d.buffers[b]
	if !ok {
		return nil, fmt.Errorf("%w: %d", gpu.ErrUnknownBuffer, b)
	}
	return buf, nil
}
