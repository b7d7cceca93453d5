package renderer

import (
	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/drift/gpu"
)

// PointRenderer draws read-back particle texels as small cubes in 3D.
type PointRenderer struct {
	Camera rl.Camera3D
	Size   float32
	Orbit  bool
}

// NewPointRenderer creates a renderer whose camera looks at the origin from
// distance units away.
func NewPointRenderer(distance, size float32) *PointRenderer {
	return &PointRenderer{
		Camera: rl.Camera3D{
			Position:   rl.NewVector3(distance*0.6, distance*0.5, distance*0.6),
			Target:     rl.NewVector3(0, 0, 0),
			Up:         rl.NewVector3(0, 1, 0),
			Fovy:       45,
			Projection: rl.CameraPerspective,
		},
		Size:  size,
		Orbit: true,
	}
}

// Draw renders one cube per texel. colors may be nil, in which case each
// point gets the flat color derived from its position. Texels with a zero
// w component in colors are skipped.
func (r *PointRenderer) Draw(positions, colors []float32) {
	if r.Orbit {
		rl.UpdateCamera(&r.Camera, rl.CameraOrbital)
	}

	rl.BeginMode3D(r.Camera)
	rl.DrawGrid(20, 2)
	for i := 0; i+3 < len(positions); i += gpu.Channels {
		p := [4]float32{positions[i], positions[i+1], positions[i+2], positions[i+3]}
		var c [4]float32
		if colors != nil && i+3 < len(colors) {
			c = [4]float32{colors[i], colors[i+1], colors[i+2], colors[i+3]}
			if c[3] == 0 {
				continue
			}
		} else {
			c = gpu.FlatColor(p)
		}
		rl.DrawCube(rl.NewVector3(p[0], p[1], p[2]), r.Size, r.Size, r.Size, toColor(c))
	}
	rl.EndMode3D()
}

// DrawBuffer draws the raw contents of a device buffer as a flat image,
// useful for inspecting position and color textures directly.
func DrawBuffer(d *Device, b gpu.Buffer, dst rl.Rectangle) bool {
	tex, ok := d.Texture(b)
	if !ok {
		return false
	}
	// Flip: render textures are upside down (OpenGL convention).
	src := rl.Rectangle{Width: float32(tex.Width), Height: -float32(tex.Height)}
	rl.DrawTexturePro(tex, src, dst, rl.Vector2{}, 0, rl.White)
	return true
}

func toColor(c [4]float32) rl.Color {
	return rl.Color{R: unit8(c[0]), G: unit8(c[1]), B: unit8(c[2]), A: unit8(c[3])}
}

func unit8(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
