package renderer

import (
	"errors"
	"strings"
	"testing"

	"github.com/pthm-cable/drift/gpu"
)

func TestBuiltinSources_Complete(t *testing.T) {
	for _, b := range []gpu.BuiltinKernel{gpu.BuiltinCopy, gpu.BuiltinFlatColor} {
		src, ok := builtinSources[b]
		if !ok {
			t.Errorf("%s has no shader source", b)
			continue
		}
		if !strings.HasPrefix(src, "#version 330") {
			t.Errorf("%s: missing version header", b)
		}
		if !strings.Contains(src, "texelFetch(texture0") {
			t.Errorf("%s: does not sample input 0", b)
		}
	}
}

func TestToColor(t *testing.T) {
	c := toColor([4]float32{-1, 0.5, 2, 1})
	if c.R != 0 || c.G != 128 || c.B != 255 || c.A != 255 {
		t.Errorf("toColor = %+v", c)
	}
}

func TestNewDevice_NoWindow(t *testing.T) {
	if _, err := NewDevice(); !errors.Is(err, ErrNoContext) {
		t.Errorf("expected ErrNoContext without a window, got %v", err)
	}
}
