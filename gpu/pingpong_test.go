package gpu

import (
	"errors"
	"testing"
)

func newTestPair(t *testing.T, dev *SoftwareDevice) *BufferPair {
	t.Helper()
	bp, err := NewBufferPair(dev, "test", 2, 2, FormatRGBA32F)
	if err != nil {
		t.Fatalf("NewBufferPair: %v", err)
	}
	return bp
}

func TestBufferPair_FlipParity(t *testing.T) {
	dev := NewSoftwareDevice(1)
	defer dev.Release()
	bp := newTestPair(t, dev)

	if bp.Current() != 0 {
		t.Fatalf("fresh pair current = %d, want 0", bp.Current())
	}
	for n := 1; n <= 7; n++ {
		bp.Flip()
		if bp.Current() != n%2 {
			t.Errorf("after %d flips current = %d, want %d", n, bp.Current(), n%2)
		}
		if bp.Read() == bp.Target() {
			t.Errorf("after %d flips read and target alias", n)
		}
	}
}

func TestBufferPair_WriteThenFlip(t *testing.T) {
	dev := NewSoftwareDevice(1)
	defer dev.Release()
	dev.Register("inc", func(inv *Invocation) [4]float32 {
		v := inv.Input(0)
		return [4]float32{v[0] + 1, v[1], v[2], v[3]}
	})
	k, err := dev.Compile(Source{Name: "inc", Text: "inc"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	bp := newTestPair(t, dev)
	pass := NewPass("inc", k, nil)

	for i := 0; i < 3; i++ {
		if err := bp.Write(dev, pass, bp.Read()); err != nil {
			t.Fatalf("Write: %v", err)
		}
		bp.Flip()
	}

	data, err := dev.Read(bp.Read())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if data[0] != 3 {
		t.Errorf("after 3 increments texel x = %v, want 3", data[0])
	}
}

func TestBufferPair_RejectsAliasedInput(t *testing.T) {
	dev := NewSoftwareDevice(1)
	defer dev.Release()
	k, _ := dev.Builtin(BuiltinCopy)
	bp := newTestPair(t, dev)
	pass := NewPass("copy", k, nil)

	err := bp.Write(dev, pass, bp.Read(), bp.Target())
	if !errors.Is(err, ErrAliasedInput) {
		t.Fatalf("expected ErrAliasedInput, got %v", err)
	}
	if bp.Current() != 0 {
		t.Error("rejected write must not change current")
	}
}

func TestBufferPair_PrimeResetsCurrent(t *testing.T) {
	dev := NewSoftwareDevice(1)
	defer dev.Release()
	bp := newTestPair(t, dev)
	bp.Flip()

	texels := make([]float32, 2*2*Channels)
	texels[0] = 42
	if err := bp.Prime(dev, texels); err != nil {
		t.Fatalf("Prime: %v", err)
	}
	if bp.Current() != 0 {
		t.Errorf("Prime left current = %d, want 0", bp.Current())
	}
	data, _ := dev.Read(bp.Read())
	if data[0] != 42 {
		t.Errorf("primed texel = %v, want 42", data[0])
	}

	if err := bp.Prime(dev, texels[:4]); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("short prime: expected ErrSizeMismatch, got %v", err)
	}
}

func TestBufferPair_Free(t *testing.T) {
	dev := NewSoftwareDevice(1)
	defer dev.Release()
	bp := newTestPair(t, dev)
	if dev.BufferCount() != 2 {
		t.Fatalf("BufferCount = %d, want 2", dev.BufferCount())
	}
	bp.Free(dev)
	bp.Free(dev)
	if dev.BufferCount() != 0 {
		t.Errorf("BufferCount after Free = %d, want 0", dev.BufferCount())
	}
}
