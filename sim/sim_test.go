package sim

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drift/gpu"
	"github.com/pthm-cable/drift/kernels"
	"github.com/pthm-cable/drift/placement"
)

type failingLoader struct{}

func (failingLoader) Load(context.Context, string, string) (string, error) {
	return "", errors.New("program missing")
}

type textLoader string

func (l textLoader) Load(context.Context, string, string) (string, error) {
	return string(l), nil
}

type phaseRecorder struct {
	phases []string
}

func (r *phaseRecorder) StartPhase(name string) { r.phases = append(r.phases, name) }

func newDevice(t *testing.T) (*gpu.SoftwareDevice, *kernels.Registry) {
	t.Helper()
	dev := gpu.NewSoftwareDevice(1)
	t.Cleanup(dev.Release)
	return dev, kernels.NewRegistry(dev)
}

func sphereConfig() ParticleConfig {
	return ParticleConfig{
		Name:       "test",
		Cols:       8,
		Rows:       4,
		BaseRadius: 10,
		Variant:    kernels.VariantOrbit,
		Placement:  placement.Sphere,
	}
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func TestNewParticleEngine_Validation(t *testing.T) {
	dev, reg := newDevice(t)

	if _, err := NewParticleEngine(nil, reg, sphereConfig()); !errors.Is(err, ErrNilDevice) {
		t.Errorf("nil device: expected ErrNilDevice, got %v", err)
	}

	cfg := sphereConfig()
	cfg.Count = 31
	if _, err := NewParticleEngine(dev, reg, cfg); !errors.Is(err, ErrGridMismatch) {
		t.Errorf("count mismatch: expected ErrGridMismatch, got %v", err)
	}

	cfg = sphereConfig()
	e, err := NewParticleEngine(dev, reg, cfg)
	if err != nil {
		t.Fatalf("NewParticleEngine: %v", err)
	}
	if e.Config().Count != 32 {
		t.Errorf("defaulted count = %d, want 32", e.Config().Count)
	}
	if e.Status() != StatusPending {
		t.Errorf("status before Init = %s", e.Status())
	}
	if err := e.Tick(); !errors.Is(err, ErrNotReady) {
		t.Errorf("Tick before Init: expected ErrNotReady, got %v", err)
	}
}

func TestParticleEngine_InitPrimesSlotZero(t *testing.T) {
	dev, reg := newDevice(t)
	e, err := NewParticleEngine(dev, reg, sphereConfig())
	if err != nil {
		t.Fatal(err)
	}
	status, err := e.Init(context.Background())
	if err != nil || status != StatusReady {
		t.Fatalf("Init = %s, %v", status, err)
	}

	g, _ := e.SynthesizeInitialState()
	got, err := e.ReadPositions()
	if err != nil {
		t.Fatal(err)
	}
	if !floats.Equal(toFloat64(got), toFloat64(g.Positions)) {
		t.Error("slot 0 positions differ from synthesized state")
	}
	if e.position.Current() != 0 || e.color.Current() != 0 {
		t.Error("Init should leave slot 0 readable")
	}
}

func TestParticleEngine_FlipParity(t *testing.T) {
	dev, reg := newDevice(t)
	e, _ := NewParticleEngine(dev, reg, sphereConfig())
	if _, err := e.Init(context.Background()); err != nil {
		t.Fatal(err)
	}

	for n := 1; n <= 5; n++ {
		if err := e.Tick(Time(float64(n)/60), DeltaTime(1.0/60)); err != nil {
			t.Fatalf("Tick %d: %v", n, err)
		}
		if e.position.Current() != n%2 || e.color.Current() != n%2 {
			t.Errorf("after %d ticks current = (%d, %d), want %d", n, e.position.Current(), e.color.Current(), n%2)
		}
		if e.CurrentPositionBuffer() != e.position.Slot(n%2) {
			t.Errorf("after %d ticks CurrentPositionBuffer is not slot %d", n, n%2)
		}
	}
	if e.Ticks() != 5 {
		t.Errorf("Ticks = %d, want 5", e.Ticks())
	}
}

func TestParticleEngine_DegradedFallback(t *testing.T) {
	for name, loader := range map[string]KernelLoader{
		"load error": failingLoader{},
		"empty text": textLoader("   \n"),
		"no loader":  nil,
	} {
		t.Run(name, func(t *testing.T) {
			dev, _ := newDevice(t)
			e, err := NewParticleEngine(dev, loader, sphereConfig())
			if err != nil {
				t.Fatal(err)
			}
			status, err := e.Init(context.Background())
			if err != nil {
				t.Fatalf("Init returned error %v, want degraded", err)
			}
			if status != StatusDegraded {
				t.Fatalf("status = %s, want degraded", status)
			}

			before, _ := e.ReadPositions()
			if err := e.Tick(Time(1), DeltaTime(0.5)); err != nil {
				t.Fatalf("degraded Tick: %v", err)
			}
			after, _ := e.ReadPositions()
			if !floats.Equal(toFloat64(before), toFloat64(after)) {
				t.Error("pass-through position kernel changed positions")
			}

			colors, _ := e.ReadColors()
			for i := 0; i < len(after); i += 4 {
				want := gpu.FlatColor([4]float32{after[i], after[i+1], after[i+2], after[i+3]})
				got := [4]float32{colors[i], colors[i+1], colors[i+2], colors[i+3]}
				if got != want {
					t.Fatalf("texel %d color = %v, want flat %v", i/4, got, want)
				}
			}
		})
	}
}

func TestParticleEngine_InitCancelled(t *testing.T) {
	dev, reg := newDevice(t)
	e, _ := NewParticleEngine(dev, reg, sphereConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	status, err := e.Init(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if status != StatusPending {
		t.Errorf("status = %s, want pending", status)
	}
}

func TestParticleEngine_ExtraParameter(t *testing.T) {
	dev, reg := newDevice(t)
	e, _ := NewParticleEngine(dev, reg, sphereConfig())

	if !e.AddExtraParameter("pulse", gpu.Float(0.25)) {
		t.Fatal("first AddExtraParameter should register")
	}
	if e.AddExtraParameter("pulse", gpu.Float(9)) {
		t.Error("second AddExtraParameter should be a no-op")
	}
	if got := e.Params().Float("pulse"); got != 0.25 {
		t.Errorf("pulse = %v, want 0.25", got)
	}
	if e.AddExtraParameter(kernels.UTime, gpu.Float(3)) {
		t.Error("declaring a builtin uniform name should be a no-op")
	}

	if _, err := e.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := e.Tick(Extra("pulse", gpu.Float(0.75))); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := e.Params().Float("pulse"); got != 0.75 {
		t.Errorf("pulse after tick = %v, want 0.75", got)
	}
	if err := e.Tick(Extra("missing", gpu.Float(1))); !errors.Is(err, gpu.ErrUnknownParam) {
		t.Errorf("unregistered extra: expected ErrUnknownParam, got %v", err)
	}
}

func TestParticleEngine_TickRetainsUnspecifiedUniforms(t *testing.T) {
	dev, reg := newDevice(t)
	e, _ := NewParticleEngine(dev, reg, sphereConfig())
	if _, err := e.Init(context.Background()); err != nil {
		t.Fatal(err)
	}

	_ = e.Tick(Time(2), DeltaTime(0.1), Noise(0.5, 0.2))
	_ = e.Tick(Time(3))

	u := e.Uniforms()
	if u.Time != 3 || u.DeltaTime != 0.1 || u.NoiseScale != 0.5 || u.NoiseStrength != 0.2 {
		t.Errorf("uniforms = %+v", u)
	}
	if got := e.Params().Float(kernels.UDeltaTime); !floats.EqualApprox([]float64{float64(got)}, []float64{0.1}, 1e-7) {
		t.Errorf("deltaTime param = %v", got)
	}
}

func TestForces_Truncated(t *testing.T) {
	fs := make([]Force, MaxForces+3)
	for i := range fs {
		fs[i] = Force{Center: r3.Vec{X: float64(i)}, Strength: 1, Radius: 2}
	}
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer slog.SetDefault(prev)

	var u Uniforms
	Forces(fs...)(&u)
	if !strings.Contains(buf.String(), "forces truncated") {
		t.Errorf("expected a truncation debug log, got %q", buf.String())
	}
	if len(u.Forces) != MaxForces {
		t.Fatalf("len(Forces) = %d, want %d", len(u.Forces), MaxForces)
	}
	fs[0].Strength = 99
	if u.Forces[0].Strength != 1 {
		t.Error("Forces should copy its arguments")
	}
}

func TestParticleEngine_ForcesReachKernels(t *testing.T) {
	dev, reg := newDevice(t)
	e, _ := NewParticleEngine(dev, reg, sphereConfig())
	if _, err := e.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	err := e.Tick(Forces(
		Force{Center: r3.Vec{X: 1, Y: 2, Z: 3}, Strength: 4, Radius: 5, ReturnProbability: 0.5},
		Force{Center: r3.Vec{Y: -1}, Strength: -2, Radius: 1},
	))
	if err != nil {
		t.Fatal(err)
	}
	p := e.Params()
	if p.Int(kernels.UForceCount) != 2 {
		t.Errorf("forceCount = %d, want 2", p.Int(kernels.UForceCount))
	}
	centers := p.Slice(kernels.UForceCenters)
	if centers[0] != 1 || centers[1] != 2 || centers[2] != 3 || centers[4] != -1 {
		t.Errorf("forceCenters = %v", centers[:6])
	}
	if p.Slice(kernels.UForceReturnProbabilities)[0] != 0.5 {
		t.Error("return probability not uploaded")
	}

	_ = e.Tick(Forces())
	if p.Int(kernels.UForceCount) != 0 || p.Slice(kernels.UForceStrengths)[0] != 0 {
		t.Error("Forces() should clear descriptors")
	}
}

func TestParticleEngine_Reset(t *testing.T) {
	dev, reg := newDevice(t)
	cfg := sphereConfig()
	cfg.Variant = kernels.VariantTerrain
	cfg.Placement = placement.Terrain
	cfg.NoiseStrength = 1
	cfg.Options = placement.Options{NoiseScale: 0.2, TerrainScale: 16}
	e, err := NewParticleEngine(dev, reg, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	initial, _ := e.ReadPositions()

	buffers := dev.BufferCount()
	for i := 1; i <= 3; i++ {
		if err := e.Tick(Time(float64(i)), DeltaTime(0.5)); err != nil {
			t.Fatal(err)
		}
	}
	moved, _ := e.ReadPositions()
	if floats.Equal(toFloat64(initial), toFloat64(moved)) {
		t.Fatal("terrain kernel did not animate")
	}

	if err := e.ResetToInitialState(); err != nil {
		t.Fatalf("ResetToInitialState: %v", err)
	}
	reset, _ := e.ReadPositions()
	if !floats.Equal(toFloat64(initial), toFloat64(reset)) {
		t.Error("reset did not restore the initial positions")
	}
	if dev.BufferCount() != buffers {
		t.Errorf("reset reallocated: %d buffers, want %d", dev.BufferCount(), buffers)
	}
}

func TestParticleEngine_Upload(t *testing.T) {
	dev, reg := newDevice(t)
	e, _ := NewParticleEngine(dev, reg, sphereConfig())
	if _, err := e.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	_ = e.Tick(DeltaTime(0.1))

	n := 8 * 4 * gpu.Channels
	positions := make([]float32, n)
	positions[0] = 7
	if err := e.Upload(positions, nil); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	got, _ := e.ReadPositions()
	if got[0] != 7 || e.position.Current() != 0 {
		t.Errorf("upload not visible: x=%v current=%d", got[0], e.position.Current())
	}
	if e.color.Current() != 1 {
		t.Error("nil colors should leave the color pair untouched")
	}
	if err := e.Upload(positions[:4], nil); !errors.Is(err, gpu.ErrSizeMismatch) {
		t.Errorf("short upload: expected ErrSizeMismatch, got %v", err)
	}
}

func TestParticleEngine_Dispose(t *testing.T) {
	dev, reg := newDevice(t)
	cfg := sphereConfig()
	cfg.Placement = placement.Terrain
	e, _ := NewParticleEngine(dev, reg, cfg)
	if _, err := e.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if dev.BufferCount() != 5 {
		t.Fatalf("terrain engine holds %d buffers, want 5", dev.BufferCount())
	}

	e.SetActive(true)
	e.Dispose()
	e.Dispose()
	if dev.BufferCount() != 0 {
		t.Errorf("%d buffers left after Dispose", dev.BufferCount())
	}
	if e.Status() != StatusDisposed || e.Active() {
		t.Errorf("after Dispose status=%s active=%v", e.Status(), e.Active())
	}
	if err := e.Tick(); !errors.Is(err, ErrDisposed) {
		t.Errorf("Tick after Dispose: expected ErrDisposed, got %v", err)
	}
	if _, err := e.Init(context.Background()); !errors.Is(err, ErrDisposed) {
		t.Errorf("Init after Dispose: expected ErrDisposed, got %v", err)
	}
}

func TestParticleEngine_PhaseTimer(t *testing.T) {
	dev, reg := newDevice(t)
	e, _ := NewParticleEngine(dev, reg, sphereConfig())
	if _, err := e.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	rec := &phaseRecorder{}
	e.SetPhaseTimer(rec)
	_ = e.Tick()
	_, _ = e.ReadPositions()

	want := []string{PhasePosition, PhaseColor, PhaseReadback}
	if len(rec.phases) != len(want) {
		t.Fatalf("phases = %v, want %v", rec.phases, want)
	}
	for i := range want {
		if rec.phases[i] != want[i] {
			t.Errorf("phase %d = %s, want %s", i, rec.phases[i], want[i])
		}
	}
}

func newPhysics(t *testing.T, loader KernelLoader, dev *gpu.SoftwareDevice) *PhysicsEngine {
	t.Helper()
	e, err := NewPhysicsEngine(dev, loader, PhysicsConfig{Name: "physics", Cols: 1, Rows: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	return e
}

func TestPhysicsEngine_SemiImplicitEuler(t *testing.T) {
	dev, reg := newDevice(t)
	e := newPhysics(t, reg, dev)
	if e.Status() != StatusReady {
		t.Fatalf("status = %s", e.Status())
	}
	if err := e.InitializeParticleData([]float32{0, 0, 0, 1}, nil); err != nil {
		t.Fatal(err)
	}

	// The position pass must see the velocity written this tick.
	if err := e.Tick(Gravity(r3.Vec{Y: -3.5}), DeltaTime(1)); err != nil {
		t.Fatal(err)
	}
	vel, _ := e.ReadVelocityData()
	pos, _ := e.ReadPositionData()
	if vel[1] != -3.5 {
		t.Errorf("velocity y = %v, want -3.5", vel[1])
	}
	if pos[1] != -3.5 {
		t.Errorf("position y = %v, want -3.5", pos[1])
	}

	if err := e.Tick(); err != nil {
		t.Fatal(err)
	}
	vel, _ = e.ReadVelocityData()
	pos, _ = e.ReadPositionData()
	if vel[1] != -7 || pos[1] != -10.5 {
		t.Errorf("second tick v=%v p=%v, want -7 and -10.5", vel[1], pos[1])
	}
}

func TestPhysicsEngine_ResetAndData(t *testing.T) {
	dev, reg := newDevice(t)
	e := newPhysics(t, reg, dev)

	if err := e.ResetToInitialState(); !errors.Is(err, ErrNoInitialData) {
		t.Errorf("expected ErrNoInitialData, got %v", err)
	}
	if err := e.InitializeParticleData([]float32{1, 2}, nil); !errors.Is(err, ErrDataSize) {
		t.Errorf("expected ErrDataSize, got %v", err)
	}

	start := []float32{1, 2, 3, 1}
	if err := e.InitializeParticleData(start, []float32{0, 1, 0, 0}); err != nil {
		t.Fatal(err)
	}
	start[0] = 50
	_ = e.Tick(DeltaTime(1))
	_ = e.Tick(DeltaTime(1))

	if err := e.ResetToInitialState(); err != nil {
		t.Fatal(err)
	}
	pos, _ := e.ReadPositionData()
	vel, _ := e.ReadVelocityData()
	if pos[0] != 1 || pos[1] != 2 || vel[1] != 1 {
		t.Errorf("after reset pos=%v vel=%v", pos, vel)
	}
}

func TestPhysicsEngine_Degraded(t *testing.T) {
	dev, _ := newDevice(t)
	e := newPhysics(t, failingLoader{}, dev)
	if e.Status() != StatusDegraded {
		t.Fatalf("status = %s, want degraded", e.Status())
	}
	_ = e.InitializeParticleData([]float32{4, 5, 6, 1}, []float32{1, 1, 1, 0})
	if err := e.Tick(Gravity(r3.Vec{Y: -10}), DeltaTime(1)); err != nil {
		t.Fatal(err)
	}
	pos, _ := e.ReadPositionData()
	vel, _ := e.ReadVelocityData()
	if pos[0] != 4 || pos[1] != 5 || vel[0] != 1 || vel[1] != 1 {
		t.Errorf("degraded physics moved: pos=%v vel=%v", pos, vel)
	}
}

func TestPhysicsEngine_PhaseOrder(t *testing.T) {
	dev, reg := newDevice(t)
	e := newPhysics(t, reg, dev)
	rec := &phaseRecorder{}
	e.SetPhaseTimer(rec)
	_ = e.Tick()
	if len(rec.phases) != 2 || rec.phases[0] != PhaseVelocity || rec.phases[1] != PhasePosition {
		t.Errorf("phases = %v", rec.phases)
	}
}

func TestEngine_Interface(t *testing.T) {
	var _ Engine = (*ParticleEngine)(nil)
	var _ Engine = (*PhysicsEngine)(nil)
}

func TestReadState(t *testing.T) {
	dev, reg := newDevice(t)
	p, err := NewParticleEngine(dev, reg, sphereConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer p.Dispose()
	if _, err := p.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	s, err := ReadState(p)
	if err != nil {
		t.Fatal(err)
	}
	if s.Cols != 8 || s.Rows != 4 || len(s.Positions) != 8*4*gpu.Channels || len(s.Colors) != len(s.Positions) {
		t.Errorf("particle state: %dx%d, %d positions, %d colors", s.Cols, s.Rows, len(s.Positions), len(s.Colors))
	}
	if s.Velocities != nil {
		t.Error("particle state should have no velocities")
	}

	ph := newPhysics(t, reg, dev)
	_ = ph.InitializeParticleData([]float32{1, 2, 3, 1}, nil)
	s, err = ReadState(ph)
	if err != nil {
		t.Fatal(err)
	}
	if s.Colors != nil || len(s.Velocities) != 4 || s.Positions[1] != 2 {
		t.Errorf("physics state = %+v", s)
	}
}

func TestRestoreState(t *testing.T) {
	dev, reg := newDevice(t)
	p, err := NewParticleEngine(dev, reg, sphereConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer p.Dispose()
	if _, err := p.Init(context.Background()); err != nil {
		t.Fatal(err)
	}

	n := 8 * 4 * gpu.Channels
	st := State{Cols: 8, Rows: 4, Positions: make([]float32, n)}
	st.Positions[4] = 7
	if err := RestoreState(p, st); err != nil {
		t.Fatalf("RestoreState: %v", err)
	}
	got, err := p.ReadPositions()
	if err != nil {
		t.Fatal(err)
	}
	if got[4] != 7 || got[0] != 0 {
		t.Errorf("restored positions = %v", got[:8])
	}

	if err := RestoreState(p, State{Cols: 2, Rows: 2, Positions: make([]float32, 16)}); !errors.Is(err, ErrDataSize) {
		t.Errorf("expected ErrDataSize for grid mismatch, got %v", err)
	}

	ph := newPhysics(t, reg, dev)
	defer ph.Dispose()
	if err := RestoreState(ph, State{Cols: 1, Rows: 1, Positions: []float32{0, 5, 0, 1}}); err != nil {
		t.Fatal(err)
	}
	if err := ph.Tick(DeltaTime(0.1)); err != nil {
		t.Fatal(err)
	}
	if err := ph.ResetToInitialState(); err != nil {
		t.Fatal(err)
	}
	pos, err := ph.ReadPositionData()
	if err != nil {
		t.Fatal(err)
	}
	if pos[1] != 5 {
		t.Errorf("reset should return to restored state, got y=%v", pos[1])
	}
}
