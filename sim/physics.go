package sim

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drift/gpu"
	"github.com/pthm-cable/drift/kernels"
	"github.com/pthm-cable/drift/placement"
)

// PhysicsConfig describes a physics engine. Placement and BaseRadius only
// describe how a caller should seed it; the engine itself starts from the
// data passed to InitializeParticleData.
type PhysicsConfig struct {
	Name         string
	Count        int
	Cols, Rows   int
	ParticleSize float64
	BaseRadius   float64
	Variant      string
	Placement    placement.Strategy
	Options      placement.Options

	Gravity          r3.Vec
	SpringStiffness  float64
	SpringDamping    float64
	RestoreStiffness float64
	RestoreDamping   float64
	GroundY          float64
}

// PhysicsEngine integrates velocity and position with semi-implicit Euler:
// the velocity pass runs first and the position pass reads the velocity it
// just wrote.
type PhysicsEngine struct {
	id  uuid.UUID
	cfg PhysicsConfig
	dev gpu.Device

	loader KernelLoader
	log    *slog.Logger

	position *gpu.BufferPair
	velocity *gpu.BufferPair
	rest     gpu.Buffer

	params       *gpu.Params
	velocityPass *gpu.Pass
	positionPass *gpu.Pass

	initialPositions  []float32
	initialVelocities []float32

	uniforms Uniforms
	scratch  forceScratch

	status Status
	active bool
	ticks  uint64
	timer  PhaseTimer
}

// NewPhysicsEngine allocates the engine's buffers. Kernels are loaded by Init.
func NewPhysicsEngine(dev gpu.Device, loader KernelLoader, cfg PhysicsConfig) (*PhysicsEngine, error) {
	if dev == nil {
		return nil, ErrNilDevice
	}
	if cfg.Cols <= 0 || cfg.Rows <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrGridMismatch, cfg.Cols, cfg.Rows)
	}
	if cfg.Count == 0 {
		cfg.Count = cfg.Cols * cfg.Rows
	}
	if cfg.Count != cfg.Cols*cfg.Rows {
		return nil, fmt.Errorf("%w: %d != %dx%d", ErrGridMismatch, cfg.Count, cfg.Cols, cfg.Rows)
	}
	if cfg.Variant == "" {
		cfg.Variant = kernels.VariantPhysics
	}

	id := uuid.New()
	e := &PhysicsEngine{
		id:     id,
		cfg:    cfg,
		dev:    dev,
		loader: loader,
		log:    slog.With("engine", cfg.Name, "engine_id", id.String(), "variant", cfg.Variant),
		params: gpu.NewParams(),
		status: StatusPending,
	}

	var err error
	if e.position, err = gpu.NewBufferPair(dev, cfg.Name+"/position", cfg.Cols, cfg.Rows, gpu.FormatRGBA32F); err != nil {
		return nil, err
	}
	if e.velocity, err = gpu.NewBufferPair(dev, cfg.Name+"/velocity", cfg.Cols, cfg.Rows, gpu.FormatRGBA32F); err != nil {
		e.position.Free(dev)
		return nil, err
	}
	if e.rest, err = dev.Allocate(cfg.Cols, cfg.Rows, gpu.FormatRGBA32F); err != nil {
		e.position.Free(dev)
		e.velocity.Free(dev)
		return nil, fmt.Errorf("allocating rest positions: %w", err)
	}

	e.uniforms = Uniforms{
		Gravity:          cfg.Gravity,
		SpringStiffness:  cfg.SpringStiffness,
		SpringDamping:    cfg.SpringDamping,
		RestoreStiffness: cfg.RestoreStiffness,
		RestoreDamping:   cfg.RestoreDamping,
		GroundY:          cfg.GroundY,
	}
	declareCommon(e.params, cfg.Cols, cfg.Rows, cfg.ParticleSize)
	e.params.Declare(kernels.UGravity, gpu.Vec3(0, 0, 0))
	e.params.Declare(kernels.USpringStiffness, gpu.Float(0))
	e.params.Declare(kernels.USpringDamping, gpu.Float(0))
	e.params.Declare(kernels.URestoreStiffness, gpu.Float(0))
	e.params.Declare(kernels.URestoreDamping, gpu.Float(0))
	e.params.Declare(kernels.UGroundY, gpu.Float(0))
	if err := e.applyUniforms(); err != nil {
		e.Dispose()
		return nil, err
	}
	return e, nil
}

// ID returns the engine instance id used in logs and metrics.
func (e *PhysicsEngine) ID() uuid.UUID { return e.id }

// Name returns the configured engine name.
func (e *PhysicsEngine) Name() string { return e.cfg.Name }

// Kind implements Engine.
func (e *PhysicsEngine) Kind() Kind { return KindPhysics }

// Config returns the engine configuration.
func (e *PhysicsEngine) Config() PhysicsConfig { return e.cfg }

// Status implements Engine.
func (e *PhysicsEngine) Status() Status { return e.status }

// Ticks returns the number of completed ticks.
func (e *PhysicsEngine) Ticks() uint64 { return e.ticks }

// SetActive implements Engine.
func (e *PhysicsEngine) SetActive(active bool) { e.active = active }

// Active implements Engine.
func (e *PhysicsEngine) Active() bool { return e.active }

// SetPhaseTimer implements Engine.
func (e *PhysicsEngine) SetPhaseTimer(t PhaseTimer) { e.timer = t }

// Params exposes the kernel parameter set.
func (e *PhysicsEngine) Params() *gpu.Params { return e.params }

// Uniforms returns the retained tick inputs.
func (e *PhysicsEngine) Uniforms() Uniforms { return e.uniforms }

// Init loads the velocity and position programs. On failure both passes
// become identity copies and the engine reports StatusDegraded.
func (e *PhysicsEngine) Init(ctx context.Context) (Status, error) {
	if e.status == StatusDisposed {
		return e.status, ErrDisposed
	}
	if e.status.Usable() {
		return e.status, nil
	}

	ks, err := compileStages(ctx, e.dev, e.loader, e.cfg.Variant, kernels.StageVelocity, kernels.StagePosition)
	switch {
	case err != nil && isCancellation(ctx, err):
		return e.status, err
	case err != nil:
		e.log.Warn("kernel load failed, using pass-through kernels", "error", err)
		if e.velocityPass, err = gpu.NewFallbackPass(e.dev, kernels.StageVelocity, gpu.BuiltinCopy, e.params); err != nil {
			return e.status, err
		}
		if e.positionPass, err = gpu.NewFallbackPass(e.dev, kernels.StagePosition, gpu.BuiltinCopy, e.params); err != nil {
			return e.status, err
		}
		e.status = StatusDegraded
	default:
		e.velocityPass = gpu.NewPass(kernels.StageVelocity, ks[0], e.params)
		e.positionPass = gpu.NewPass(kernels.StagePosition, ks[1], e.params)
		e.status = StatusReady
	}
	e.log.Info("engine initialized", "status", e.status.String(), "count", e.cfg.Count)
	return e.status, nil
}

// InitializeParticleData uploads positions into slot 0 of the position pair
// and the rest buffer, and velocities (zeros when nil) into slot 0 of the
// velocity pair. A copy is kept for ResetToInitialState.
func (e *PhysicsEngine) InitializeParticleData(positions, velocities []float32) error {
	if e.status == StatusDisposed {
		return ErrDisposed
	}
	n := e.cfg.Cols * e.cfg.Rows * gpu.Channels
	if len(positions) != n {
		return fmt.Errorf("%w: %d positions, want %d", ErrDataSize, len(positions), n)
	}
	if velocities == nil {
		velocities = make([]float32, n)
	}
	if len(velocities) != n {
		return fmt.Errorf("%w: %d velocities, want %d", ErrDataSize, len(velocities), n)
	}

	e.initialPositions = append(e.initialPositions[:0], positions...)
	e.initialVelocities = append(e.initialVelocities[:0], velocities...)
	return e.upload()
}

func (e *PhysicsEngine) upload() error {
	e.phase(PhaseUpload)
	if err := e.position.Prime(e.dev, e.initialPositions); err != nil {
		return err
	}
	if err := e.velocity.Prime(e.dev, e.initialVelocities); err != nil {
		return err
	}
	if err := e.dev.Upload(e.rest, e.initialPositions); err != nil {
		return fmt.Errorf("uploading rest positions: %w", err)
	}
	return nil
}

// ResetToInitialState re-uploads the data last given to
// InitializeParticleData.
func (e *PhysicsEngine) ResetToInitialState() error {
	if e.status == StatusDisposed {
		return ErrDisposed
	}
	if e.initialPositions == nil {
		return ErrNoInitialData
	}
	return e.upload()
}

// AddExtraParameter registers an additional kernel parameter. It returns
// false if name already exists.
func (e *PhysicsEngine) AddExtraParameter(name string, initial gpu.Value) bool {
	return e.params.Declare(name, initial)
}

// Tick advances one step: velocity pass, flip, position pass, flip.
func (e *PhysicsEngine) Tick(opts ...Option) error {
	if !e.status.Usable() {
		if e.status == StatusDisposed {
			return ErrDisposed
		}
		return ErrNotReady
	}
	for _, opt := range opts {
		opt(&e.uniforms)
	}
	if err := e.applyUniforms(); err != nil {
		return err
	}

	e.phase(PhaseVelocity)
	if err := e.velocity.Write(e.dev, e.velocityPass, e.velocity.Read(), e.position.Read(), e.rest); err != nil {
		return err
	}
	e.velocity.Flip()

	e.phase(PhasePosition)
	if err := e.position.Write(e.dev, e.positionPass, e.position.Read(), e.velocity.Read()); err != nil {
		return err
	}
	e.position.Flip()

	e.ticks++
	return nil
}

func (e *PhysicsEngine) applyUniforms() error {
	u := &e.uniforms
	if err := writeCommon(e.params, u, &e.scratch); err != nil {
		return err
	}
	g := u.Gravity
	if err := e.params.SetComponents(kernels.UGravity, float32(g.X), float32(g.Y), float32(g.Z)); err != nil {
		return err
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{kernels.USpringStiffness, u.SpringStiffness},
		{kernels.USpringDamping, u.SpringDamping},
		{kernels.URestoreStiffness, u.RestoreStiffness},
		{kernels.URestoreDamping, u.RestoreDamping},
		{kernels.UGroundY, u.GroundY},
	} {
		if err := e.params.SetFloat(f.name, float32(f.v)); err != nil {
			return err
		}
	}
	return nil
}

// CurrentPositionBuffer implements Engine.
func (e *PhysicsEngine) CurrentPositionBuffer() gpu.Buffer { return e.position.Read() }

// CurrentVelocityBuffer returns the readable velocity buffer.
func (e *PhysicsEngine) CurrentVelocityBuffer() gpu.Buffer { return e.velocity.Read() }

// ReadPositionData reads back the current positions. Debug use only.
func (e *PhysicsEngine) ReadPositionData() ([]float32, error) {
	e.phase(PhaseReadback)
	return e.dev.Read(e.position.Read())
}

// ReadVelocityData reads back the current velocities. Debug use only.
func (e *PhysicsEngine) ReadVelocityData() ([]float32, error) {
	e.phase(PhaseReadback)
	return e.dev.Read(e.velocity.Read())
}

// Dispose frees the engine's buffers and kernels. Safe to call twice.
func (e *PhysicsEngine) Dispose() {
	if e.status == StatusDisposed {
		return
	}
	if e.velocityPass != nil {
		e.velocityPass.Release(e.dev)
	}
	if e.positionPass != nil {
		e.positionPass.Release(e.dev)
	}
	e.position.Free(e.dev)
	e.velocity.Free(e.dev)
	if e.rest != 0 {
		e.dev.Free(e.rest)
		e.rest = 0
	}
	e.status = StatusDisposed
	e.active = false
	e.log.Debug("engine disposed", "ticks", e.ticks)
}

func (e *PhysicsEngine) phase(name string) {
	if e.timer != nil {
		e.timer.StartPhase(name)
	}
}
