package sim

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pthm-cable/drift/gpu"
	"github.com/pthm-cable/drift/kernels"
	"github.com/pthm-cable/drift/placement"
)

// ParticleConfig describes a particle engine.
type ParticleConfig struct {
	Name          string
	Count         int
	Cols, Rows    int
	BaseRadius    float64
	ParticleSize  float64
	NoiseStrength float64
	Variant       string
	Placement     placement.Strategy
	Options       placement.Options
}

// ParticleEngine advances particle positions and colors on the device.
// Each tick runs a position pass and then a color pass that sees the new
// positions.
type ParticleEngine struct {
	id  uuid.UUID
	cfg ParticleConfig
	dev gpu.Device

	loader KernelLoader
	log    *slog.Logger

	position *gpu.BufferPair
	color    *gpu.BufferPair
	offsets  gpu.Buffer

	params       *gpu.Params
	positionPass *gpu.Pass
	colorPass    *gpu.Pass

	uniforms Uniforms
	scratch  forceScratch
	inputs   [3]gpu.Buffer

	status Status
	active bool
	ticks  uint64
	timer  PhaseTimer
}

// NewParticleEngine allocates the engine's buffers. Kernels are loaded by Init.
func NewParticleEngine(dev gpu.Device, loader KernelLoader, cfg ParticleConfig) (*ParticleEngine, error) {
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
		cfg.Variant = kernels.VariantOrbit
	}

	id := uuid.New()
	e := &ParticleEngine{
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
	if e.color, err = gpu.NewBufferPair(dev, cfg.Name+"/color", cfg.Cols, cfg.Rows, gpu.FormatRGBA32F); err != nil {
		e.position.Free(dev)
		return nil, err
	}
	if cfg.Placement == placement.Terrain {
		if e.offsets, err = dev.Allocate(cfg.Cols, cfg.Rows, gpu.FormatRGBA32F); err != nil {
			e.position.Free(dev)
			e.color.Free(dev)
			return nil, fmt.Errorf("allocating offsets: %w", err)
		}
	}

	e.uniforms = Uniforms{
		NoiseScale:    cfg.Options.NoiseScale,
		NoiseStrength: cfg.NoiseStrength,
		BaseRadius:    cfg.BaseRadius,
	}
	e.declareParams()
	return e, nil
}

func (e *ParticleEngine) declareParams() {
	p := e.params
	declareCommon(p, e.cfg.Cols, e.cfg.Rows, e.cfg.ParticleSize)

	terrainScale, _ := placement.TerrainExtent(e.cfg.Options)
	manifoldScale := e.cfg.Options.ManifoldScale
	if manifoldScale == 0 {
		manifoldScale = 1
	}
	p.Declare(kernels.UNoiseScale, gpu.Float(float32(e.uniforms.NoiseScale)))
	p.Declare(kernels.UNoiseStrength, gpu.Float(float32(e.uniforms.NoiseStrength)))
	p.Declare(kernels.UBaseRadius, gpu.Float(float32(e.uniforms.BaseRadius)))
	p.Declare(kernels.UTerrainScale, gpu.Float(float32(terrainScale)))
	p.Declare(kernels.UManifoldScale, gpu.Float(float32(manifoldScale)))
	p.Declare(kernels.UManifoldComplexity, gpu.Float(float32(e.cfg.Options.ManifoldComplexity)))
}

// ID returns the engine instance id used in logs and metrics.
func (e *ParticleEngine) ID() uuid.UUID { return e.id }

// Name returns the configured engine name.
func (e *ParticleEngine) Name() string { return e.cfg.Name }

// Kind implements Engine.
func (e *ParticleEngine) Kind() Kind { return KindParticle }

// Config returns the engine configuration.
func (e *ParticleEngine) Config() ParticleConfig { return e.cfg }

// Status implements Engine.
func (e *ParticleEngine) Status() Status { return e.status }

// Ticks returns the number of completed ticks.
func (e *ParticleEngine) Ticks() uint64 { return e.ticks }

// SetActive implements Engine. The flag is advisory; Tick does not check it.
func (e *ParticleEngine) SetActive(active bool) { e.active = active }

// Active implements Engine.
func (e *ParticleEngine) Active() bool { return e.active }

// SetPhaseTimer implements Engine. A nil timer disables phase reporting.
func (e *ParticleEngine) SetPhaseTimer(t PhaseTimer) { e.timer = t }

// Params exposes the kernel parameter set.
func (e *ParticleEngine) Params() *gpu.Params { return e.params }

// Uniforms returns the retained tick inputs.
func (e *ParticleEngine) Uniforms() Uniforms { return e.uniforms }

// Init loads the variant's programs and primes slot 0 with the synthesized
// initial state. If a program is missing or fails to compile the engine
// runs builtin pass-through kernels and reports StatusDegraded. Only
// cancellation of ctx is returned as an error from a load failure.
func (e *ParticleEngine) Init(ctx context.Context) (Status, error) {
	if e.status == StatusDisposed {
		return e.status, ErrDisposed
	}
	if e.status.Usable() {
		return e.status, nil
	}

	ks, err := compileStages(ctx, e.dev, e.loader, e.cfg.Variant, kernels.StagePosition, kernels.StageColor)
	switch {
	case err != nil && isCancellation(ctx, err):
		return e.status, err
	case err != nil:
		e.log.Warn("kernel load failed, using pass-through kernels", "error", err)
		if e.positionPass, err = gpu.NewFallbackPass(e.dev, kernels.StagePosition, gpu.BuiltinCopy, e.params); err != nil {
			return e.status, err
		}
		if e.colorPass, err = gpu.NewFallbackPass(e.dev, kernels.StageColor, gpu.BuiltinFlatColor, e.params); err != nil {
			return e.status, err
		}
		e.status = StatusDegraded
	default:
		e.positionPass = gpu.NewPass(kernels.StagePosition, ks[0], e.params)
		e.colorPass = gpu.NewPass(kernels.StageColor, ks[1], e.params)
		e.status = StatusReady
	}

	if err := e.prime(); err != nil {
		return e.status, err
	}
	e.log.Info("engine initialized", "status", e.status.String(), "count", e.cfg.Count)
	return e.status, nil
}

// SynthesizeInitialState computes the frame-0 grids on the host.
func (e *ParticleEngine) SynthesizeInitialState() (*placement.Grid, error) {
	return placement.Synthesize(e.cfg.Placement, e.cfg.Cols, e.cfg.Rows, e.cfg.BaseRadius, e.cfg.Options)
}

// AddExtraParameter registers an additional kernel parameter. It returns
// false if name already exists, leaving its value unchanged.
func (e *ParticleEngine) AddExtraParameter(name string, initial gpu.Value) bool {
	return e.params.Declare(name, initial)
}

// Tick applies opts to the retained uniforms and advances one frame.
func (e *ParticleEngine) Tick(opts ...Option) error {
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

	e.phase(PhasePosition)
	inputs := e.inputs[:0]
	inputs = append(inputs, e.position.Read(), e.color.Read())
	if e.offsets != 0 {
		inputs = append(inputs, e.offsets)
	}
	if err := e.position.Write(e.dev, e.positionPass, inputs...); err != nil {
		return err
	}
	e.position.Flip()

	e.phase(PhaseColor)
	if err := e.color.Write(e.dev, e.colorPass, e.position.Read(), e.color.Read()); err != nil {
		return err
	}
	e.color.Flip()

	e.ticks++
	return nil
}

func (e *ParticleEngine) applyUniforms() error {
	u := &e.uniforms
	if err := writeCommon(e.params, u, &e.scratch); err != nil {
		return err
	}
	if err := e.params.SetFloat(kernels.UNoiseScale, float32(u.NoiseScale)); err != nil {
		return err
	}
	if err := e.params.SetFloat(kernels.UNoiseStrength, float32(u.NoiseStrength)); err != nil {
		return err
	}
	return e.params.SetFloat(kernels.UBaseRadius, float32(u.BaseRadius))
}

// CurrentPositionBuffer implements Engine.
func (e *ParticleEngine) CurrentPositionBuffer() gpu.Buffer { return e.position.Read() }

// CurrentColorBuffer returns the readable color buffer.
func (e *ParticleEngine) CurrentColorBuffer() gpu.Buffer { return e.color.Read() }

// Upload overwrites slot 0 of the position pair, and of the color pair when
// colors is non-nil, and makes slot 0 readable.
func (e *ParticleEngine) Upload(positions, colors []float32) error {
	if e.status == StatusDisposed {
		return ErrDisposed
	}
	e.phase(PhaseUpload)
	if err := e.position.Prime(e.dev, positions); err != nil {
		return err
	}
	if colors != nil {
		if err := e.color.Prime(e.dev, colors); err != nil {
			return err
		}
	}
	return nil
}

// ResetToInitialState re-synthesizes the frame-0 state into slot 0 of both
// pairs. No buffers are reallocated.
func (e *ParticleEngine) ResetToInitialState() error {
	if e.status == StatusDisposed {
		return ErrDisposed
	}
	if !e.status.Usable() {
		return ErrNotReady
	}
	return e.prime()
}

func (e *ParticleEngine) prime() error {
	g, err := e.SynthesizeInitialState()
	if err != nil {
		return err
	}
	if err := e.Upload(g.Positions, g.Colors); err != nil {
		return err
	}
	if e.offsets != 0 && g.Offsets != nil {
		if err := e.dev.Upload(e.offsets, g.Offsets); err != nil {
			return fmt.Errorf("uploading offsets: %w", err)
		}
	}
	return nil
}

// ReadPositions reads back the current position texels. Debug use only.
func (e *ParticleEngine) ReadPositions() ([]float32, error) {
	e.phase(PhaseReadback)
	return e.dev.Read(e.position.Read())
}

// ReadColors reads back the current color texels. Debug use only.
func (e *ParticleEngine) ReadColors() ([]float32, error) {
	e.phase(PhaseReadback)
	return e.dev.Read(e.color.Read())
}

// Dispose frees the engine's buffers and kernels. Safe to call twice.
func (e *ParticleEngine) Dispose() {
	if e.status == StatusDisposed {
		return
	}
	if e.positionPass != nil {
		e.positionPass.Release(e.dev)
	}
	if e.colorPass != nil {
		e.colorPass.Release(e.dev)
	}
	e.position.Free(e.dev)
	e.color.Free(e.dev)
	if e.offsets != 0 {
		e.dev.Free(e.offsets)
		e.offsets = 0
	}
	e.status = StatusDisposed
	e.active = false
	e.log.Debug("engine disposed", "ticks", e.ticks)
}

func (e *ParticleEngine) phase(name string) {
	if e.timer != nil {
		e.timer.StartPhase(name)
	}
}
