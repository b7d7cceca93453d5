// Package pool owns one long-lived engine per scene key. Engines are built
// once by Init and survive scene switches; Dispose is the only operation
// that frees GPU resources.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/drift/gpu"
	"github.com/pthm-cable/drift/placement"
	"github.com/pthm-cable/drift/sim"
	"github.com/pthm-cable/drift/telemetry"
)

// Pool errors.
var (
	ErrDuplicateKey   = errors.New("pool: duplicate scene key")
	ErrUnknownKey     = errors.New("pool: unknown scene key")
	ErrNotInitialized = errors.New("pool: not initialized")
	ErrDisposed       = errors.New("pool: disposed")
	ErrWrongKind      = errors.New("pool: engine has a different kind")
)

// Scene is one catalog entry. Exactly one of Particle or Physics is used,
// selected by Kind.
type Scene struct {
	Key      string
	Kind     sim.Kind
	Particle sim.ParticleConfig
	Physics  sim.PhysicsConfig
}

// Primer writes a bespoke frame-0 state into a freshly initialized engine.
// It also replaces the engine's own reset.
type Primer func(e sim.Engine) error

// Slot is the ECS component holding a pooled engine.
type Slot struct {
	Key    string
	Order  int
	Scene  Scene
	Engine sim.Engine
}

// Lease is the ECS component tracking how an engine has been handed out.
type Lease struct {
	Acquired uint64
	Released uint64
	Resets   uint64
}

// Option configures a Pool.
type Option func(*Pool)

// WithPrimer registers fn as the frame-0 primer for key.
func WithPrimer(key string, fn Primer) Option {
	return func(p *Pool) { p.primers[key] = fn }
}

// WithMetrics records engine status and activity on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithPhaseTimer attaches t to every engine the pool builds.
func WithPhaseTimer(t sim.PhaseTimer) Option {
	return func(p *Pool) { p.timer = t }
}

// Pool is a keyed registry of engines. It is not safe for concurrent use;
// all calls happen on the frame loop goroutine.
type Pool struct {
	dev    gpu.Device
	loader sim.KernelLoader

	world    *ecs.World
	entryMap *ecs.Map2[Slot, Lease]
	filter   *ecs.Filter2[Slot, Lease]
	slotMap  *ecs.Map1[Slot]
	leaseMap *ecs.Map1[Lease]

	keys     []string
	entities map[string]ecs.Entity
	primers  map[string]Primer

	metrics *telemetry.Metrics
	timer   sim.PhaseTimer

	initialized bool
	disposed    bool
}

// New creates a pool with one entry per scene. Engines are not built until
// Init.
func New(dev gpu.Device, loader sim.KernelLoader, scenes []Scene, opts ...Option) (*Pool, error) {
	if dev == nil {
		return nil, sim.ErrNilDevice
	}
	world := ecs.NewWorld()
	p := &Pool{
		dev:      dev,
		loader:   loader,
		world:    world,
		entryMap: ecs.NewMap2[Slot, Lease](world),
		filter:   ecs.NewFilter2[Slot, Lease](world),
		slotMap:  ecs.NewMap1[Slot](world),
		leaseMap: ecs.NewMap1[Lease](world),
		entities: make(map[string]ecs.Entity, len(scenes)),
		primers:  make(map[string]Primer),
	}
	for _, opt := range opts {
		opt(p)
	}

	for i, sc := range scenes {
		if _, dup := p.entities[sc.Key]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, sc.Key)
		}
		slot := Slot{Key: sc.Key, Order: i, Scene: sc}
		p.entities[sc.Key] = p.entryMap.NewEntity(&slot, &Lease{})
		p.keys = append(p.keys, sc.Key)
	}
	for key := range p.primers {
		if _, ok := p.entities[key]; !ok {
			return nil, fmt.Errorf("%w: primer for %q", ErrUnknownKey, key)
		}
	}
	return p, nil
}

// Init builds and initializes every engine in catalog order. Physics engines
// are seeded from their placement strategy, then any registered primer runs.
// A failure disposes the engines built so far.
func (p *Pool) Init(ctx context.Context) error {
	if p.disposed {
		return ErrDisposed
	}
	if p.initialized {
		return nil
	}

	for _, key := range p.keys {
		if err := ctx.Err(); err != nil {
			p.disposeEngines()
			return err
		}
		slot := p.slotMap.Get(p.entities[key])
		e, err := p.build(ctx, slot.Scene)
		if err != nil {
			p.disposeEngines()
			return fmt.Errorf("scene %q: %w", key, err)
		}
		slot.Engine = e
		p.metrics.SetStatus(key, int(e.Status()))
	}

	p.initialized = true
	slog.Info("pool initialized", "engines", len(p.keys), "device", p.dev.Name())
	return nil
}

func (p *Pool) build(ctx context.Context, sc Scene) (sim.Engine, error) {
	var e sim.Engine
	switch sc.Kind {
	case sim.KindParticle:
		cfg := sc.Particle
		if cfg.Name == "" {
			cfg.Name = sc.Key
		}
		pe, err := sim.NewParticleEngine(p.dev, p.loader, cfg)
		if err != nil {
			return nil, err
		}
		e = pe
	case sim.KindPhysics:
		cfg := sc.Physics
		if cfg.Name == "" {
			cfg.Name = sc.Key
		}
		pe, err := sim.NewPhysicsEngine(p.dev, p.loader, cfg)
		if err != nil {
			return nil, err
		}
		e = pe
	default:
		return nil, fmt.Errorf("unknown engine kind %s", sc.Kind)
	}

	if p.timer != nil {
		e.SetPhaseTimer(p.timer)
	}
	if _, err := e.Init(ctx); err != nil {
		e.Dispose()
		return nil, err
	}
	if err := p.seed(sc.Key, e); err != nil {
		e.Dispose()
		return nil, err
	}
	return e, nil
}

// seed writes frame-0 data: physics engines get their placement grid, then
// a registered primer may overwrite it.
func (p *Pool) seed(key string, e sim.Engine) error {
	if pe, ok := e.(*sim.PhysicsEngine); ok {
		cfg := pe.Config()
		g, err := placement.Synthesize(cfg.Placement, cfg.Cols, cfg.Rows, cfg.BaseRadius, cfg.Options)
		if err != nil {
			return err
		}
		if err := pe.InitializeParticleData(g.Positions, nil); err != nil {
			return err
		}
	}
	if fn, ok := p.primers[key]; ok {
		if err := fn(e); err != nil {
			return fmt.Errorf("primer: %w", err)
		}
	}
	return nil
}

// lookup returns the slot for key after checking pool state.
func (p *Pool) lookup(key string) (ecs.Entity, *Slot, error) {
	if p.disposed {
		return ecs.Entity{}, nil, ErrDisposed
	}
	if !p.initialized {
		return ecs.Entity{}, nil, ErrNotInitialized
	}
	entity, ok := p.entities[key]
	if !ok {
		return ecs.Entity{}, nil, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return entity, p.slotMap.Get(entity), nil
}

// GetEngine returns the engine for key and marks it active. Every call for
// the same key returns the same instance.
func (p *Pool) GetEngine(key string) (sim.Engine, error) {
	entity, slot, err := p.lookup(key)
	if err != nil {
		return nil, err
	}
	p.leaseMap.Get(entity).Acquired++
	slot.Engine.SetActive(true)
	p.metrics.SetActiveEngines(p.ActiveCount())
	return slot.Engine, nil
}

// Engine returns the engine for key without leasing it or changing its
// active flag.
func (p *Pool) Engine(key string) (sim.Engine, error) {
	_, slot, err := p.lookup(key)
	if err != nil {
		return nil, err
	}
	return slot.Engine, nil
}

// Particle is GetEngine for particle scenes.
func (p *Pool) Particle(key string) (*sim.ParticleEngine, error) {
	e, err := p.GetEngine(key)
	if err != nil {
		return nil, err
	}
	pe, ok := e.(*sim.ParticleEngine)
	if !ok {
		return nil, fmt.Errorf("%w: %q is %s", ErrWrongKind, key, e.Kind())
	}
	return pe, nil
}

// Physics is GetEngine for physics scenes.
func (p *Pool) Physics(key string) (*sim.PhysicsEngine, error) {
	e, err := p.GetEngine(key)
	if err != nil {
		return nil, err
	}
	pe, ok := e.(*sim.PhysicsEngine)
	if !ok {
		return nil, fmt.Errorf("%w: %q is %s", ErrWrongKind, key, e.Kind())
	}
	return pe, nil
}

// ReleaseEngine marks the engine inactive. Its GPU state is kept.
func (p *Pool) ReleaseEngine(key string) error {
	entity, slot, err := p.lookup(key)
	if err != nil {
		return err
	}
	p.leaseMap.Get(entity).Released++
	slot.Engine.SetActive(false)
	p.metrics.SetActiveEngines(p.ActiveCount())
	return nil
}

// SetEngineActive sets the engine's active flag.
func (p *Pool) SetEngineActive(key string, active bool) error {
	_, slot, err := p.lookup(key)
	if err != nil {
		return err
	}
	slot.Engine.SetActive(active)
	p.metrics.SetActiveEngines(p.ActiveCount())
	return nil
}

// ResetEngineToInitialState restores frame 0: the registered primer if
// there is one, otherwise the engine's own reset.
func (p *Pool) ResetEngineToInitialState(key string) error {
	entity, slot, err := p.lookup(key)
	if err != nil {
		return err
	}
	p.leaseMap.Get(entity).Resets++
	if fn, ok := p.primers[key]; ok {
		return fn(slot.Engine)
	}
	return slot.Engine.ResetToInitialState()
}

// TickActive advances every active engine by one frame with the same
// options, in catalog order.
func (p *Pool) TickActive(opts ...sim.Option) error {
	if p.disposed {
		return ErrDisposed
	}
	if !p.initialized {
		return ErrNotInitialized
	}
	for _, key := range p.keys {
		e := p.slotMap.Get(p.entities[key]).Engine
		if !e.Active() {
			continue
		}
		if err := e.Tick(opts...); err != nil {
			return fmt.Errorf("scene %q: %w", key, err)
		}
		p.metrics.RecordTick(key)
	}
	return nil
}

// Keys returns the scene keys in catalog order.
func (p *Pool) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Ready reports whether Init has completed and Dispose has not run.
func (p *Pool) Ready() bool { return p.initialized && !p.disposed }

// ActiveCount returns the number of engines marked active.
func (p *Pool) ActiveCount() int {
	n := 0
	query := p.filter.Query()
	for query.Next() {
		slot, _ := query.Get()
		if slot.Engine != nil && slot.Engine.Active() {
			n++
		}
	}
	return n
}

// LeaseOf returns the usage counters for key.
func (p *Pool) LeaseOf(key string) (Lease, bool) {
	entity, ok := p.entities[key]
	if !ok || !p.world.Alive(entity) {
		return Lease{}, false
	}
	return *p.leaseMap.Get(entity), true
}

// Dispose frees every engine. Safe to call twice; the pool is unusable
// afterwards.
func (p *Pool) Dispose() {
	if p.disposed {
		return
	}
	p.disposeEngines()
	p.disposed = true
	p.metrics.SetActiveEngines(0)
	slog.Info("pool disposed", "engines", len(p.keys))
}

func (p *Pool) disposeEngines() {
	for _, key := range p.keys {
		slot := p.slotMap.Get(p.entities[key])
		if slot.Engine == nil {
			continue
		}
		slot.Engine.Dispose()
		p.metrics.SetStatus(key, int(slot.Engine.Status()))
		slot.Engine = nil
	}
}
