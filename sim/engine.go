// Package sim implements the GPU-resident simulation engines: ping-pong
// buffer pairs advanced by kernel passes once per frame.
package sim

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pthm-cable/drift/gpu"
	"github.com/pthm-cable/drift/kernels"
)

// Engine errors.
var (
	ErrNilDevice     = errors.New("sim: nil render device")
	ErrGridMismatch  = errors.New("sim: cols*rows must equal particle count")
	ErrNotReady      = errors.New("sim: engine not initialized")
	ErrDisposed      = errors.New("sim: engine disposed")
	ErrDataSize      = errors.New("sim: host data does not match grid size")
	ErrNoInitialData = errors.New("sim: no initial particle data")
)

// Kind tags the engine variant.
type Kind uint8

const (
	KindParticle Kind = iota
	KindPhysics
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindParticle:
		return "particle"
	case KindPhysics:
		return "physics"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Status is the readiness of an engine.
type Status uint8

const (
	// StatusPending means Init has not completed.
	StatusPending Status = iota
	// StatusReady means the configured kernel programs are running.
	StatusReady
	// StatusDegraded means the engine runs builtin pass-through kernels
	// because its programs failed to load.
	StatusDegraded
	// StatusDisposed means GPU resources have been freed.
	StatusDisposed
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusDegraded:
		return "degraded"
	case StatusDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Usable reports whether Tick may be called.
func (s Status) Usable() bool {
	return s == StatusReady || s == StatusDegraded
}

// Phase names reported to a PhaseTimer.
const (
	PhaseVelocity = "velocity_pass"
	PhasePosition = "position_pass"
	PhaseColor    = "color_pass"
	PhaseUpload   = "upload"
	PhaseReadback = "readback"
)

// KernelLoader fetches kernel program text for a variant's stage.
type KernelLoader interface {
	Load(ctx context.Context, variant, stage string) (string, error)
}

// PhaseTimer receives phase boundaries while a tick runs.
type PhaseTimer interface {
	StartPhase(name string)
}

// Engine is the behavior the pool needs from either engine variant.
type Engine interface {
	Name() string
	Kind() Kind
	Init(ctx context.Context) (Status, error)
	Status() Status
	Tick(opts ...Option) error
	Ticks() uint64
	SetActive(active bool)
	Active() bool
	CurrentPositionBuffer() gpu.Buffer
	ResetToInitialState() error
	SetPhaseTimer(t PhaseTimer)
	Dispose()
}

// compileStage loads and compiles one stage program.
func compileStage(ctx context.Context, dev gpu.Device, loader KernelLoader, variant, stage string) (gpu.Kernel, error) {
	if loader == nil {
		return nil, fmt.Errorf("%s: no kernel loader", kernels.Name(variant, stage))
	}
	text, err := loader.Load(ctx, variant, stage)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: %s", gpu.ErrEmptySource, kernels.Name(variant, stage))
	}
	return dev.Compile(gpu.Source{Name: kernels.Name(variant, stage), Text: text})
}

// compileStages compiles every stage or none: a partial set is released so
// the engine falls back as a whole.
func compileStages(ctx context.Context, dev gpu.Device, loader KernelLoader, variant string, stages ...string) ([]gpu.Kernel, error) {
	out := make([]gpu.Kernel, 0, len(stages))
	for _, stage := range stages {
		k, err := compileStage(ctx, dev, loader, variant, stage)
		if err != nil {
			for _, done := range out {
				dev.ReleaseKernel(done)
			}
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// isCancellation reports whether err comes from the init context.
func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
