package sim

import (
	"fmt"

	"github.com/pthm-cable/drift/gpu"
)

// State is a host copy of an engine's current buffers. Colors is nil for
// physics engines and Velocities is nil for particle engines.
type State struct {
	Cols, Rows int
	Positions  []float32
	Colors     []float32
	Velocities []float32
}

// ReadState reads back the current buffers of either engine variant. It
// stalls the device and is meant for previews, dumps and tests.
func ReadState(e Engine) (State, error) {
	switch e := e.(type) {
	case *ParticleEngine:
		pos, err := e.ReadPositions()
		if err != nil {
			return State{}, err
		}
		col, err := e.ReadColors()
		if err != nil {
			return State{}, err
		}
		return State{Cols: e.cfg.Cols, Rows: e.cfg.Rows, Positions: pos, Colors: col}, nil
	case *PhysicsEngine:
		pos, err := e.ReadPositionData()
		if err != nil {
			return State{}, err
		}
		vel, err := e.ReadVelocityData()
		if err != nil {
			return State{}, err
		}
		return State{Cols: e.cfg.Cols, Rows: e.cfg.Rows, Positions: pos, Velocities: vel}, nil
	default:
		return State{}, fmt.Errorf("sim: cannot read state of %T", e)
	}
}

// RestoreState writes st back into e. Particle engines take the positions
// and, when present, the colors as their current state. Physics engines
// take positions and velocities as new initial data, so a later reset
// returns to st.
func RestoreState(e Engine, st State) error {
	switch e := e.(type) {
	case *ParticleEngine:
		if err := checkState(st, e.cfg.Cols, e.cfg.Rows); err != nil {
			return err
		}
		return e.Upload(st.Positions, st.Colors)
	case *PhysicsEngine:
		if err := checkState(st, e.cfg.Cols, e.cfg.Rows); err != nil {
			return err
		}
		return e.InitializeParticleData(st.Positions, st.Velocities)
	default:
		return fmt.Errorf("sim: cannot restore state of %T", e)
	}
}

func checkState(st State, cols, rows int) error {
	if st.Cols != cols || st.Rows != rows {
		return fmt.Errorf("%w: state is %dx%d, engine is %dx%d", ErrDataSize, st.Cols, st.Rows, cols, rows)
	}
	n := cols * rows * gpu.Channels
	if len(st.Positions) != n {
		return fmt.Errorf("%w: %d positions, want %d", ErrDataSize, len(st.Positions), n)
	}
	if st.Colors != nil && len(st.Colors) != n {
		return fmt.Errorf("%w: %d colors, want %d", ErrDataSize, len(st.Colors), n)
	}
	return nil
}
