package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pthm-cable/drift/gpu"
	"github.com/pthm-cable/drift/sim"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// Snapshot errors.
var (
	ErrSnapshotVersion = errors.New("telemetry: unsupported snapshot version")
	ErrSnapshotSize    = errors.New("telemetry: snapshot buffer size does not match its grid")
)

// Snapshot holds the buffers of one engine for later restore.
type Snapshot struct {
	Version int     `json:"version"`
	Scene   string  `json:"scene"`
	Kind    string  `json:"kind"`
	Frame   int64   `json:"frame"`
	Time    float64 `json:"time"`

	Cols int `json:"cols"`
	Rows int `json:"rows"`

	Positions  []float32 `json:"positions"`
	Colors     []float32 `json:"colors,omitempty"`
	Velocities []float32 `json:"velocities,omitempty"`
}

// NewSnapshot captures st as read back from the engine behind scene.
func NewSnapshot(scene string, kind sim.Kind, frame int64, t float64, st sim.State) *Snapshot {
	return &Snapshot{
		Version:    SnapshotVersion,
		Scene:      scene,
		Kind:       kind.String(),
		Frame:      frame,
		Time:       t,
		Cols:       st.Cols,
		Rows:       st.Rows,
		Positions:  st.Positions,
		Colors:     st.Colors,
		Velocities: st.Velocities,
	}
}

// State returns the snapshot buffers in the form sim.RestoreState takes.
func (s *Snapshot) State() sim.State {
	return sim.State{
		Cols:       s.Cols,
		Rows:       s.Rows,
		Positions:  s.Positions,
		Colors:     s.Colors,
		Velocities: s.Velocities,
	}
}

// Validate checks the version and that every buffer matches the grid.
func (s *Snapshot) Validate() error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("%w: %d", ErrSnapshotVersion, s.Version)
	}
	n := s.Cols * s.Rows * gpu.Channels
	if n == 0 || len(s.Positions) != n {
		return fmt.Errorf("%w: %d positions for %dx%d", ErrSnapshotSize, len(s.Positions), s.Cols, s.Rows)
	}
	if s.Colors != nil && len(s.Colors) != n {
		return fmt.Errorf("%w: %d colors for %dx%d", ErrSnapshotSize, len(s.Colors), s.Cols, s.Rows)
	}
	if s.Velocities != nil && len(s.Velocities) != n {
		return fmt.Errorf("%w: %d velocities for %dx%d", ErrSnapshotSize, len(s.Velocities), s.Cols, s.Rows)
	}
	return nil
}

// SaveSnapshot writes a snapshot to disk.
// Returns the filepath where it was saved.
func SaveSnapshot(snapshot *Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	name := fmt.Sprintf("%s_%06d.json", snapshot.Scene, snapshot.Frame)
	path := filepath.Join(dir, name)

	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	return path, nil
}

// LoadSnapshot reads and validates a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}

	return &snapshot, nil
}
