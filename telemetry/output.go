package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/drift/config"
	"github.com/pthm-cable/drift/gpu"
)

// OutputManager handles structured run output with CSV logging.
type OutputManager struct {
	dir       string
	perfFile  *os.File
	statsFile *os.File

	perfHeaderWritten  bool
	statsHeaderWritten bool
}

// NewOutputManager creates a new output manager and initializes the output directory.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}

	f, err := os.Create(filepath.Join(dir, "perf.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating perf.csv: %w", err)
	}
	om.perfFile = f

	f, err = os.Create(filepath.Join(dir, "buffer_stats.csv"))
	if err != nil {
		om.perfFile.Close()
		return nil, fmt.Errorf("creating buffer_stats.csv: %w", err)
	}
	om.statsFile = f

	return om, nil
}

// WriteConfig saves the current configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WritePerf writes a performance stats record to perf.csv.
func (om *OutputManager) WritePerf(stats PerfStats, frame int64, scene string) error {
	if om == nil {
		return nil
	}
	records := []PerfStatsCSV{stats.ToCSV(frame, scene)}
	if err := appendCSV(om.perfFile, records, &om.perfHeaderWritten); err != nil {
		return fmt.Errorf("writing perf: %w", err)
	}
	return nil
}

// WriteBufferStats writes a buffer summary to buffer_stats.csv.
func (om *OutputManager) WriteBufferStats(s BufferStats) error {
	if om == nil {
		return nil
	}
	records := []BufferStats{s}
	if err := appendCSV(om.statsFile, records, &om.statsHeaderWritten); err != nil {
		return fmt.Errorf("writing buffer stats: %w", err)
	}
	return nil
}

// appendCSV marshals records, writing the header only on the first call.
func appendCSV(f *os.File, records any, headerWritten *bool) error {
	if !*headerWritten {
		if err := gocsv.Marshal(records, f); err != nil {
			return err
		}
		*headerWritten = true
		return nil
	}
	return gocsv.MarshalWithoutHeaders(records, f)
}

// TexelRecord is one row of a texel dump.
type TexelRecord struct {
	X int     `csv:"x"`
	Y int     `csv:"y"`
	R float32 `csv:"r"`
	G float32 `csv:"g"`
	B float32 `csv:"b"`
	A float32 `csv:"a"`
}

// TexelRecords flattens a cols-wide texel buffer into rows.
func TexelRecords(texels []float32, cols int) []TexelRecord {
	n := len(texels) / gpu.Channels
	out := make([]TexelRecord, n)
	for i := 0; i < n; i++ {
		t := texels[i*gpu.Channels : (i+1)*gpu.Channels]
		out[i] = TexelRecord{X: i % cols, Y: i / cols, R: t[0], G: t[1], B: t[2], A: t[3]}
	}
	return out
}

// WriteTexels dumps a texel buffer to <name>.csv in the output directory and
// returns the file path.
func (om *OutputManager) WriteTexels(name string, texels []float32, cols int) (string, error) {
	if om == nil {
		return "", nil
	}
	return WriteTexelsFile(filepath.Join(om.dir, name+".csv"), texels, cols)
}

// WriteTexelsFile dumps a texel buffer to path.
func WriteTexelsFile(path string, texels []float32, cols int) (string, error) {
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	if err := gocsv.MarshalFile(TexelRecords(texels, cols), f); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// ReadTexelsFile loads a dump written by WriteTexelsFile.
func ReadTexelsFile(path string) ([]TexelRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	var records []TexelRecord
	if err := gocsv.UnmarshalFile(f, &records); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return records, nil
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error

	if om.perfFile != nil {
		if err := om.perfFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if om.statsFile != nil {
		if err := om.statsFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
