package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewOutputManager_Disabled(t *testing.T) {
	om, err := NewOutputManager("")
	if err != nil || om != nil {
		t.Fatalf("empty dir should disable output, got %v, %v", om, err)
	}
	// Nil manager methods are no-ops.
	if err := om.WritePerf(PerfStats{}, 1, "x"); err != nil {
		t.Error(err)
	}
	if err := om.Close(); err != nil {
		t.Error(err)
	}
}

func TestOutputManager_PerfHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	stats := PerfStats{AvgTickDuration: time.Millisecond, PhasePct: map[string]float64{PhasePositionPass: 40}}
	for frame := int64(1); frame <= 3; frame++ {
		if err := om.WritePerf(stats, frame*60, "orbit"); err != nil {
			t.Fatal(err)
		}
	}
	if err := om.WriteBufferStats(BufferStats{Scene: "orbit", Buffer: "position", Texels: 4}); err != nil {
		t.Fatal(err)
	}
	if err := om.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "perf.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("perf.csv has %d lines, want header + 3", len(lines))
	}
	if !strings.HasPrefix(lines[0], "frame,scene,avg_tick_us") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[3], "180,orbit,1000") {
		t.Errorf("last row = %q", lines[3])
	}

	stats2, _ := os.ReadFile(filepath.Join(dir, "buffer_stats.csv"))
	if !strings.Contains(string(stats2), "len_p50") {
		t.Error("buffer_stats.csv missing header")
	}
}

func TestWriteTexelsFile_RoundTrip(t *testing.T) {
	texels := []float32{
		1, 2, 3, 1,
		4, 5, 6, 1,
		7, 8, 9, 0.5,
	}
	path, err := WriteTexelsFile(filepath.Join(t.TempDir(), "pos.csv"), texels, 2)
	if err != nil {
		t.Fatal(err)
	}
	records, err := ReadTexelsFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	last := records[2]
	if last.X != 0 || last.Y != 1 || last.B != 9 || last.A != 0.5 {
		t.Errorf("texel 2 = %+v", last)
	}
}
