package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetrics_Gather(t *testing.T) {
	m := NewMetrics()
	m.RecordTick("orbit")
	m.RecordTick("orbit")
	m.SetStatus("orbit", 2)
	m.SetActiveEngines(3)
	m.ObservePerf(PerfSample{Phases: map[string]time.Duration{PhasePositionPass: time.Millisecond}})

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	values := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				values[mf.GetName()] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[mf.GetName()] = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				values[mf.GetName()] = float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}

	want := map[string]float64{
		"drift_engine_ticks_total": 2,
		"drift_engine_status":      2,
		"drift_active_engines":     3,
		"drift_phase_seconds":      1,
	}
	for name, v := range want {
		if values[name] != v {
			t.Errorf("%s = %v, want %v", name, values[name], v)
		}
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordTick("x")
	m.SetStatus("x", 1)
	m.SetActiveEngines(1)
	m.ObservePerf(PerfSample{})
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
}

func TestMetrics_Endpoint(t *testing.T) {
	m := NewMetrics()
	m.RecordTick("terrain")

	srv := httptest.NewServer(m.NewServer("").Handler)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `drift_engine_ticks_total{engine="terrain"} 1`) {
		t.Errorf("metrics output missing tick counter:\n%s", body)
	}
}
