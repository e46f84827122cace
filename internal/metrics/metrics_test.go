package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func engineStates(t *testing.T, m *Metrics) map[string]float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	out := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "particlizer_engine_state" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "state" {
					out[label.GetValue()] = metric.GetGauge().GetValue()
				}
			}
		}
	}
	return out
}

func TestEngineStateIsOneHot(t *testing.T) {
	m := New()
	states := []string{"uninitialized", "ready", "updating", "destroyed"}
	m.SetEngineState("ready", states)
	got := engineStates(t, m)
	assert.Len(t, got, 4)
	assert.Equal(t, 1.0, got["ready"])
	assert.Equal(t, 0.0, got["destroyed"])

	m.SetEngineState("destroyed", states)
	got = engineStates(t, m)
	assert.Equal(t, 0.0, got["ready"])
	assert.Equal(t, 1.0, got["destroyed"])
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveStage("extract", time.Now())
	m.SetEngineState("ready", []string{"ready"})
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.Frames.Inc()
	m.Onsets.Add(2)
	m.TempoBPM.Set(128)
	m.ObserveStage("update", time.Now())

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "particlizer_frames_total 1")
	assert.Contains(t, text, "particlizer_onsets_total 2")
	assert.Contains(t, text, "particlizer_tempo_bpm 128")
	assert.Contains(t, text, `particlizer_stage_seconds_count{stage="update"} 1`)
	assert.Contains(t, text, "go_goroutines")
}

func TestNewServerRoutesMetrics(t *testing.T) {
	srv := NewServer(":0", New())
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
}
