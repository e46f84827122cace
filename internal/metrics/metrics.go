package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "particlizer"

// Metrics holds the collectors updated by the frame loop.
type Metrics struct {
	registry *prometheus.Registry

	// StageSeconds times each frame stage.
	StageSeconds *prometheus.HistogramVec
	Frames       prometheus.Counter
	Onsets       prometheus.Counter
	InputErrors  prometheus.Counter
	TempoBPM     prometheus.Gauge
	Energy       prometheus.Gauge
	Particles    prometheus.Gauge
	EngineState  *prometheus.GaugeVec
	DeviceLost   prometheus.Counter
	WebClients   prometheus.Gauge
}

// New registers all collectors on a fresh registry that also carries the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		StageSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_seconds",
			Help:      "Time spent per frame stage in seconds",
			Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}, []string{"stage"}),
		Frames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames processed",
		}),
		Onsets: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "onsets_total",
			Help:      "Detected onsets",
		}),
		InputErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "input_errors_total",
			Help:      "Malformed audio frames replaced by zeroed features",
		}),
		TempoBPM: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tempo_bpm",
			Help:      "Current tempo estimate",
		}),
		Energy: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "energy",
			Help:      "Current normalized spectral energy",
		}),
		Particles: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_particles",
			Help:      "Particles simulated in the last update",
		}),
		EngineState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_state",
			Help:      "1 for the engine's current state, 0 otherwise",
		}, []string{"state"}),
		DeviceLost: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_lost_total",
			Help:      "Compute device loss events",
		}),
		WebClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "web_clients",
			Help:      "Connected websocket clients",
		}),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStage records how long a frame stage took since start.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageSeconds.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// SetEngineState marks current as the only active state among all.
func (m *Metrics) SetEngineState(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.EngineState.WithLabelValues(s).Set(v)
	}
}

// NewServer serves /metrics on its own listener.
func NewServer(addr string, m *Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
}
