// Package metrics records per-run counters in a private Prometheus registry
// and exports them in the node_exporter textfile format.
package metrics

import (
	"fmt"

	"depsync/internal/data"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "depsync"

type Recorder struct {
	registry *prometheus.Registry

	pending     prometheus.Gauge
	commits     *prometheus.CounterVec
	errors      *prometheus.CounterVec
	configSync  prometheus.Gauge
	duration    prometheus.Gauge
	lastRun     prometheus.Gauge
	riskVerdict *prometheus.GaugeVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_updates",
			Help:      "Stale version references found by the last run.",
		}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Commits created, by strategy.",
		}, []string{"strategy"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Error entries recorded, by stage.",
		}, []string{"stage"}),
		configSync: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "config_synced",
			Help:      "1 when the downstream config sync was acknowledged.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		riskVerdict: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "risk_severity",
			Help:      "1 for the severity of the last risk verdict.",
		}, []string{"severity"}),
	}
	r.registry.MustRegister(r.pending, r.commits, r.errors, r.configSync, r.duration, r.lastRun, r.riskVerdict)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Observe records a finished run.
func (r *Recorder) Observe(rep *data.RunReport) {
	if rep == nil {
		return
	}
	r.pending.Set(float64(rep.PendingUpdates))
	for _, c := range rep.Committed {
		r.commits.WithLabelValues(string(c.Strategy)).Inc()
	}
	for _, e := range rep.Errors {
		r.errors.WithLabelValues(string(e.Stage)).Inc()
	}
	if rep.ConfigSynced {
		r.configSync.Set(1)
	} else {
		r.configSync.Set(0)
	}
	r.duration.Set(rep.FinishedAt.Sub(rep.StartedAt).Seconds())
	r.lastRun.Set(float64(rep.FinishedAt.Unix()))

	r.riskVerdict.Reset()
	if rep.RiskSeverity != "" {
		r.riskVerdict.WithLabelValues(string(rep.RiskSeverity)).Set(1)
	}
}

// WriteTextfile atomically writes the registry to path.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
