package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/snapp-incubator/s3-manager/pkg/consts"
)

// Metrics holds the metrics of a single run. Nothing is served; the registry is written out in
// the node exporter textfile format once the run is over.
type Metrics struct {
	registry *prometheus.Registry

	ActionsTotal *prometheus.CounterVec
	ErrorsTotal  *prometheus.CounterVec
	Resources    *prometheus.GaugeVec
	RunDuration  prometheus.Gauge
	LastRun      prometheus.Gauge
	LastSuccess  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: consts.MetricsNamespace,
			Name:      "actions_total",
			Help:      "Corrective calls made, by resource kind and action.",
		}, []string{"kind", "action"}),

		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: consts.MetricsNamespace,
			Name:      "errors_total",
			Help:      "Errors counted during the run, by error kind.",
		}, []string{"kind"}),

		Resources: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: consts.MetricsNamespace,
			Name:      "declared_resources",
			Help:      "Resources declared in the manifest, by kind.",
		}, []string{"kind"}),

		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: consts.MetricsNamespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of the last reconciliation run.",
		}),

		LastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: consts.MetricsNamespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last reconciliation run finished.",
		}),

		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: consts.MetricsNamespace,
			Name:      "last_run_success",
			Help:      "Whether the last run finished without errors (1) or not (0).",
		}),
	}
	m.registry.MustRegister(m.ActionsTotal, m.ErrorsTotal, m.Resources, m.RunDuration, m.LastRun, m.LastSuccess)
	return m
}

// ObserveAction counts a corrective call.
func (m *Metrics) ObserveAction(kind, action string) {
	m.ActionsTotal.WithLabelValues(kind, action).Inc()
}

// ObserveError counts an error reported during the run.
func (m *Metrics) ObserveError(kind string) {
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

// SetResources records how many resources of each kind the manifest declares.
func (m *Metrics) SetResources(counts map[string]int) {
	for kind, n := range counts {
		m.Resources.WithLabelValues(kind).Set(float64(n))
	}
}

// Finish records the outcome of the run.
func (m *Metrics) Finish(started time.Time, success bool) {
	now := time.Now()
	m.RunDuration.Set(now.Sub(started).Seconds())
	m.LastRun.Set(float64(now.Unix()))
	if success {
		m.LastSuccess.Set(1)
	} else {
		m.LastSuccess.Set(0)
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes every metric to path for the node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
