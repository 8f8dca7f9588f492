// Package metrics exports engine events as Prometheus metrics.
package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/roach88/unitwork/internal/orm"
)

// Observer implements orm.Observer by counting engine events.
type Observer struct {
	registry *prometheus.Registry

	commands   *prometheus.CounterVec
	deferrals  *prometheus.CounterVec
	unresolved *prometheus.CounterVec
	runs       *prometheus.CounterVec
	passes     prometheus.Histogram
}

// New creates an observer registered on its own registry.
func New() *Observer {
	o := &Observer{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "unitwork",
				Subsystem: "transaction",
				Name:      "commands_total",
				Help:      "Counter of commands submitted to runners.",
			}, []string{"kind", "role"}),
		deferrals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "unitwork",
				Subsystem: "transaction",
				Name:      "deferrals_total",
				Help:      "Counter of relations resolved by a deferred write.",
			}, []string{"role", "relation"}),
		unresolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "unitwork",
				Subsystem: "transaction",
				Name:      "unresolved_tuples_total",
				Help:      "Counter of tuples left unresolved by failed runs.",
			}, []string{"role"}),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "unitwork",
				Subsystem: "transaction",
				Name:      "runs_total",
				Help:      "Counter of finished runs by outcome.",
			}, []string{"outcome"}),
		passes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "unitwork",
				Subsystem: "transaction",
				Name:      "passes",
				Help:      "Passes over the pool per run.",
				Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
			}),
	}
	o.registry.MustRegister(o.commands, o.deferrals, o.unresolved, o.runs, o.passes)
	return o
}

// Registry returns the registry the metrics are registered on.
func (o *Observer) Registry() *prometheus.Registry {
	return o.registry
}

// Observe implements orm.Observer.
func (o *Observer) Observe(ev orm.Event) {
	switch ev.Kind {
	case orm.EventCommand:
		o.commands.WithLabelValues(ev.CommandKind, ev.Role).Inc()
	case orm.EventDefer:
		o.deferrals.WithLabelValues(ev.Role, ev.Relation).Inc()
	case orm.EventUnresolved:
		o.unresolved.WithLabelValues(ev.Role).Inc()
	case orm.EventCommit:
		o.runs.WithLabelValues("commit").Inc()
		o.passes.Observe(float64(ev.Passes))
	case orm.EventRollback:
		o.runs.WithLabelValues("rollback").Inc()
		o.passes.Observe(float64(ev.Passes))
	}
}

// Sample is one gathered value.
type Sample struct {
	Name   string
	Labels map[string]string
	Value  float64
}

// Snapshot gathers every counter, and the sample count of histograms.
// Samples are sorted by name.
func (o *Observer) Snapshot() ([]Sample, error) {
	families, err := o.registry.Gather()
	if err != nil {
		return nil, err
	}
	var out []Sample
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			out = append(out, Sample{
				Name:   mf.GetName(),
				Labels: labels(m),
				Value:  value(mf.GetType(), m),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func labels(m *dto.Metric) map[string]string {
	out := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}

func value(t dto.MetricType, m *dto.Metric) float64 {
	switch t {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	case dto.MetricType_HISTOGRAM:
		return float64(m.GetHistogram().GetSampleCount())
	default:
		return 0
	}
}
