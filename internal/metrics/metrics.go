// Package metrics exposes prometheus counters for builds and restores.
package metrics

import (
	"github.com/glotchimo/ark/internal/backup"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ark"

// Collector is a prometheus.Collector over build and restore outcomes.
type Collector struct {
	runs     *prometheus.CounterVec
	items    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewCollector() *Collector {
	return &Collector{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Builds and restores by outcome.",
			}, []string{"op", "result"},
		),
		items: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_total",
				Help:      "Items processed per phase by outcome.",
			}, []string{"op", "phase", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "duration_seconds",
				Help:      "Time taken by builds and restores.",
				Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 180, 600},
			}, []string{"op"},
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.runs.Describe(ch)
	c.items.Describe(ch)
	c.duration.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.runs.Collect(ch)
	c.items.Collect(ch)
	c.duration.Collect(ch)
}

func (c *Collector) ObserveBuild(r *backup.Report, err error) {
	c.observe("build", r, err)
}

func (c *Collector) ObserveRestore(r *backup.Report, err error) {
	c.observe("restore", r, err)
}

// observe records a run. A run that returned an error counts as "error"; one whose
// phases skipped items or stopped early counts as "partial".
func (c *Collector) observe(op string, r *backup.Report, err error) {
	result := "ok"
	switch {
	case err != nil || r == nil:
		result = "error"
	case r.Skipped() > 0 || len(r.Failed()) > 0:
		result = "partial"
	}
	c.runs.WithLabelValues(op, result).Inc()

	if r == nil {
		return
	}

	for phase, n := range r.Counts() {
		c.items.WithLabelValues(op, string(phase), "ok").Add(float64(n.OK))
		c.items.WithLabelValues(op, string(phase), "skipped").Add(float64(n.Skipped))
	}
	if d := r.Duration(); d > 0 {
		c.duration.WithLabelValues(op).Observe(d.Seconds())
	}
}
