package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SelectionCollector exports selection attempt counts and generation
// latency to Prometheus.
type SelectionCollector struct {
	attempts *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	updates  *prometheus.CounterVec
}

// NewSelectionCollector creates the collectors and registers them with reg.
func NewSelectionCollector(reg prometheus.Registerer) (*SelectionCollector, error) {
	c := &SelectionCollector{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "menu_planner",
			Name:      "selection_attempts_total",
			Help:      "Selection attempts by outcome.",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "menu_planner",
			Name:      "generation_latency_seconds",
			Help:      "Latency of text generation calls by outcome.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "menu_planner",
			Name:      "menu_updates_total",
			Help:      "Menu update requests by result.",
		}, []string{"result"}),
	}

	for _, col := range []prometheus.Collector{c.attempts, c.latency, c.updates} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ObserveAttempt records one selection attempt.
func (c *SelectionCollector) ObserveAttempt(outcome string, latency time.Duration) {
	c.attempts.WithLabelValues(outcome).Inc()
	if latency > 0 {
		c.latency.WithLabelValues(outcome).Observe(latency.Seconds())
	}
}

// ObserveUpdate records the result of a menu update ("changed",
// "unchanged" or "failed").
func (c *SelectionCollector) ObserveUpdate(result string) {
	c.updates.WithLabelValues(result).Inc()
}
