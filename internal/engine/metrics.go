package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"feedfilter/internal/model"
)

// Metrics are the prometheus collectors updated by the engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	hidden       *prometheus.CounterVec
	classified   prometheus.Counter
	scans        prometheus.Counter
	scanDuration prometheus.Histogram
	activeRules  prometheus.Gauge
}

// NewMetrics creates the engine collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		hidden: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedfilter",
			Name:      "posts_hidden_total",
			Help:      "Posts hidden, by matched rule type.",
		}, []string{"rule_type"}),
		classified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feedfilter",
			Name:      "posts_classified_total",
			Help:      "Posts run through the classifier.",
		}),
		scans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feedfilter",
			Name:      "scans_total",
			Help:      "Full document scans.",
		}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "feedfilter",
			Name:      "scan_duration_seconds",
			Help:      "Duration of full document scans.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5},
		}),
		activeRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "feedfilter",
			Name:      "active_rules",
			Help:      "Enabled rules in the current rule set.",
		}),
	}
	reg.MustRegister(m.hidden, m.classified, m.scans, m.scanDuration, m.activeRules)
	return m
}

func (m *Metrics) addHidden(t model.RuleType) {
	if m == nil {
		return
	}
	label := string(t)
	if label == "" {
		label = "unknown"
	}
	m.hidden.WithLabelValues(label).Inc()
}

func (m *Metrics) addClassified(n int) {
	if m == nil || n == 0 {
		return
	}
	m.classified.Add(float64(n))
}

func (m *Metrics) observeScan(d time.Duration) {
	if m == nil {
		return
	}
	m.scans.Inc()
	m.scanDuration.Observe(d.Seconds())
}

func (m *Metrics) setActiveRules(n int) {
	if m == nil {
		return
	}
	m.activeRules.Set(float64(n))
}
