package haiku

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by a Generator. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Generations *prometheus.CounterVec
	Retries     prometheus.Counter
	Syllables   prometheus.Histogram
}

// NewMetrics creates the generator collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "haikoo_generations_total",
				Help: "Total number of haiku generations by outcome",
			},
			[]string{"outcome"},
		),
		Retries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "haikoo_generation_retries_total",
				Help: "Total number of attempts retried for missing the syllable target",
			},
		),
		Syllables: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "haikoo_haiku_syllables",
				Help:    "Estimated syllable total of accepted haiku",
				Buckets: prometheus.LinearBuckets(11, 1, 13),
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Generations, m.Retries, m.Syllables)
	}
	return m
}

func (m *Metrics) generated(outcome string) {
	if m != nil {
		m.Generations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) retried() {
	if m != nil {
		m.Retries.Inc()
	}
}

func (m *Metrics) accepted(syllables int) {
	if m != nil {
		m.Syllables.Observe(float64(syllables))
	}
}
