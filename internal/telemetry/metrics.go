// Package telemetry exports evolution progress as prometheus metrics.
package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/calvinloveland/vroomon/internal/evo"
)

type Metrics struct {
	generations   prometheus.Counter
	bestScore     *prometheus.GaugeVec
	buildFailures prometheus.Counter
	raceSeconds   prometheus.Histogram
}

// NewMetrics registers the vroomon collectors on reg. Passing a fresh
// prometheus.NewRegistry keeps tests and concurrent sweeps isolated from the
// global default registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		generations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vroomon_generations_total",
			Help: "Generations evaluated across all runs.",
		}),
		bestScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vroomon_best_score",
			Help: "Best score of the most recent generation per run.",
		}, []string{"run_id"}),
		buildFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vroomon_build_failures_total",
			Help: "Genomes that could not be built into a vehicle.",
		}),
		raceSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vroomon_race_seconds",
			Help:    "Wall time of one population race.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
	for _, c := range []prometheus.Collector{m.generations, m.bestScore, m.buildFailures, m.raceSeconds} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

// Listener returns an evo.Listener that records the events of one run.
func (m *Metrics) Listener(runID string) evo.Listener {
	return evo.ListenerFuncs{
		OnGeneration: func(ev evo.GenerationCompleted) {
			m.generations.Inc()
			m.bestScore.WithLabelValues(runID).Set(ev.BestScore)
			m.buildFailures.Add(float64(ev.Stats.BuildFailures))
			m.raceSeconds.Observe(ev.Stats.RaceSeconds)
		},
	}
}

// Forget drops the per-run gauge once a run's result has been persisted.
func (m *Metrics) Forget(runID string) {
	m.bestScore.DeleteLabelValues(runID)
}
