package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "cifuzz"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	stageDuration *prom.HistogramVec
	stageResults  *prom.CounterVec
	cycleDuration prom.Histogram
	mirrorChanges prom.Counter
	sessions      prom.Counter
	workers       prom.Gauge
	corpusCopied  prom.Counter
	corpusSize    prom.Gauge
}

// NewPrometheusRecorder constructs and registers the daemon metrics on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual cycle stages",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800},
		}, []string{"stage"}),
		stageResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"}),
		cycleDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a full update cycle",
			Buckets:   prom.DefBuckets,
		}),
		mirrorChanges: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_changes_total",
			Help:      "Number of times the mirrored branch moved",
		}),
		sessions: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Number of fuzzing sessions started",
		}),
		workers: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      "Fuzzer worker processes in the current session",
		}),
		corpusCopied: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "corpus_entries_copied_total",
			Help:      "New inputs merged into the persistent corpus",
		}),
		corpusSize: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "corpus_size",
			Help:      "Entries in the persistent input corpus after the last sync",
		}),
	}
	reg.MustRegister(pr.stageDuration, pr.stageResults, pr.cycleDuration, pr.mirrorChanges,
		pr.sessions, pr.workers, pr.corpusCopied, pr.corpusSize)
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveCycleDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.cycleDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncMirrorChange() {
	if p == nil {
		return
	}
	p.mirrorChanges.Inc()
}

func (p *PrometheusRecorder) IncSessionStarted() {
	if p == nil {
		return
	}
	p.sessions.Inc()
}

func (p *PrometheusRecorder) SetActiveWorkers(n int) {
	if p == nil {
		return
	}
	p.workers.Set(float64(n))
}

func (p *PrometheusRecorder) AddCorpusCopied(n int) {
	if p == nil || n <= 0 {
		return
	}
	p.corpusCopied.Add(float64(n))
}

func (p *PrometheusRecorder) SetCorpusSize(n int) {
	if p == nil {
		return
	}
	p.corpusSize.Set(float64(n))
}
