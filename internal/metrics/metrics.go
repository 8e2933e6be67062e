// Package metrics holds the Prometheus collectors of the dedup pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the domain collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ParseCalls        *prometheus.CounterVec
	CacheHits         prometheus.Counter
	BatchFiles        prometheus.Counter
	Reorganizations   *prometheus.CounterVec
	MigrationOutcomes *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ParseCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperbase_parse_calls_total",
				Help: "External parser invocations by outcome.",
			},
			[]string{"outcome"},
		),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paperbase_parse_cache_hits_total",
			Help: "Uploaded fingerprints served from an existing physical file.",
		}),
		BatchFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paperbase_batch_files_total",
			Help: "Files received through batch uploads.",
		}),
		Reorganizations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperbase_reorganizations_total",
				Help: "Document reorganizations by mode.",
			},
			[]string{"mode"},
		),
		MigrationOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperbase_backfill_documents_total",
				Help: "Legacy documents processed by the backfill migrator, by outcome.",
			},
			[]string{"outcome"},
		),
	}

	for _, c := range []prometheus.Collector{m.ParseCalls, m.CacheHits, m.BatchFiles, m.Reorganizations, m.MigrationOutcomes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ParseCall(ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.ParseCalls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

func (m *Metrics) FilesReceived(n int) {
	if m == nil {
		return
	}
	m.BatchFiles.Add(float64(n))
}

func (m *Metrics) Reorganized(mode string) {
	if m == nil {
		return
	}
	m.Reorganizations.WithLabelValues(mode).Inc()
}

func (m *Metrics) Migrated(outcome string) {
	if m == nil {
		return
	}
	m.MigrationOutcomes.WithLabelValues(outcome).Inc()
}
