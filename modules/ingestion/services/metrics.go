package services

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/iota-uz/policyhub/modules/ingestion/domain/ingest"
)

type metrics struct {
	runsTotal     *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec
	rowsTotal     prometheus.Counter
	recordsTotal  *prometheus.CounterVec
	rejectedTotal *prometheus.CounterVec
	warningsTotal *prometheus.CounterVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		runsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "runs_total",
			Help:      "Total number of finished ingestion runs.",
		}, []string{"result"}),
		runsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "ingest",
			Name:      "runs_active",
			Help:      "Number of ingestion runs currently executing.",
		}),
		runDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ingest",
			Name:      "run_duration_seconds",
			Help:      "Wall time of ingestion runs.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"result"}),
		rowsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "rows_total",
			Help:      "Total number of rows submitted for ingestion.",
		}),
		recordsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "records_written_total",
			Help:      "Subjects and facts written by completed runs.",
		}, []string{"kind"}),
		rejectedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "records_rejected_total",
			Help:      "Records rejected by storage or dropped from fact assembly.",
		}, []string{"kind"}),
		warningsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "warnings_total",
			Help:      "Non-fatal ingestion warnings by stage.",
		}, []string{"stage"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}

// observe is the metrics sink of a run.
func (m *metrics) observe(e ingest.Event) {
	switch e.Type {
	case ingest.EventWarning:
		m.warningsTotal.WithLabelValues(string(e.Stage)).Inc()
	case ingest.EventComplete:
		m.runsTotal.WithLabelValues("complete").Inc()
		if s := e.Summary; s != nil {
			m.recordsTotal.WithLabelValues("subjects").Add(float64(s.Subjects))
			m.recordsTotal.WithLabelValues("facts").Add(float64(s.Facts))
			m.rejectedTotal.WithLabelValues("subjects").Add(float64(s.Rejected.Subjects))
			m.rejectedTotal.WithLabelValues("facts").Add(float64(s.Rejected.Facts))
			m.rejectedTotal.WithLabelValues("rows").Add(float64(s.Rejected.Rows))
		}
	case ingest.EventFailed:
		m.runsTotal.WithLabelValues("failed").Inc()
	}
}
