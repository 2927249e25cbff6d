package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
)

// Metrics are the import pipeline's Prometheus collectors
type Metrics struct {
	FilesRead      *prometheus.CounterVec
	RowsStaged     *prometheus.CounterVec
	RowOutcomes    *prometheus.CounterVec
	Commits        *prometheus.CounterVec
	CommitDuration prometheus.Histogram
	ActiveSessions prometheus.GaugeFunc
}

// NewMetrics registers the collectors with reg. sessions feeds the active
// session gauge and may be nil.
func NewMetrics(reg prometheus.Registerer, sessions func() int) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		FilesRead: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finance_import",
			Name:      "files_read_total",
			Help:      "Uploaded files by declared type and result.",
		}, []string{"file_type", "result"}),
		RowsStaged: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finance_import",
			Name:      "rows_staged_total",
			Help:      "Coerced candidate rows by validity.",
		}, []string{"validity"}),
		RowOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finance_import",
			Name:      "row_outcomes_total",
			Help:      "Committed rows by terminal status.",
		}, []string{"status"}),
		Commits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finance_import",
			Name:      "commits_total",
			Help:      "Commit attempts by result.",
		}, []string{"result"}),
		CommitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "finance_import",
			Name:      "commit_duration_seconds",
			Help:      "Time spent writing one batch.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}

	if sessions != nil {
		m.ActiveSessions = factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "finance_import",
			Name:      "active_sessions",
			Help:      "Import sessions currently held in memory.",
		}, func() float64 { return float64(sessions()) })
	}
	return m
}

func (m *Metrics) observeRead(fileType model.FileType, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.FilesRead.WithLabelValues(string(fileType), result).Inc()
}

func (m *Metrics) observeStaged(valid, invalid int) {
	if m == nil {
		return
	}
	m.RowsStaged.WithLabelValues("valid").Add(float64(valid))
	m.RowsStaged.WithLabelValues("invalid").Add(float64(invalid))
}

func (m *Metrics) observeCommit(result *model.ImportResult, err error) {
	if m == nil {
		return
	}
	switch {
	case err != nil:
		m.Commits.WithLabelValues("unavailable").Inc()
		return
	case result.Cancelled:
		m.Commits.WithLabelValues("cancelled").Inc()
	default:
		m.Commits.WithLabelValues("completed").Inc()
	}
	m.RowOutcomes.WithLabelValues(string(model.StatusCreated)).Add(float64(result.Created))
	m.RowOutcomes.WithLabelValues(string(model.StatusSkippedDuplicate)).Add(float64(result.Skipped))
	m.RowOutcomes.WithLabelValues(string(model.StatusFailed)).Add(float64(result.Failed))
	m.CommitDuration.Observe(result.FinishedAt.Sub(result.StartedAt).Seconds())
}
