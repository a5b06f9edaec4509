package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics records scheduled job runs and what the sweeps found.
type JobMetrics struct {
	duration    *prometheus.HistogramVec
	runs        *prometheus.CounterVec
	ledgerDrift prometheus.Counter
	stalled     prometheus.Gauge
	pruned      *prometheus.CounterVec
}

func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	if reg == nil {
		return &JobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "job_duration_seconds",
		Help:    "Duration of scheduled jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_runs_total",
		Help: "Scheduled job executions by result.",
	}, []string{"job", "result"})
	ledgerDrift := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_drift_accounts_total",
		Help: "Accounts whose balance disagreed with their transaction sum during a sweep.",
	})
	stalled := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "withdrawals_stalled",
		Help: "Pending withdrawals without a gateway transfer at the last stall report.",
	})
	pruned := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retention_rows_deleted_total",
		Help: "Rows removed by the retention sweep, by table.",
	}, []string{"table"})
	reg.MustRegister(duration, runs, ledgerDrift, stalled, pruned)
	return &JobMetrics{
		duration:    duration,
		runs:        runs,
		ledgerDrift: ledgerDrift,
		stalled:     stalled,
		pruned:      pruned,
	}
}

func (m *JobMetrics) ObserveRun(job string, err error, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
	m.runs.WithLabelValues(normalizeLabel(job), resultLabel(err)).Inc()
}

func (m *JobMetrics) LedgerDrift(accounts int) {
	if m == nil || m.ledgerDrift == nil || accounts <= 0 {
		return
	}
	m.ledgerDrift.Add(float64(accounts))
}

func (m *JobMetrics) StalledWithdrawals(count int) {
	if m == nil || m.stalled == nil {
		return
	}
	m.stalled.Set(float64(count))
}

func (m *JobMetrics) PrunedRows(table string, rows int64) {
	if m == nil || m.pruned == nil || rows <= 0 {
		return
	}
	m.pruned.WithLabelValues(normalizeLabel(table)).Add(float64(rows))
}
