package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestJobMetricsExportsRunsAndSweepFindings(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewJobMetrics(reg)
	metrics.ObserveRun("ledger-reconcile", nil, 20*time.Millisecond)
	metrics.ObserveRun("ledger-reconcile", errors.New("boom"), 10*time.Millisecond)
	metrics.LedgerDrift(3)
	metrics.LedgerDrift(0)
	metrics.StalledWithdrawals(4)
	metrics.StalledWithdrawals(2)
	metrics.PrunedRows("outbox_events", 5)
	metrics.PrunedRows("outbox_events", 0)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "job_runs_total", "result", "error"); err != nil || got != 1 {
		t.Fatalf("expected one failed run, got %f (%v)", got, err)
	}
	if got := fetchPlainCounter(t, mfs, "ledger_drift_accounts_total"); got != 3 {
		t.Fatalf("expected drift=3, got %f", got)
	}
	if got := fetchPlainGauge(t, mfs, "withdrawals_stalled"); got != 2 {
		t.Fatalf("expected stalled gauge=2, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "retention_rows_deleted_total", "table", "outbox_events"); err != nil || got != 5 {
		t.Fatalf("expected 5 pruned rows, got %f (%v)", got, err)
	}
	if got, err := fetchHistogramSum(mfs, "job_duration_seconds", "job", "ledger-reconcile"); err != nil || got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f (%v)", got, err)
	}
}

func TestNilJobMetricsIsNoop(t *testing.T) {
	var metrics *JobMetrics
	metrics.ObserveRun("x", nil, time.Second)
	metrics.LedgerDrift(1)
	metrics.StalledWithdrawals(1)
	metrics.PrunedRows("outbox_dlq", 1)
	NewJobMetrics(nil).StalledWithdrawals(1)
}
