package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics records ledger-affecting outcomes across the settlement engines.
type SettlementMetrics struct {
	deposits      *prometheus.CounterVec
	depositCents  prometheus.Counter
	withdrawals   *prometheus.CounterVec
	feeCents      prometheus.Counter
	orders        *prometheus.CounterVec
	gatewayCalls  *prometheus.HistogramVec
	outboxPublish *prometheus.CounterVec
	outboxBacklog prometheus.Gauge
}

// NewSettlementMetrics registers the settlement metrics on reg. A nil
// registerer yields a no-op recorder.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	deposits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deposit_settlements_total",
		Help: "Deposit settlement attempts by source and result.",
	}, []string{"source", "result"})
	depositCents := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deposit_settled_cents_total",
		Help: "Cents credited by settled deposits.",
	})
	withdrawals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "withdrawal_transitions_total",
		Help: "Withdrawal status transitions.",
	}, []string{"status"})
	feeCents := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "withdrawal_fee_cents_total",
		Help: "Cents credited to the platform account as withdrawal fees.",
	})
	orders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Order status transitions.",
	}, []string{"status"})
	gatewayCalls := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_call_duration_seconds",
		Help:    "Duration of payment gateway calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "result"})
	outboxPublish := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_publish_total",
		Help: "Outbox publish attempts by event type and result.",
	}, []string{"event_type", "result"})
	outboxBacklog := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_pending_events",
		Help: "Outbox rows not yet published after the last publisher batch.",
	})
	reg.MustRegister(deposits, depositCents, withdrawals, feeCents, orders, gatewayCalls, outboxPublish, outboxBacklog)
	return &SettlementMetrics{
		deposits:      deposits,
		depositCents:  depositCents,
		withdrawals:   withdrawals,
		feeCents:      feeCents,
		orders:        orders,
		gatewayCalls:  gatewayCalls,
		outboxPublish: outboxPublish,
		outboxBacklog: outboxBacklog,
	}
}

// DepositSettled counts a credited deposit.
func (m *SettlementMetrics) DepositSettled(source string, amountCents int64) {
	if m == nil || m.deposits == nil {
		return
	}
	m.deposits.WithLabelValues(normalizeLabel(source), "credited").Inc()
	m.depositCents.Add(float64(amountCents))
}

// DepositDuplicate counts a settlement attempt that found the deposit already credited.
func (m *SettlementMetrics) DepositDuplicate(source string) {
	if m == nil || m.deposits == nil {
		return
	}
	m.deposits.WithLabelValues(normalizeLabel(source), "duplicate").Inc()
}

// WithdrawalTransition counts a withdrawal entering status.
func (m *SettlementMetrics) WithdrawalTransition(status string) {
	if m == nil || m.withdrawals == nil {
		return
	}
	m.withdrawals.WithLabelValues(normalizeLabel(status)).Inc()
}

// FeeCollected adds to the platform fee total.
func (m *SettlementMetrics) FeeCollected(feeCents int64) {
	if m == nil || m.feeCents == nil {
		return
	}
	m.feeCents.Add(float64(feeCents))
}

// OrderTransition counts an order entering status.
func (m *SettlementMetrics) OrderTransition(status string) {
	if m == nil || m.orders == nil {
		return
	}
	m.orders.WithLabelValues(normalizeLabel(status)).Inc()
}

// ObserveGatewayCall records the duration of one gateway operation.
func (m *SettlementMetrics) ObserveGatewayCall(operation string, err error, duration time.Duration) {
	if m == nil || m.gatewayCalls == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(normalizeLabel(operation), resultLabel(err)).Observe(duration.Seconds())
}

// OutboxPublished counts one publish attempt.
func (m *SettlementMetrics) OutboxPublished(eventType string, err error) {
	if m == nil || m.outboxPublish == nil {
		return
	}
	m.outboxPublish.WithLabelValues(normalizeLabel(eventType), resultLabel(err)).Inc()
}

// OutboxBacklog records how many rows still wait for publication.
func (m *SettlementMetrics) OutboxBacklog(pending int64) {
	if m == nil || m.outboxBacklog == nil {
		return
	}
	m.outboxBacklog.Set(float64(pending))
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
