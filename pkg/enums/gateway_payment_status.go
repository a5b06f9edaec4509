package enums

// GatewayPaymentStatus mirrors the payment status reported by the gateway.
type GatewayPaymentStatus string

const (
	GatewayPaymentStatusPending                    GatewayPaymentStatus = "PENDING"
	GatewayPaymentStatusConfirmed                  GatewayPaymentStatus = "CONFIRMED"
	GatewayPaymentStatusReceived                   GatewayPaymentStatus = "RECEIVED"
	GatewayPaymentStatusReceivedInCash             GatewayPaymentStatus = "RECEIVED_IN_CASH"
	GatewayPaymentStatusOverdue                    GatewayPaymentStatus = "OVERDUE"
	GatewayPaymentStatusRefunded                   GatewayPaymentStatus = "REFUNDED"
	GatewayPaymentStatusRefundRequested            GatewayPaymentStatus = "REFUND_REQUESTED"
	GatewayPaymentStatusChargebackRequested        GatewayPaymentStatus = "CHARGEBACK_REQUESTED"
	GatewayPaymentStatusAwaitingRiskAnalysis       GatewayPaymentStatus = "AWAITING_RISK_ANALYSIS"
	GatewayPaymentStatusDeleted                    GatewayPaymentStatus = "DELETED"
	GatewayPaymentStatusAwaitingChargebackReversal GatewayPaymentStatus = "AWAITING_CHARGEBACK_REVERSAL"
)

// DepositState is the settlement view of a deposit intent.
type DepositState string

const (
	DepositStateCreated   DepositState = "created"
	DepositStateConfirmed DepositState = "confirmed"
	DepositStateExpired   DepositState = "expired"
)

// IsSettled reports whether the gateway considers the funds received.
func (s GatewayPaymentStatus) IsSettled() bool {
	switch s {
	case GatewayPaymentStatusConfirmed, GatewayPaymentStatusReceived, GatewayPaymentStatusReceivedInCash:
		return true
	default:
		return false
	}
}

// DepositState maps the gateway status onto the deposit state machine.
// Unknown statuses stay in created so a later poll can still confirm them.
func (s GatewayPaymentStatus) DepositState() DepositState {
	switch {
	case s.IsSettled():
		return DepositStateConfirmed
	case s == GatewayPaymentStatusOverdue,
		s == GatewayPaymentStatusRefunded,
		s == GatewayPaymentStatusRefundRequested,
		s == GatewayPaymentStatusChargebackRequested,
		s == GatewayPaymentStatusDeleted:
		return DepositStateExpired
	default:
		return DepositStateCreated
	}
}
