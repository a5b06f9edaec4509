package enums

// GatewayEventType is the event name carried by gateway webhook deliveries.
type GatewayEventType string

const (
	GatewayEventPaymentCreated   GatewayEventType = "PAYMENT_CREATED"
	GatewayEventPaymentConfirmed GatewayEventType = "PAYMENT_CONFIRMED"
	GatewayEventPaymentReceived  GatewayEventType = "PAYMENT_RECEIVED"
	GatewayEventPaymentOverdue   GatewayEventType = "PAYMENT_OVERDUE"
	GatewayEventPaymentDeleted   GatewayEventType = "PAYMENT_DELETED"
	GatewayEventPaymentRefunded  GatewayEventType = "PAYMENT_REFUNDED"
	GatewayEventTransferCreated  GatewayEventType = "TRANSFER_CREATED"
	GatewayEventTransferDone     GatewayEventType = "TRANSFER_DONE"
	GatewayEventTransferFailed   GatewayEventType = "TRANSFER_FAILED"
	GatewayEventTransferCanceled GatewayEventType = "TRANSFER_CANCELLED"
)

// ConfirmsPayment reports whether the event signals that funds were received.
func (e GatewayEventType) ConfirmsPayment() bool {
	return e == GatewayEventPaymentConfirmed || e == GatewayEventPaymentReceived
}

// SettlementReferenceType is the intent kind embedded in a gateway external reference.
type SettlementReferenceType string

const (
	SettlementReferenceDeposit    SettlementReferenceType = "deposit"
	SettlementReferenceWithdrawal SettlementReferenceType = "withdrawal"
)

// IsValid reports whether the reference type is one the settlement engines handle.
func (t SettlementReferenceType) IsValid() bool {
	return t == SettlementReferenceDeposit || t == SettlementReferenceWithdrawal
}
