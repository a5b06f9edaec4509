package enums

import (
	"fmt"
	"slices"
)

// OutboxAggregateType is the aggregate_type_enum column: the entity whose
// history an outbox event belongs to. Events sharing an aggregate are
// published in order.
type OutboxAggregateType string

const (
	AggregateAccount    OutboxAggregateType = "account"
	AggregateDeposit    OutboxAggregateType = "deposit"
	AggregateWithdrawal OutboxAggregateType = "withdrawal"
	AggregateOrder      OutboxAggregateType = "order"
)

// OutboxEventType is the event_type_enum column.
type OutboxEventType string

const (
	EventDepositSettled      OutboxEventType = "deposit_settled"
	EventWithdrawalRequested OutboxEventType = "withdrawal_requested"
	EventWithdrawalApproved  OutboxEventType = "withdrawal_approved"
	EventWithdrawalCompleted OutboxEventType = "withdrawal_completed"
	EventWithdrawalRejected  OutboxEventType = "withdrawal_rejected"
	EventOrderCreated        OutboxEventType = "order_created"
	EventOrderStatusChanged  OutboxEventType = "order_status_changed"
	EventOrderRated          OutboxEventType = "order_rated"
)

// OutboxDLQErrorReason records why the publisher gave up on an event.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

var outboxAggregateTypes = []OutboxAggregateType{AggregateAccount, AggregateDeposit, AggregateWithdrawal, AggregateOrder}

var outboxEventTypes = []OutboxEventType{
	EventDepositSettled,
	EventWithdrawalRequested,
	EventWithdrawalApproved,
	EventWithdrawalCompleted,
	EventWithdrawalRejected,
	EventOrderCreated,
	EventOrderStatusChanged,
	EventOrderRated,
}

var outboxDLQErrorReasons = []OutboxDLQErrorReason{OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable}

func (a OutboxAggregateType) IsValid() bool  { return slices.Contains(outboxAggregateTypes, a) }
func (e OutboxEventType) IsValid() bool      { return slices.Contains(outboxEventTypes, e) }
func (r OutboxDLQErrorReason) IsValid() bool { return slices.Contains(outboxDLQErrorReasons, r) }

// ParseOutboxAggregateType accepts only the exact column values.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	if a := OutboxAggregateType(value); a.IsValid() {
		return a, nil
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	if e := OutboxEventType(value); e.IsValid() {
		return e, nil
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
