package payloads

import (
	"time"

	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	"github.com/google/uuid"
)

// DepositSettledEvent is emitted once per gateway payment credited to an account.
type DepositSettledEvent struct {
	PaymentID     string            `json:"payment_id"`
	AccountID     uuid.UUID         `json:"account_id"`
	TransactionID uuid.UUID         `json:"transaction_id"`
	AmountCents   int64             `json:"amount_cents"`
	BillingType   enums.BillingType `json:"billing_type"`
	Source        string            `json:"source"`
}

// WithdrawalEvent carries the state of a payout at the time of a transition.
type WithdrawalEvent struct {
	WithdrawalID      uuid.UUID              `json:"withdrawal_id"`
	SellerID          uuid.UUID              `json:"seller_id"`
	AccountID         uuid.UUID              `json:"account_id"`
	GrossAmountCents  int64                  `json:"gross_amount_cents"`
	FeeCents          int64                  `json:"fee_cents"`
	AmountCents       int64                  `json:"amount_cents"`
	Status            enums.WithdrawalStatus `json:"status"`
	GatewayTransferID *string                `json:"gateway_transfer_id,omitempty"`
	Reason            *string                `json:"reason,omitempty"`
}

// OrderCreatedEvent signals a new purchase with the buyer already debited.
type OrderCreatedEvent struct {
	OrderID         uuid.UUID            `json:"order_id"`
	BuyerAccountID  uuid.UUID            `json:"buyer_account_id"`
	SellerID        uuid.UUID            `json:"seller_id"`
	Quantity        int64                `json:"quantity"`
	TotalPriceCents int64                `json:"total_price_cents"`
	DeliveryMethod  enums.DeliveryMethod `json:"delivery_method"`
}

// OrderStatusChangedEvent is emitted on every accepted order transition.
type OrderStatusChangedEvent struct {
	OrderID        uuid.UUID         `json:"order_id"`
	BuyerAccountID uuid.UUID         `json:"buyer_account_id"`
	SellerID       uuid.UUID         `json:"seller_id"`
	From           enums.OrderStatus `json:"from"`
	To             enums.OrderStatus `json:"to"`
	ChangedAt      time.Time         `json:"changed_at"`
}

// OrderRatedEvent is emitted when a buyer rates a completed order.
type OrderRatedEvent struct {
	OrderID  uuid.UUID `json:"order_id"`
	SellerID uuid.UUID `json:"seller_id"`
	Score    int       `json:"score"`
}
