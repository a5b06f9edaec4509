package router

import (
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/coinmarket-backend/internal/analytics/types"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	"github.com/angelmondragon/coinmarket-backend/pkg/outbox/payloads"
)

func depositColumns(row *types.SettlementEventRow, event *payloads.DepositSettledEvent) {
	row.AccountID = optUUID(event.AccountID)
	row.GatewayRef = optString(event.PaymentID)
	row.AmountCents = &event.AmountCents
	row.BillingType = optString(string(event.BillingType))
}

// withdrawalColumns serves every withdrawal transition; event_type tells them
// apart and status is the state when the event was emitted.
func withdrawalColumns(row *types.SettlementEventRow, event *payloads.WithdrawalEvent) {
	row.AccountID = optUUID(event.AccountID)
	row.SellerID = optUUID(event.SellerID)
	row.WithdrawalID = optUUID(event.WithdrawalID)
	row.Status = optString(string(event.Status))
	row.GrossAmountCents = &event.GrossAmountCents
	row.FeeCents = &event.FeeCents
	row.AmountCents = &event.AmountCents
	if event.GatewayTransferID != nil {
		row.GatewayRef = optString(*event.GatewayTransferID)
	}
}

func orderCreatedColumns(row *types.SettlementEventRow, event *payloads.OrderCreatedEvent) {
	row.OrderID = optUUID(event.OrderID)
	row.AccountID = optUUID(event.BuyerAccountID)
	row.SellerID = optUUID(event.SellerID)
	row.Quantity = &event.Quantity
	row.AmountCents = &event.TotalPriceCents
	row.Status = optString(string(enums.OrderStatusPending))
}

// orderStatusColumns prefers the transition time over the envelope's.
func orderStatusColumns(row *types.SettlementEventRow, event *payloads.OrderStatusChangedEvent) {
	row.OrderID = optUUID(event.OrderID)
	row.AccountID = optUUID(event.BuyerAccountID)
	row.SellerID = optUUID(event.SellerID)
	row.Status = optString(string(event.To))
	if !event.ChangedAt.IsZero() {
		row.OccurredAt = event.ChangedAt.UTC()
	}
}

func orderRatedColumns(row *types.SettlementEventRow, event *payloads.OrderRatedEvent) {
	score := int64(event.Score)
	row.OrderID = optUUID(event.OrderID)
	row.SellerID = optUUID(event.SellerID)
	row.Score = &score
}

func optString(value string) *string {
	if value = strings.TrimSpace(value); value == "" {
		return nil
	}
	return &value
}

func optUUID(id uuid.UUID) *string {
	if id == uuid.Nil {
		return nil
	}
	s := id.String()
	return &s
}
