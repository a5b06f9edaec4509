package orders

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	"github.com/angelmondragon/coinmarket-backend/pkg/types"
)

// CreateOrderInput buys Quantity units from a seller. BuyerAccountID always
// comes from the session.
type CreateOrderInput struct {
	BuyerAccountID uuid.UUID
	SellerID       uuid.UUID
	Quantity       int64
	DeliveryMethod enums.DeliveryMethod
	CharacterName  string
}

// UpdateStatusInput moves an order through its lifecycle on behalf of Actor.
type UpdateStatusInput struct {
	OrderID uuid.UUID
	Actor   types.Actor
	Status  enums.OrderStatus
}

// RateInput records the buyer's score for a completed order.
type RateInput struct {
	OrderID        uuid.UUID
	BuyerAccountID uuid.UUID
	Score          int
	Comment        *string
}

// OrderList is one cursor page of orders.
type OrderList struct {
	Orders     []models.Order `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// SaleKey is the single-use ledger key for crediting the seller of orderID.
func SaleKey(orderID uuid.UUID) string {
	return "sale:" + orderID.String()
}

// RefundKey is the single-use ledger key for refunding the buyer of orderID.
func RefundKey(orderID uuid.UUID) string {
	return "refund:" + orderID.String()
}
