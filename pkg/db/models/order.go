package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
)

// Order is a purchase of currency units from a seller. TotalPriceCents is fixed at creation.
type Order struct {
	ID                  uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BuyerAccountID      uuid.UUID            `gorm:"column:buyer_account_id;type:uuid;not null"`
	SellerID            uuid.UUID            `gorm:"column:seller_id;type:uuid;not null"`
	SellerAccountID     uuid.UUID            `gorm:"column:seller_account_id;type:uuid;not null"`
	Quantity            int64                `gorm:"column:quantity;not null"`
	UnitPricePer1kCents int64                `gorm:"column:unit_price_per_1k_cents;not null"`
	TotalPriceCents     int64                `gorm:"column:total_price_cents;not null"`
	DeliveryMethod      enums.DeliveryMethod `gorm:"column:delivery_method;type:delivery_method_enum;not null"`
	CharacterName       string               `gorm:"column:character_name;not null"`
	Status              enums.OrderStatus    `gorm:"column:status;type:order_status_enum;not null;default:'pending'"`
	CreatedAt           time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time            `gorm:"column:updated_at;autoUpdateTime"`
	CompletedAt         *time.Time           `gorm:"column:completed_at"`
}

// OrderRating is the single buyer rating allowed per completed order.
type OrderRating struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null"`
	BuyerAccountID uuid.UUID `gorm:"column:buyer_account_id;type:uuid;not null"`
	SellerID       uuid.UUID `gorm:"column:seller_id;type:uuid;not null"`
	Score          int       `gorm:"column:score;not null"`
	Comment        *string   `gorm:"column:comment"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}
