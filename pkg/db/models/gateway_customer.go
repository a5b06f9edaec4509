package models

import (
	"time"

	"github.com/google/uuid"
)

// GatewayCustomer caches the payment gateway customer id for an account.
type GatewayCustomer struct {
	AccountID  uuid.UUID `gorm:"column:account_id;type:uuid;primaryKey"`
	CustomerID string    `gorm:"column:customer_id;not null"`
	Email      string    `gorm:"column:email;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
