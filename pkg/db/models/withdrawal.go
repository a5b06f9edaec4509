package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
)

// Withdrawal records a seller payout request. AmountCents is the net paid out
// after FeeCents is retained by the platform.
type Withdrawal struct {
	ID                uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SellerID          uuid.UUID              `gorm:"column:seller_id;type:uuid;not null"`
	AccountID         uuid.UUID              `gorm:"column:account_id;type:uuid;not null"`
	GrossAmountCents  int64                  `gorm:"column:gross_amount_cents;not null"`
	FeeCents          int64                  `gorm:"column:fee_cents;not null"`
	AmountCents       int64                  `gorm:"column:amount_cents;not null"`
	Status            enums.WithdrawalStatus `gorm:"column:status;type:withdrawal_status_enum;not null;default:'pending'"`
	PixKey            string                 `gorm:"column:pix_key;not null"`
	PixKeyType        enums.PixKeyType       `gorm:"column:pix_key_type;type:pix_key_type_enum;not null"`
	GatewayTransferID *string                `gorm:"column:gateway_transfer_id"`
	GatewayMetadata   json.RawMessage        `gorm:"column:gateway_metadata;type:jsonb"`
	FailureReason     *string                `gorm:"column:failure_reason"`
	CreatedAt         time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time              `gorm:"column:updated_at;autoUpdateTime"`
	ProcessedAt       *time.Time             `gorm:"column:processed_at"`
}
