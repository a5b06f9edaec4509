package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
)

// Transaction is an immutable ledger entry. AmountCents is signed: credits are
// positive and debits negative.
type Transaction struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID      uuid.UUID             `gorm:"column:account_id;type:uuid;not null"`
	OrderID        *uuid.UUID            `gorm:"column:order_id;type:uuid"`
	WithdrawalID   *uuid.UUID            `gorm:"column:withdrawal_id;type:uuid"`
	AmountCents    int64                 `gorm:"column:amount_cents;not null"`
	Kind           enums.TransactionKind `gorm:"column:kind;type:transaction_kind_enum;not null"`
	Description    string                `gorm:"column:description;not null"`
	IdempotencyKey *string               `gorm:"column:idempotency_key"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
}
