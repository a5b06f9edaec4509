package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
)

// Account holds a custodial balance. BalanceCents is only mutated by the ledger store.
type Account struct {
	ID           uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email        string            `gorm:"column:email;not null"`
	DisplayName  string            `gorm:"column:display_name;not null"`
	Role         enums.AccountRole `gorm:"column:role;type:account_role_enum;not null;default:'user'"`
	BalanceCents int64             `gorm:"column:balance_cents;not null;default:0"`
	CreatedAt    time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
