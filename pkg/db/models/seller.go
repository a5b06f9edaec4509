package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
)

// Seller is the seller registration attached to an account.
type Seller struct {
	ID                  uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID           uuid.UUID      `gorm:"column:account_id;type:uuid;not null"`
	DisplayName         string         `gorm:"column:display_name;not null"`
	UnitPricePer1kCents int64          `gorm:"column:unit_price_per_1k_cents;not null"`
	MinQuantity         int64          `gorm:"column:min_quantity;not null"`
	MaxQuantity         int64          `gorm:"column:max_quantity;not null"`
	DeliveryMethods     pq.StringArray `gorm:"column:delivery_methods;type:delivery_method_enum[];not null"`
	IsActive            bool           `gorm:"column:is_active;not null;default:true"`
	RatingSum           int64          `gorm:"column:rating_sum;not null;default:0"`
	RatingCount         int64          `gorm:"column:rating_count;not null;default:0"`
	CreatedAt           time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// AverageRating returns the mean score, or zero when unrated.
func (s Seller) AverageRating() float64 {
	if s.RatingCount == 0 {
		return 0
	}
	return float64(s.RatingSum) / float64(s.RatingCount)
}

// Offers reports whether the seller supports the delivery method.
func (s Seller) Offers(method enums.DeliveryMethod) bool {
	for _, m := range s.DeliveryMethods {
		if m == string(method) {
			return true
		}
	}
	return false
}
