package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
	"github.com/angelmondragon/coinmarket-backend/pkg/pagination"
)

// Repository defines persistence operations for orders and their ratings.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindByIDForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	Update(ctx context.Context, orderID uuid.UUID, updates map[string]any) error
	CreateRating(ctx context.Context, rating *models.OrderRating) (*models.OrderRating, error)
	FindRating(ctx context.Context, orderID uuid.UUID) (*models.OrderRating, error)
	ListForBuyer(ctx context.Context, buyerAccountID uuid.UUID, params pagination.Params) (*OrderList, error)
	ListForSeller(ctx context.Context, sellerID uuid.UUID, params pagination.Params) (*OrderList, error)
}
