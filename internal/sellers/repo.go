package sellers

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coinmarket-backend/pkg/errors"
	"github.com/angelmondragon/coinmarket-backend/pkg/pagination"
)

// Repository persists seller registrations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, seller *models.Seller) (*models.Seller, error)
	Update(ctx context.Context, seller *models.Seller) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Seller, error)
	FindByAccountID(ctx context.Context, accountID uuid.UUID) (*models.Seller, error)
	ListActive(ctx context.Context, params pagination.Params) (*SellerList, error)
	AddRating(ctx context.Context, sellerID uuid.UUID, score int) error
	PromoteAccount(ctx context.Context, accountID uuid.UUID) error
}

// SellerList is one cursor page of active sellers.
type SellerList struct {
	Sellers    []models.Seller `json:"sellers"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a sellers repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, seller *models.Seller) (*models.Seller, error) {
	if err := r.db.WithContext(ctx).Create(seller).Error; err != nil {
		return nil, err
	}
	return seller, nil
}

func (r *repository) Update(ctx context.Context, seller *models.Seller) error {
	return r.db.WithContext(ctx).
		Model(&models.Seller{}).
		Where("id = ?", seller.ID).
		Updates(map[string]any{
			"display_name":            seller.DisplayName,
			"unit_price_per_1k_cents": seller.UnitPricePer1kCents,
			"min_quantity":            seller.MinQuantity,
			"max_quantity":            seller.MaxQuantity,
			"delivery_methods":        seller.DeliveryMethods,
			"is_active":               seller.IsActive,
			"updated_at":              time.Now().UTC(),
		}).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Seller, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *repository) FindByAccountID(ctx context.Context, accountID uuid.UUID) (*models.Seller, error) {
	return r.findOne(ctx, "account_id = ?", accountID)
}

func (r *repository) findOne(ctx context.Context, query string, arg any) (*models.Seller, error) {
	var seller models.Seller
	err := r.db.WithContext(ctx).Where(query, arg).Take(&seller).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &seller, nil
}

func (r *repository) ListActive(ctx context.Context, params pagination.Params) (*SellerList, error) {
	query, limit, err := pagination.Keyset(r.db.WithContext(ctx).Where("is_active = ?", true), params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	var rows []models.Seller
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	list := &SellerList{}
	list.Sellers, list.NextCursor = pagination.Trim(rows, limit, func(m models.Seller) pagination.Cursor {
		return pagination.Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
	})
	return list, nil
}

func (r *repository) AddRating(ctx context.Context, sellerID uuid.UUID, score int) error {
	res := r.db.WithContext(ctx).
		Model(&models.Seller{}).
		Where("id = ?", sellerID).
		Updates(map[string]any{
			"rating_sum":   gorm.Expr("rating_sum + ?", score),
			"rating_count": gorm.Expr("rating_count + 1"),
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "seller not found")
	}
	return nil
}

// PromoteAccount marks a plain user account as a seller. Admin and platform
// roles are left untouched.
func (r *repository) PromoteAccount(ctx context.Context, accountID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND role = ?", accountID, enums.AccountRoleUser).
		Updates(map[string]any{"role": enums.AccountRoleSeller, "updated_at": time.Now().UTC()}).Error
}
