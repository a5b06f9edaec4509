package gatewaycustomers

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
)

// Repository persists the account to gateway customer mapping.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds the repository to the provided connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByAccountID returns the cached mapping or nil when none exists.
func (r *Repository) FindByAccountID(ctx context.Context, accountID uuid.UUID) (*models.GatewayCustomer, error) {
	var row models.GatewayCustomer
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Create inserts a new mapping.
func (r *Repository) Create(ctx context.Context, accountID uuid.UUID, customerID, email string) (*models.GatewayCustomer, error) {
	now := time.Now().UTC()
	row := &models.GatewayCustomer{
		AccountID:  accountID,
		CustomerID: customerID,
		Email:      email,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}
