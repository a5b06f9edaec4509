package withdrawals

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coinmarket-backend/pkg/errors"
	"github.com/angelmondragon/coinmarket-backend/pkg/pagination"
)

// Repository persists withdrawal records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, withdrawal *models.Withdrawal) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	ListForSeller(ctx context.Context, sellerID uuid.UUID, params pagination.Params) (*WithdrawalList, error)
	ListStalled(ctx context.Context, createdBefore time.Time, limit int) ([]models.Withdrawal, error)
}

// WithdrawalList is one cursor page of withdrawals.
type WithdrawalList struct {
	Withdrawals []models.Withdrawal `json:"withdrawals"`
	NextCursor  string              `json:"next_cursor,omitempty"`
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a withdrawals repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, withdrawal *models.Withdrawal) error {
	return r.db.WithContext(ctx).Create(withdrawal).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	return r.find(r.db.WithContext(ctx), id)
}

// FindByIDForUpdate row-locks the withdrawal for the rest of the transaction.
func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	return r.find(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *repository) find(query *gorm.DB, id uuid.UUID) (*models.Withdrawal, error) {
	var withdrawal models.Withdrawal
	err := query.Where("id = ?", id).Take(&withdrawal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &withdrawal, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Withdrawal{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) ListForSeller(ctx context.Context, sellerID uuid.UUID, params pagination.Params) (*WithdrawalList, error) {
	query, limit, err := pagination.Keyset(r.db.WithContext(ctx).Where("seller_id = ?", sellerID), params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	var rows []models.Withdrawal
	if err := query.Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list withdrawals")
	}

	list := &WithdrawalList{}
	list.Withdrawals, list.NextCursor = pagination.Trim(rows, limit, func(m models.Withdrawal) pagination.Cursor {
		return pagination.Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
	})
	return list, nil
}

// ListStalled returns pending withdrawals that never got a gateway transfer id,
// oldest first.
func (r *repository) ListStalled(ctx context.Context, createdBefore time.Time, limit int) ([]models.Withdrawal, error) {
	var rows []models.Withdrawal
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.WithdrawalStatusPending).
		Where("gateway_transfer_id IS NULL").
		Where("created_at < ?", createdBefore).
		Order("created_at ASC").
		Limit(pagination.NormalizeLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list stalled withdrawals")
	}
	return rows, nil
}

func statusUpdate(status enums.WithdrawalStatus, extra map[string]any) map[string]any {
	updates := map[string]any{"status": status}
	for k, v := range extra {
		updates[k] = v
	}
	return updates
}
