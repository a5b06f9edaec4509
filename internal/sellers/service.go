package sellers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/angelmondragon/coinmarket-backend/pkg/db"
	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coinmarket-backend/pkg/errors"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
	"github.com/angelmondragon/coinmarket-backend/pkg/pagination"
)

// Service manages seller registrations.
type Service interface {
	Register(ctx context.Context, input RegisterInput) (*models.Seller, error)
	UpdateListing(ctx context.Context, input UpdateListingInput) (*models.Seller, error)
	Get(ctx context.Context, sellerID uuid.UUID) (*models.Seller, error)
	GetByAccount(ctx context.Context, accountID uuid.UUID) (*models.Seller, error)
	ListActive(ctx context.Context, params pagination.Params) (*SellerList, error)
}

// RegisterInput opens a seller listing for AccountID.
type RegisterInput struct {
	AccountID           uuid.UUID
	DisplayName         string
	UnitPricePer1kCents int64
	MinQuantity         int64
	MaxQuantity         int64
	DeliveryMethods     []enums.DeliveryMethod
}

// UpdateListingInput replaces the listing terms of the caller's seller registration.
type UpdateListingInput struct {
	AccountID           uuid.UUID
	DisplayName         *string
	UnitPricePer1kCents *int64
	MinQuantity         *int64
	MaxQuantity         *int64
	DeliveryMethods     []enums.DeliveryMethod
	IsActive            *bool
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	tx   txRunner
	repo Repository
	logg *logger.Logger
}

// NewService builds the sellers service.
func NewService(tx txRunner, repo Repository, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("sellers repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{tx: tx, repo: repo, logg: logg}, nil
}

func (s *service) Register(ctx context.Context, input RegisterInput) (*models.Seller, error) {
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated account required")
	}
	methods, err := normalizeMethods(input.DeliveryMethods)
	if err != nil {
		return nil, err
	}
	seller := &models.Seller{
		ID:                  uuid.New(),
		AccountID:           input.AccountID,
		DisplayName:         strings.TrimSpace(input.DisplayName),
		UnitPricePer1kCents: input.UnitPricePer1kCents,
		MinQuantity:         input.MinQuantity,
		MaxQuantity:         input.MaxQuantity,
		DeliveryMethods:     methods,
		IsActive:            true,
		CreatedAt:           time.Now().UTC(),
		UpdatedAt:           time.Now().UTC(),
	}
	if err := validateListing(seller); err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindByAccountID(ctx, input.AccountID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load seller")
		}
		if existing != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "account is already registered as a seller")
		}
		if _, err := repo.Create(ctx, seller); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "account is already registered as a seller")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create seller")
		}
		if err := repo.PromoteAccount(ctx, input.AccountID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "promote account")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{"account_id": input.AccountID.String(), "seller_id": seller.ID.String()})
	s.logg.Info(logCtx, "seller registered")
	return seller, nil
}

func (s *service) UpdateListing(ctx context.Context, input UpdateListingInput) (*models.Seller, error) {
	seller, err := s.GetByAccount(ctx, input.AccountID)
	if err != nil {
		return nil, err
	}
	if input.DisplayName != nil {
		seller.DisplayName = strings.TrimSpace(*input.DisplayName)
	}
	if input.UnitPricePer1kCents != nil {
		seller.UnitPricePer1kCents = *input.UnitPricePer1kCents
	}
	if input.MinQuantity != nil {
		seller.MinQuantity = *input.MinQuantity
	}
	if input.MaxQuantity != nil {
		seller.MaxQuantity = *input.MaxQuantity
	}
	if input.DeliveryMethods != nil {
		methods, err := normalizeMethods(input.DeliveryMethods)
		if err != nil {
			return nil, err
		}
		seller.DeliveryMethods = methods
	}
	if input.IsActive != nil {
		seller.IsActive = *input.IsActive
	}
	if err := validateListing(seller); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, seller); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update seller")
	}
	return seller, nil
}

func (s *service) Get(ctx context.Context, sellerID uuid.UUID) (*models.Seller, error) {
	seller, err := s.repo.FindByID(ctx, sellerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load seller")
	}
	if seller == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "seller not found")
	}
	return seller, nil
}

func (s *service) GetByAccount(ctx context.Context, accountID uuid.UUID) (*models.Seller, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated account required")
	}
	seller, err := s.repo.FindByAccountID(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load seller")
	}
	if seller == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotASeller, "account has no seller registration")
	}
	return seller, nil
}

func (s *service) ListActive(ctx context.Context, params pagination.Params) (*SellerList, error) {
	list, err := s.repo.ListActive(ctx, params)
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list sellers")
	}
	return list, nil
}

func normalizeMethods(methods []enums.DeliveryMethod) (pq.StringArray, error) {
	if len(methods) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one delivery method is required")
	}
	seen := map[enums.DeliveryMethod]bool{}
	out := pq.StringArray{}
	for _, method := range methods {
		if !method.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid delivery method %q", method))
		}
		if seen[method] {
			continue
		}
		seen[method] = true
		out = append(out, string(method))
	}
	return out, nil
}

func validateListing(seller *models.Seller) error {
	if seller.DisplayName == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "display name is required")
	}
	if seller.UnitPricePer1kCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, "unit price must be positive")
	}
	if seller.MinQuantity <= 0 || seller.MaxQuantity < seller.MinQuantity {
		return pkgerrors.New(pkgerrors.CodeInvalidQuantity, "quantity bounds must satisfy 0 < min <= max")
	}
	return nil
}
