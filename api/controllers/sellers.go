package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/coinmarket-backend/api/responses"
	"github.com/angelmondragon/coinmarket-backend/api/validators"
	"github.com/angelmondragon/coinmarket-backend/internal/sellers"
	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coinmarket-backend/pkg/errors"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
	"github.com/angelmondragon/coinmarket-backend/pkg/money"
	"github.com/angelmondragon/coinmarket-backend/pkg/pagination"
)

type sellerService interface {
	Register(ctx context.Context, input sellers.RegisterInput) (*models.Seller, error)
	UpdateListing(ctx context.Context, input sellers.UpdateListingInput) (*models.Seller, error)
	Get(ctx context.Context, sellerID uuid.UUID) (*models.Seller, error)
	GetByAccount(ctx context.Context, accountID uuid.UUID) (*models.Seller, error)
	ListActive(ctx context.Context, params pagination.Params) (*sellers.SellerList, error)
}

type registerSellerRequest struct {
	DisplayName     string          `json:"display_name" validate:"required,max=80"`
	UnitPricePer1k  decimal.Decimal `json:"unit_price_per_1k" validate:"money"`
	MinQuantity     int64           `json:"min_quantity" validate:"required,min=1"`
	MaxQuantity     int64           `json:"max_quantity" validate:"required,gtefield=MinQuantity"`
	DeliveryMethods []string        `json:"delivery_methods" validate:"required,min=1"`
}

type updateListingRequest struct {
	DisplayName     *string          `json:"display_name" validate:"omitempty,max=80"`
	UnitPricePer1k  *decimal.Decimal `json:"unit_price_per_1k"`
	MinQuantity     *int64           `json:"min_quantity"`
	MaxQuantity     *int64           `json:"max_quantity"`
	DeliveryMethods []string         `json:"delivery_methods"`
	IsActive        *bool            `json:"is_active"`
}

func parseDeliveryMethods(values []string) ([]enums.DeliveryMethod, error) {
	if values == nil {
		return nil, nil
	}
	methods := make([]enums.DeliveryMethod, 0, len(values))
	for _, value := range values {
		method, err := enums.ParseDeliveryMethod(value)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid delivery method").
				WithDetails(map[string]any{"field": "delivery_methods", "value": value})
		}
		methods = append(methods, method)
	}
	return methods, nil
}

func parsePrice(value decimal.Decimal) (int64, error) {
	cents, err := money.ParseCents(value)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInvalidAmount, err, "invalid unit price").
			WithDetails(map[string]any{"field": "unit_price_per_1k"})
	}
	return cents, nil
}

// RegisterSeller opens a seller listing for the caller.
func RegisterSeller(svc sellerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "seller service unavailable"))
			return
		}

		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body registerSellerRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		price, err := parsePrice(body.UnitPricePer1k)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		methods, err := parseDeliveryMethods(body.DeliveryMethods)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		seller, err := svc.Register(r.Context(), sellers.RegisterInput{
			AccountID:           actor.AccountID,
			DisplayName:         validators.SanitizeString(body.DisplayName, 80),
			UnitPricePer1kCents: price,
			MinQuantity:         body.MinQuantity,
			MaxQuantity:         body.MaxQuantity,
			DeliveryMethods:     methods,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newSellerView(seller))
	}
}

// UpdateSellerListing patches the caller's listing terms.
func UpdateSellerListing(svc sellerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "seller service unavailable"))
			return
		}

		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body updateListingRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := sellers.UpdateListingInput{
			AccountID:   actor.AccountID,
			DisplayName: body.DisplayName,
			MinQuantity: body.MinQuantity,
			MaxQuantity: body.MaxQuantity,
			IsActive:    body.IsActive,
		}
		if body.UnitPricePer1k != nil {
			price, err := parsePrice(*body.UnitPricePer1k)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			input.UnitPricePer1kCents = &price
		}
		if input.DeliveryMethods, err = parseDeliveryMethods(body.DeliveryMethods); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		seller, err := svc.UpdateListing(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSellerView(seller))
	}
}

func MySeller(svc sellerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "seller service unavailable"))
			return
		}

		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		seller, err := svc.GetByAccount(r.Context(), actor.AccountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSellerView(seller))
	}
}

func GetSeller(svc sellerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "seller service unavailable"))
			return
		}

		sellerID, err := parseUUIDParam(r, "sellerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		seller, err := svc.Get(r.Context(), sellerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSellerView(seller))
	}
}

// ListSellers pages through active listings.
func ListSellers(svc sellerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "seller service unavailable"))
			return
		}

		params, err := validators.ParsePageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListActive(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSellerListView(list))
	}
}
