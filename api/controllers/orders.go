package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/coinmarket-backend/api/responses"
	"github.com/angelmondragon/coinmarket-backend/api/validators"
	internalorders "github.com/angelmondragon/coinmarket-backend/internal/orders"
	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coinmarket-backend/pkg/errors"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
	"github.com/angelmondragon/coinmarket-backend/pkg/pagination"
	"github.com/angelmondragon/coinmarket-backend/pkg/types"
)

type orderService interface {
	CreateOrder(ctx context.Context, input internalorders.CreateOrderInput) (*models.Order, error)
	UpdateStatus(ctx context.Context, input internalorders.UpdateStatusInput) (*models.Order, error)
	RateOrder(ctx context.Context, input internalorders.RateInput) (*models.OrderRating, error)
	Get(ctx context.Context, actor types.Actor, orderID uuid.UUID) (*models.Order, error)
	ListForBuyer(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*internalorders.OrderList, error)
	ListForSeller(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*internalorders.OrderList, error)
}

type createOrderRequest struct {
	SellerID       uuid.UUID `json:"seller_id" validate:"required"`
	Quantity       int64     `json:"quantity"`
	DeliveryMethod string    `json:"delivery_method" validate:"required"`
	CharacterName  string    `json:"character_name" validate:"required,max=64"`
}

type updateOrderStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type rateOrderRequest struct {
	Score   int     `json:"score" validate:"required,min=1,max=5"`
	Comment *string `json:"comment" validate:"omitempty,max=500"`
}

// CreateOrder purchases currency units from a seller, debiting the caller.
func CreateOrder(svc orderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body createOrderRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method, err := enums.ParseDeliveryMethod(body.DeliveryMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid delivery method"))
			return
		}

		order, err := svc.CreateOrder(r.Context(), internalorders.CreateOrderInput{
			BuyerAccountID: actor.AccountID,
			SellerID:       body.SellerID,
			Quantity:       body.Quantity,
			DeliveryMethod: method,
			CharacterName:  validators.SanitizeString(body.CharacterName, 64),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newOrderView(order))
	}
}

// GetOrder returns an order visible to the caller as buyer, seller or admin.
func GetOrder(svc orderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := parseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), actor, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderView(order))
	}
}

// ListOrders returns buyer- or seller-perspective order pages depending on ?as=.
func ListOrders(svc orderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params, err := validators.ParsePageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		perspective, err := validators.ParseQueryChoice(r, "as", "buyer", "buyer", "seller")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var list *internalorders.OrderList
		if perspective == "seller" {
			list, err = svc.ListForSeller(r.Context(), actor.AccountID, params)
		} else {
			list, err = svc.ListForBuyer(r.Context(), actor.AccountID, params)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderListView(list))
	}
}

// UpdateOrderStatus applies a lifecycle transition on behalf of the caller.
func UpdateOrderStatus(svc orderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := parseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body updateOrderStatusRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status, err := enums.ParseOrderStatus(body.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order status"))
			return
		}

		order, err := svc.UpdateStatus(r.Context(), internalorders.UpdateStatusInput{
			OrderID: orderID,
			Actor:   actor,
			Status:  status,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderView(order))
	}
}

// RateOrder records the buyer's single rating for a completed order.
func RateOrder(svc orderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := parseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body rateOrderRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rating, err := svc.RateOrder(r.Context(), internalorders.RateInput{
			OrderID:        orderID,
			BuyerAccountID: actor.AccountID,
			Score:          body.Score,
			Comment:        body.Comment,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newRatingView(rating))
	}
}
