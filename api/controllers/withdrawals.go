package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/coinmarket-backend/api/responses"
	"github.com/angelmondragon/coinmarket-backend/api/validators"
	"github.com/angelmondragon/coinmarket-backend/internal/withdrawals"
	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coinmarket-backend/pkg/errors"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
	"github.com/angelmondragon/coinmarket-backend/pkg/money"
	"github.com/angelmondragon/coinmarket-backend/pkg/pagination"
	"github.com/angelmondragon/coinmarket-backend/pkg/types"
)

type withdrawalService interface {
	RequestWithdrawal(ctx context.Context, input withdrawals.RequestInput) (*withdrawals.RequestResult, error)
	Get(ctx context.Context, actor types.Actor, withdrawalID uuid.UUID) (*models.Withdrawal, error)
	ListForSeller(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*withdrawals.WithdrawalList, error)
}

type requestWithdrawalRequest struct {
	Amount     decimal.Decimal `json:"amount" validate:"money"`
	PixKey     string          `json:"pix_key" validate:"required,max=140"`
	PixKeyType string          `json:"pix_key_type" validate:"required"`
}

// RequestWithdrawal pays part of the seller's balance out to a PIX key.
func RequestWithdrawal(svc withdrawalService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "withdrawal service unavailable"))
			return
		}

		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body requestWithdrawalRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cents, err := money.ParseCents(body.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInvalidAmount, err, "invalid withdrawal amount"))
			return
		}

		keyType, err := enums.ParsePixKeyType(body.PixKeyType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid pix key type"))
			return
		}

		result, err := svc.RequestWithdrawal(r.Context(), withdrawals.RequestInput{
			AccountID:        actor.AccountID,
			GrossAmountCents: cents,
			PixKey:           validators.SanitizeString(body.PixKey, 140),
			PixKeyType:       keyType,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, withdrawalRequestView{
			Withdrawal:       newWithdrawalView(result.Withdrawal),
			TransferAccepted: result.TransferAccepted,
		})
	}
}

// ListWithdrawals returns the caller's withdrawals, newest first.
func ListWithdrawals(svc withdrawalService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "withdrawal service unavailable"))
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

		list, err := svc.ListForSeller(r.Context(), actor.AccountID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newWithdrawalListView(list))
	}
}

func GetWithdrawal(svc withdrawalService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "withdrawal service unavailable"))
			return
		}

		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		withdrawalID, err := parseUUIDParam(r, "withdrawalId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		withdrawal, err := svc.Get(r.Context(), actor, withdrawalID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newWithdrawalView(withdrawal))
	}
}
