package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/coinmarket-backend/api/responses"
	"github.com/angelmondragon/coinmarket-backend/api/validators"
	"github.com/angelmondragon/coinmarket-backend/internal/deposits"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coinmarket-backend/pkg/errors"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
	"github.com/angelmondragon/coinmarket-backend/pkg/money"
)

type depositService interface {
	CreateDeposit(ctx context.Context, input deposits.CreateDepositInput) (*deposits.DepositResult, error)
	CheckStatus(ctx context.Context, input deposits.CheckStatusInput) (*deposits.StatusResult, error)
}

type createDepositRequest struct {
	Amount      decimal.Decimal `json:"amount" validate:"money"`
	BillingType string          `json:"billing_type" validate:"omitempty,oneof=PIX BOLETO CREDIT_CARD UNDEFINED"`
	TaxID       string          `json:"tax_id" validate:"omitempty,tax_id"`
}

// CreateDeposit opens a gateway charge that funds the caller's balance.
func CreateDeposit(svc depositService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "deposit service unavailable"))
			return
		}

		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body createDepositRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cents, err := money.ParseCents(body.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInvalidAmount, err, "invalid deposit amount"))
			return
		}

		billingType := enums.BillingTypePix
		if body.BillingType != "" {
			billingType = enums.BillingType(body.BillingType)
		}

		result, err := svc.CreateDeposit(r.Context(), deposits.CreateDepositInput{
			AccountID:   actor.AccountID,
			AmountCents: cents,
			BillingType: billingType,
			TaxID:       validators.DigitsOnly(body.TaxID),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// DepositStatus polls the gateway for a deposit the caller owns and credits it once confirmed.
func DepositStatus(svc depositService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "deposit service unavailable"))
			return
		}

		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		paymentID := strings.TrimSpace(chi.URLParam(r, "paymentId"))
		if paymentID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required"))
			return
		}

		result, err := svc.CheckStatus(r.Context(), deposits.CheckStatusInput{
			AccountID: actor.AccountID,
			PaymentID: paymentID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
