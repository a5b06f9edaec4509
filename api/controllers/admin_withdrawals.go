package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/coinmarket-backend/api/responses"
	"github.com/angelmondragon/coinmarket-backend/api/validators"
	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/coinmarket-backend/pkg/errors"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
	"github.com/angelmondragon/coinmarket-backend/pkg/types"
)

type withdrawalAdminService interface {
	Approve(ctx context.Context, actor types.Actor, withdrawalID uuid.UUID) (*models.Withdrawal, error)
	Reject(ctx context.Context, actor types.Actor, withdrawalID uuid.UUID, reason string) (*models.Withdrawal, error)
	MarkCompleted(ctx context.Context, withdrawalID uuid.UUID, transferID string) (*models.Withdrawal, error)
}

type rejectWithdrawalRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type completeWithdrawalRequest struct {
	TransferID string `json:"transfer_id" validate:"omitempty,max=100"`
}

// AdminRejectWithdrawal moves a pending withdrawal to rejected. The ledger is not touched.
func AdminRejectWithdrawal(svc withdrawalAdminService, logg *logger.Logger) http.HandlerFunc {
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

		var body rejectWithdrawalRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		withdrawal, err := svc.Reject(r.Context(), actor, withdrawalID, body.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newWithdrawalView(withdrawal))
	}
}

// AdminApproveWithdrawal records a manual payout resolution for a pending withdrawal.
func AdminApproveWithdrawal(svc withdrawalAdminService, logg *logger.Logger) http.HandlerFunc {
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

		withdrawal, err := svc.Approve(r.Context(), actor, withdrawalID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newWithdrawalView(withdrawal))
	}
}

// AdminCompleteWithdrawal marks a payout as settled when the gateway
// confirmation was handled out of band.
func AdminCompleteWithdrawal(svc withdrawalAdminService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "withdrawal service unavailable"))
			return
		}

		withdrawalID, err := parseUUIDParam(r, "withdrawalId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body completeWithdrawalRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &body); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		withdrawal, err := svc.MarkCompleted(r.Context(), withdrawalID, body.TransferID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newWithdrawalView(withdrawal))
	}
}
