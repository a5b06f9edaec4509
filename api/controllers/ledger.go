package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/coinmarket-backend/api/responses"
	"github.com/angelmondragon/coinmarket-backend/api/validators"
	"github.com/angelmondragon/coinmarket-backend/internal/ledger"
	pkgerrors "github.com/angelmondragon/coinmarket-backend/pkg/errors"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
	"github.com/angelmondragon/coinmarket-backend/pkg/pagination"
)

type ledgerService interface {
	Balance(ctx context.Context, accountID uuid.UUID) (*ledger.BalanceView, error)
	History(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*ledger.TransactionList, error)
	Reconcile(ctx context.Context, accountID uuid.UUID) (*ledger.Reconciliation, error)
}

func LedgerBalance(svc ledgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.Balance(r.Context(), actor.AccountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// LedgerTransactions pages through the caller's ledger history, newest first.
func LedgerTransactions(svc ledgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
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

		list, err := svc.History(r.Context(), actor.AccountID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newTransactionListView(list))
	}
}

// AdminReconcileAccount compares an account's stored balance with its transaction sum.
func AdminReconcileAccount(svc ledgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		accountID, err := parseUUIDParam(r, "accountId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Reconcile(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
