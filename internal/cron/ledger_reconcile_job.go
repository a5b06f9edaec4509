package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/coinmarket-backend/internal/ledger"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
)

const (
	reconcilePageSize  = 200
	reconcileMaxErrors = 20
)

type accountScanner interface {
	AccountIDsAfter(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

type accountReconciler interface {
	Reconcile(ctx context.Context, accountID uuid.UUID) (*ledger.Reconciliation, error)
}

type driftRecorder interface {
	LedgerDrift(accounts int)
}

type LedgerReconcileJobParams struct {
	Logger     *logger.Logger
	Accounts   accountScanner
	Reconciler accountReconciler
	Metrics    driftRecorder
	PageSize   int
}

// NewLedgerReconcileJob walks every account and checks that the stored
// balance equals the sum of its transactions. Drift is reported, never fixed.
func NewLedgerReconcileJob(params LedgerReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Accounts == nil {
		return nil, fmt.Errorf("account scanner required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = reconcilePageSize
	}
	return &ledgerReconcileJob{
		logg:       params.Logger,
		accounts:   params.Accounts,
		reconciler: params.Reconciler,
		metrics:    params.Metrics,
		pageSize:   pageSize,
	}, nil
}

type ledgerReconcileJob struct {
	logg       *logger.Logger
	accounts   accountScanner
	reconciler accountReconciler
	metrics    driftRecorder
	pageSize   int
}

func (j *ledgerReconcileJob) Name() string { return "ledger-reconcile" }

func (j *ledgerReconcileJob) Run(ctx context.Context) error {
	var (
		after = uuid.Nil
		checked  int
		drifted  []string
		errs     error
		failures int
	)
	for {
		ids, err := j.accounts.AccountIDsAfter(ctx, after, j.pageSize)
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("scan accounts after %s: %w", after, err))
		}
		for _, id := range ids {
			if ctx.Err() != nil {
				return multierr.Append(errs, ctx.Err())
			}
			result, err := j.reconciler.Reconcile(ctx, id)
			if err != nil {
				failures++
				if failures <= reconcileMaxErrors {
					errs = multierr.Append(errs, fmt.Errorf("reconcile %s: %w", id, err))
				}
				continue
			}
			checked++
			if !result.Balanced {
				drifted = append(drifted, id.String())
			}
		}
		if len(ids) < j.pageSize {
			break
		}
		after = ids[len(ids)-1]
	}

	if j.metrics != nil {
		j.metrics.LedgerDrift(len(drifted))
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"accounts_checked": checked,
		"accounts_drifted": len(drifted),
		"accounts_failed":  failures,
	})
	if len(drifted) > 0 {
		j.logg.Warn(j.logg.WithField(logCtx, "drifted_account_ids", drifted), "ledger drift detected")
	} else {
		j.logg.Info(logCtx, "ledger reconcile sweep complete")
	}
	return errs
}
