package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
)

const (
	defaultStallAge   = time.Hour
	defaultStallLimit = 100
)

type stalledLister interface {
	ListStalled(ctx context.Context, minAge time.Duration, limit int) ([]models.Withdrawal, error)
}

type stallRecorder interface {
	StalledWithdrawals(count int)
}

type WithdrawalStallJobParams struct {
	Logger      *logger.Logger
	Withdrawals stalledLister
	Metrics     stallRecorder
	MinAge      time.Duration
	Limit       int
}

// NewWithdrawalStallJob reports pending withdrawals that never reached the
// gateway. It does not resubmit anything; an admin settles them by hand.
func NewWithdrawalStallJob(params WithdrawalStallJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Withdrawals == nil {
		return nil, fmt.Errorf("withdrawals service required")
	}
	minAge := params.MinAge
	if minAge <= 0 {
		minAge = defaultStallAge
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultStallLimit
	}
	return &withdrawalStallJob{
		logg:        params.Logger,
		withdrawals: params.Withdrawals,
		metrics:     params.Metrics,
		minAge:      minAge,
		limit:       limit,
	}, nil
}

type withdrawalStallJob struct {
	logg        *logger.Logger
	withdrawals stalledLister
	metrics     stallRecorder
	minAge      time.Duration
	limit       int
}

func (j *withdrawalStallJob) Name() string { return "withdrawal-stall-report" }

func (j *withdrawalStallJob) Run(ctx context.Context) error {
	rows, err := j.withdrawals.ListStalled(ctx, j.minAge, j.limit)
	if err != nil {
		return fmt.Errorf("list stalled withdrawals: %w", err)
	}
	if j.metrics != nil {
		j.metrics.StalledWithdrawals(len(rows))
	}
	for _, w := range rows {
		fields := map[string]any{
			"withdrawal_id": w.ID.String(),
			"seller_id":     w.SellerID.String(),
			"amount_cents":  w.AmountCents,
			"created_at":    w.CreatedAt,
		}
		if w.FailureReason != nil {
			fields["failure_reason"] = *w.FailureReason
		}
		j.logg.Warn(j.logg.WithFields(ctx, fields), "withdrawal stalled before gateway transfer")
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"stalled": len(rows),
		"min_age": j.minAge.String(),
	}), "withdrawal stall report complete")
	return nil
}
