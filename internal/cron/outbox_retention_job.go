package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
)

const (
	outboxRetentionDays   = 30
	dlqRetentionDays      = 90
	outboxMinAttempts     = 10
	retentionBatchSize    = 500
	outboxEventsTable     = "outbox_events"
	outboxDeadLetterTable = "outbox_dlq"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount, limit int) (int64, error)
}

type deadLetterPruner interface {
	DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

type pruneRecorder interface {
	PrunedRows(table string, rows int64)
}

// OutboxRetentionJobParams configures the sweep. Retention and DLQRetention
// are in days; zero values fall back to 30 and 90.
type OutboxRetentionJobParams struct {
	Logger       *logger.Logger
	DB           txRunner
	Events       eventPruner
	DeadLetters  deadLetterPruner
	Metrics      pruneRecorder
	Retention    int
	DLQRetention int
	MinAttempts  int
	BatchSize    int
}

// NewOutboxRetentionJob prunes delivered or abandoned outbox rows and old
// dead letters. Deletes run in batches, one transaction per batch, so a large
// backlog never holds a long lock on the outbox table.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:         params.Logger,
		db:           params.DB,
		events:       params.Events,
		deadLetters:  params.DeadLetters,
		metrics:      params.Metrics,
		retention:    positiveOr(params.Retention, outboxRetentionDays),
		dlqRetention: positiveOr(params.DLQRetention, dlqRetentionDays),
		minAttempts:  positiveOr(params.MinAttempts, outboxMinAttempts),
		batchSize:    positiveOr(params.BatchSize, retentionBatchSize),
		now:          time.Now,
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg         *logger.Logger
	db           txRunner
	events       eventPruner
	deadLetters  deadLetterPruner
	metrics      pruneRecorder
	retention    int
	dlqRetention int
	minAttempts  int
	batchSize    int
	now          func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	eventCutoff := daysBefore(now, j.retention)
	events, err := j.prune(ctx, outboxEventsTable, func(tx *gorm.DB) (int64, error) {
		return j.events.DeletePublishedBefore(ctx, tx, eventCutoff, j.minAttempts, j.batchSize)
	})
	if err != nil {
		return err
	}

	var deadLetters int64
	dlqCutoff := daysBefore(now, j.dlqRetention)
	if j.deadLetters != nil {
		deadLetters, err = j.prune(ctx, outboxDeadLetterTable, func(tx *gorm.DB) (int64, error) {
			return j.deadLetters.DeleteFailedBefore(ctx, tx, dlqCutoff, j.batchSize)
		})
		if err != nil {
			return err
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"event_cutoff":         eventCutoff,
		"dlq_cutoff":           dlqCutoff,
		"events_deleted":       events,
		"dead_letters_deleted": deadLetters,
	}), "outbox retention cleanup complete")
	return nil
}

// prune repeats deleteBatch until a batch comes back short. Rows removed by
// committed batches stay removed when a later batch fails.
func (j *outboxRetentionJob) prune(ctx context.Context, table string, deleteBatch func(tx *gorm.DB) (int64, error)) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		var rows int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			rows, err = deleteBatch(tx)
			return err
		})
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		total += rows
		if j.metrics != nil {
			j.metrics.PrunedRows(table, rows)
		}
		if rows < int64(j.batchSize) {
			return total, nil
		}
	}
}

func daysBefore(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, -days)
}

func positiveOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}
