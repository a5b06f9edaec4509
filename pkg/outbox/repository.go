package outbox

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
)

// maxErrorText caps last_error and the dead-letter error_message.
const maxErrorText = 1024

// Repository owns outbox_events. Writes that must commit with a business
// change take the caller's transaction; maintenance reads and deletes fall
// back to the repository's own handle when tx is nil.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errTransactionRequired
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return tx.Create(&event).Error
}

// FetchUnpublishedForPublish locks the oldest publishable rows with SKIP
// LOCKED so concurrent publishers split the backlog instead of racing on it.
func (r *Repository) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errTransactionRequired
	}
	var events []models.OutboxEvent
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("published_at IS NULL AND attempt_count < ?", maxAttempts).
		Order("created_at, id").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *Repository) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	return r.update(tx, id, map[string]any{
		"published_at": time.Now().UTC(),
		"last_error":   nil,
	})
}

func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	return r.update(tx, id, map[string]any{
		"attempt_count": gorm.Expr("attempt_count + 1"),
		"last_error":    errorText(err),
	})
}

// MarkTerminalTx sets attempt_count to the ceiling so the row drops out of
// FetchUnpublishedForPublish and becomes eligible for retention.
func (r *Repository) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	return r.update(tx, id, map[string]any{
		"attempt_count": terminalAttempts,
		"last_error":    errorText(err),
	})
}

func (r *Repository) CountPending(tx *gorm.DB) (int64, error) {
	var pending int64
	err := r.handle(context.Background(), tx).
		Model(&models.OutboxEvent{}).
		Where("published_at IS NULL").
		Count(&pending).Error
	return pending, err
}

// DeletePublishedBefore prunes rows created before cutoff that were either
// published before cutoff or parked at minAttemptCount. At most limit rows go
// per call, oldest first; a non-positive limit takes every match.
func (r *Repository) DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount, limit int) (int64, error) {
	db := r.handle(ctx, tx)
	expired := db.Model(&models.OutboxEvent{}).
		Select("id").
		Where("created_at < ?", cutoff).
		Where(db.Where("published_at IS NOT NULL AND published_at < ?", cutoff).
			Or("published_at IS NULL AND attempt_count >= ?", minAttemptCount)).
		Order("created_at")
	return deleteIn(db, expired, limit, &models.OutboxEvent{})
}

func (r *Repository) update(tx *gorm.DB, id uuid.UUID, columns map[string]any) error {
	if tx == nil {
		return errTransactionRequired
	}
	return tx.Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(columns).Error
}

func (r *Repository) handle(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx)
}

// deleteIn removes the rows of model whose id is in ids, capped at limit.
func deleteIn(db, ids *gorm.DB, limit int, model any) (int64, error) {
	if limit > 0 {
		ids = ids.Limit(limit)
	}
	result := db.Where("id IN (?)", ids).Delete(model)
	return result.RowsAffected, result.Error
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return clip(err.Error(), maxErrorText)
}

// clip cuts s to at most limit bytes without splitting a UTF-8 sequence.
func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
