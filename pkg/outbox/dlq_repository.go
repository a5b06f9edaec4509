package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
)

// DLQRepository owns outbox_dlq, the parking lot for events the publisher
// stopped retrying.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx parks entry in the caller's transaction. An event that already
// has a dead letter is left alone, so a batch retried after a crash does not
// park it twice.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errTransactionRequired
	}
	existing, err := findDeadLetter(tx, entry.EventID)
	if err != nil || existing != nil {
		return err
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ErrorMessage != nil {
		message := clip(*entry.ErrorMessage, maxErrorText)
		entry.ErrorMessage = &message
	}
	return tx.Create(&entry).Error
}

// FindByEventID returns nil, nil when eventID never dead-lettered.
func (r *DLQRepository) FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	return findDeadLetter(r.db.WithContext(ctx), eventID)
}

// DeleteFailedBefore prunes dead letters that failed before cutoff, oldest
// first, at most limit per call.
func (r *DLQRepository) DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	db := tx.WithContext(ctx)
	expired := db.Model(&models.OutboxDLQ{}).Select("id").Where("failed_at < ?", cutoff).Order("failed_at")
	return deleteIn(db, expired, limit, &models.OutboxDLQ{})
}

func findDeadLetter(db *gorm.DB, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var entry models.OutboxDLQ
	err := db.Where("event_id = ?", eventID).Take(&entry).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return &entry, nil
}
