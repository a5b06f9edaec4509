package outbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	"github.com/angelmondragon/coinmarket-backend/pkg/migrate"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:outbox_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migrate.ApplySQLiteSchema(context.Background(), conn))
	return conn
}

func TestEmitQueuesEnvelopeInsideTransaction(t *testing.T) {
	conn := newTestDB(t)
	svc := NewService(NewRepository(conn), nil)
	accountID := uuid.New()

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventDepositSettled,
			AggregateType: enums.AggregateDeposit,
			AggregateID:   accountID,
			Data:          map[string]any{"paymentId": "pay_1"},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, accountID, rows[0].AggregateID)
	require.Contains(t, string(rows[0].Payload), `"pay_1"`)
	require.Nil(t, rows[0].PublishedAt)
}

func TestEmitRollsBackWithCaller(t *testing.T) {
	conn := newTestDB(t)
	svc := NewService(NewRepository(conn), nil)

	boom := errors.New("boom")
	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Data:          struct{}{},
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	repo := NewRepository(conn)
	pending, err := repo.CountPending(nil)
	require.NoError(t, err)
	require.Zero(t, pending)
}

func TestRepositoryMarksFailureAndPublication(t *testing.T) {
	conn := newTestDB(t)
	repo := NewRepository(conn)
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventWithdrawalRequested,
		AggregateType: enums.AggregateWithdrawal,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{}`),
	}
	require.NoError(t, repo.Insert(conn, event))

	require.NoError(t, repo.MarkFailedTx(conn, event.ID, errors.New(strings.Repeat("x", 2000))))
	var stored models.OutboxEvent
	require.NoError(t, conn.First(&stored, "id = ?", event.ID).Error)
	require.Equal(t, 1, stored.AttemptCount)
	require.NotNil(t, stored.LastError)
	require.Len(t, *stored.LastError, maxErrorText)

	require.NoError(t, repo.MarkPublishedTx(conn, event.ID))
	pending, err := repo.CountPending(conn)
	require.NoError(t, err)
	require.Zero(t, pending)

	require.Error(t, repo.Insert(nil, event))
}

func TestDeletePublishedBeforeKeepsPendingRows(t *testing.T) {
	conn := newTestDB(t)
	repo := NewRepository(conn)
	old := time.Now().UTC().Add(-48 * time.Hour)

	published := models.OutboxEvent{ID: uuid.New(), EventType: enums.EventOrderRated, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: []byte(`{}`), CreatedAt: old, PublishedAt: &old}
	parked := models.OutboxEvent{ID: uuid.New(), EventType: enums.EventOrderRated, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: []byte(`{}`), CreatedAt: old, AttemptCount: 10}
	pending := models.OutboxEvent{ID: uuid.New(), EventType: enums.EventOrderRated, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: []byte(`{}`), CreatedAt: old, AttemptCount: 1}
	for _, event := range []models.OutboxEvent{published, parked, pending} {
		require.NoError(t, repo.Insert(conn, event))
	}

	deleted, err := repo.DeletePublishedBefore(context.Background(), nil, time.Now().UTC().Add(-24*time.Hour), 5, 0)
	require.NoError(t, err)
	require.Equal(t, int64(2), deleted)

	var remaining []models.OutboxEvent
	require.NoError(t, conn.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, pending.ID, remaining[0].ID)
}

func TestDLQRepositoryStoresTruncatedEntry(t *testing.T) {
	conn := newTestDB(t)
	dlq := NewDLQRepository(conn)
	eventID := uuid.New()

	missing, err := dlq.FindByEventID(context.Background(), eventID)
	require.NoError(t, err)
	require.Nil(t, missing)

	msg := strings.Repeat("e", maxErrorText+10)
	require.NoError(t, dlq.InsertTx(conn, models.OutboxDLQ{
		EventID:       eventID,
		EventType:     enums.EventWithdrawalApproved,
		AggregateType: enums.AggregateWithdrawal,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{"v":1}`),
		ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
		ErrorMessage:  &msg,
		AttemptCount:  10,
	}))

	found, err := dlq.FindByEventID(context.Background(), eventID)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, enums.OutboxDLQReasonMaxAttempts, found.ErrorReason)
	require.Len(t, *found.ErrorMessage, maxErrorText)

	require.NoError(t, dlq.InsertTx(conn, models.OutboxDLQ{
		EventID:       eventID,
		EventType:     enums.EventWithdrawalApproved,
		AggregateType: enums.AggregateWithdrawal,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{}`),
		ErrorReason:   enums.OutboxDLQReasonNonRetryable,
	}))
	var parked int64
	require.NoError(t, conn.Model(&models.OutboxDLQ{}).Where("event_id = ?", eventID).Count(&parked).Error)
	require.Equal(t, int64(1), parked, "second dead letter for the same event is skipped")

	require.ErrorIs(t, dlq.InsertTx(nil, models.OutboxDLQ{}), errTransactionRequired)
}

func TestClipKeepsRuneBoundaries(t *testing.T) {
	require.Equal(t, "abc", clip("abc", 5))
	require.Equal(t, "ab", clip("abcdef", 2))
	// "é" is two bytes; cutting at 2 would split it
	require.Equal(t, "a", clip("aé", 2))
	require.Equal(t, "aé", clip("aéz", 3))
}

func TestDeletePublishedBeforeHonorsLimit(t *testing.T) {
	conn := newTestDB(t)
	repo := NewRepository(conn)
	old := time.Now().UTC().Add(-48 * time.Hour)
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Insert(conn, models.OutboxEvent{
			ID:            uuid.New(),
			EventType:     enums.EventOrderRated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       []byte(`{}`),
			CreatedAt:     old.Add(time.Duration(i) * time.Minute),
			PublishedAt:   &old,
		}))
	}
	cutoff := time.Now().UTC().Add(-24 * time.Hour)

	first, err := repo.DeletePublishedBefore(context.Background(), nil, cutoff, 5, 2)
	require.NoError(t, err)
	require.Equal(t, int64(2), first)
	rest, err := repo.DeletePublishedBefore(context.Background(), nil, cutoff, 5, 2)
	require.NoError(t, err)
	require.Equal(t, int64(1), rest)
}

func TestDLQDeleteFailedBefore(t *testing.T) {
	conn := newTestDB(t)
	dlq := NewDLQRepository(conn)
	now := time.Now().UTC()
	for _, failedAt := range []time.Time{now.AddDate(0, 0, -100), now.AddDate(0, 0, -95), now} {
		require.NoError(t, dlq.InsertTx(conn, models.OutboxDLQ{
			EventID:       uuid.New(),
			EventType:     enums.EventWithdrawalApproved,
			AggregateType: enums.AggregateWithdrawal,
			AggregateID:   uuid.New(),
			Payload:       []byte(`{}`),
			ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
			FailedAt:      failedAt,
		}))
	}

	deleted, err := dlq.DeleteFailedBefore(context.Background(), nil, now.AddDate(0, 0, -90), 0)
	require.NoError(t, err)
	require.Equal(t, int64(2), deleted)

	var remaining int64
	require.NoError(t, conn.Model(&models.OutboxDLQ{}).Count(&remaining).Error)
	require.Equal(t, int64(1), remaining)
}
