package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
)

func TestNewEnvelopeStampsVersionAndTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("BRT", -3*3600))
	actor := &ActorRef{AccountID: uuid.New(), Role: "user"}

	envelope, err := newEnvelope(DomainEvent{EventType: enums.EventOrderRated, Actor: actor, Data: map[string]int{"score": 5}}, now)
	require.NoError(t, err)

	assert.Equal(t, EnvelopeVersion, envelope.Version)
	assert.Equal(t, now.UTC(), envelope.OccurredAt)
	assert.Equal(t, time.UTC, envelope.OccurredAt.Location())
	assert.Same(t, actor, envelope.Actor)
	assert.JSONEq(t, `{"score":5}`, string(envelope.Data))
	_, err = uuid.Parse(envelope.EventID)
	assert.NoError(t, err)
}

func TestNewEnvelopeKeepsExplicitOccurredAt(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	envelope, err := newEnvelope(DomainEvent{OccurredAt: at, Data: struct{}{}}, at.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, at, envelope.OccurredAt)
}

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
		hasData bool
	}{
		{"current version", `{"version":1,"eventId":"e1","data":{"a":1}}`, nil, true},
		{"legacy without version", `{"eventId":"e1","data":{"a":1}}`, nil, true},
		{"null data", `{"version":1,"eventId":"e1","data":null}`, nil, false},
		{"missing data", `{"version":1,"eventId":"e1"}`, nil, false},
		{"newer version", `{"version":2,"eventId":"e1","data":{}}`, ErrEnvelopeVersion, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envelope, err := DecodeEnvelope([]byte(tt.raw))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.hasData, envelope.HasData())
		})
	}

	_, err := DecodeEnvelope([]byte(`{"version":`))
	assert.Error(t, err)
}

func TestEmitRequiresTransaction(t *testing.T) {
	svc := NewService(nil, nil)
	err := svc.Emit(context.Background(), nil, DomainEvent{EventType: enums.EventOrderCreated, AggregateType: enums.AggregateOrder})
	assert.ErrorIs(t, err, errTransactionRequired)
}

type recordingInserter struct {
	rows []models.OutboxEvent
}

func (r *recordingInserter) Insert(_ *gorm.DB, event models.OutboxEvent) error {
	r.rows = append(r.rows, event)
	return nil
}

func TestEmitRejectsUnknownEventType(t *testing.T) {
	inserter := &recordingInserter{}
	svc := &Service{repo: inserter, now: time.Now}

	err := svc.Emit(context.Background(), &gorm.DB{}, DomainEvent{
		EventType:     enums.OutboxEventType("balance_adjusted"),
		AggregateType: enums.AggregateAccount,
		AggregateID:   uuid.New(),
	})
	require.Error(t, err)
	assert.Empty(t, inserter.rows)
}

func TestEmitWritesEnvelopeRow(t *testing.T) {
	inserter := &recordingInserter{}
	fixed := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	svc := &Service{repo: inserter, now: func() time.Time { return fixed }}
	aggregateID := uuid.New()

	require.NoError(t, svc.Emit(context.Background(), &gorm.DB{}, DomainEvent{
		EventType:     enums.EventWithdrawalRequested,
		AggregateType: enums.AggregateWithdrawal,
		AggregateID:   aggregateID,
		Data:          map[string]int64{"amount_cents": 4750},
	}))
	require.Len(t, inserter.rows, 1)

	row := inserter.rows[0]
	assert.Equal(t, aggregateID, row.AggregateID)
	assert.NotEqual(t, uuid.Nil, row.ID)

	var stored PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &stored))
	assert.Equal(t, fixed, stored.OccurredAt)
	assert.JSONEq(t, `{"amount_cents":4750}`, string(stored.Data))
}
