// Package router turns settlement envelopes into settlement_events rows, one
// exporter per outbox event type.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/coinmarket-backend/internal/analytics/types"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
)

var (
	ErrUnsupportedEventType = errors.New("unsupported settlement event type")
	errEmptyPayload         = errors.New("empty event payload")
)

type Writer interface {
	InsertSettlement(ctx context.Context, row types.SettlementEventRow) error
}

type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

type Router struct {
	handlers map[enums.OutboxEventType]Handler
}

// NewRouter registers an exporter for every settlement event type. overrides
// replace the exporter for event types that already have one; other keys are
// ignored.
func NewRouter(writer Writer, logg *logger.Logger, overrides map[enums.OutboxEventType]Handler) (*Router, error) {
	switch {
	case writer == nil:
		return nil, errors.New("writer is required")
	case logg == nil:
		return nil, errors.New("logger is required")
	}

	withdrawal := newExporter(writer, logg, withdrawalColumns)
	handlers := map[enums.OutboxEventType]Handler{
		enums.EventDepositSettled:      newExporter(writer, logg, depositColumns),
		enums.EventWithdrawalRequested: withdrawal,
		enums.EventWithdrawalApproved:  withdrawal,
		enums.EventWithdrawalCompleted: withdrawal,
		enums.EventWithdrawalRejected:  withdrawal,
		enums.EventOrderCreated:        newExporter(writer, logg, orderCreatedColumns),
		enums.EventOrderStatusChanged:  newExporter(writer, logg, orderStatusColumns),
		enums.EventOrderRated:          newExporter(writer, logg, orderRatedColumns),
	}
	for eventType, custom := range overrides {
		if _, ok := handlers[eventType]; ok && custom != nil {
			handlers[eventType] = custom
		}
	}
	return &Router{handlers: handlers}, nil
}

func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	handler, ok := r.handlers[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	return handler.Handle(ctx, envelope)
}

// exporter decodes the payload as T, fills the envelope columns plus the ones
// columns adds, and writes the row.
type exporter[T any] struct {
	writer  Writer
	logg    *logger.Logger
	columns func(row *types.SettlementEventRow, event *T)
}

func newExporter[T any](writer Writer, logg *logger.Logger, columns func(*types.SettlementEventRow, *T)) *exporter[T] {
	return &exporter[T]{writer: writer, logg: logg, columns: columns}
}

func (e *exporter[T]) Handle(ctx context.Context, envelope types.Envelope) error {
	raw := bytes.TrimSpace(envelope.Payload)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fmt.Errorf("%w: %s", errEmptyPayload, envelope.EventType)
	}
	event := new(T)
	if err := json.Unmarshal(raw, event); err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
	}

	row := types.SettlementEventRow{
		EventID:       envelope.EventID,
		EventType:     string(envelope.EventType),
		AggregateType: string(envelope.AggregateType),
		AggregateID:   envelope.AggregateID,
		OccurredAt:    envelope.OccurredAt.UTC(),
		Payload:       types.JSONColumn(raw),
	}
	e.columns(&row, event)

	ctx = e.logg.WithFields(ctx, map[string]any{
		"event_id":     envelope.EventID,
		"event_type":   envelope.EventType,
		"aggregate_id": envelope.AggregateID,
	})
	if err := e.writer.InsertSettlement(ctx, row); err != nil {
		e.logg.Error(ctx, "failed to insert settlement row", err)
		return err
	}
	e.logg.Debug(ctx, "settlement row exported")
	return nil
}
