// Package registry maps outbox event types to their broker topic and typed
// payload, and decodes stored rows for the publisher.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/coinmarket-backend/pkg/config"
	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	"github.com/angelmondragon/coinmarket-backend/pkg/outbox"
	"github.com/angelmondragon/coinmarket-backend/pkg/outbox/payloads"
)

type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is an outbox row that passed validation, ready to publish.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that can never publish as stored. The
// publisher moves it to the DLQ instead of retrying.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func nonRetryablef(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

func factory[T any]() func() any {
	return func() any { return new(T) }
}

// NewEventRegistry routes money movements to the settlement topic and order
// lifecycle events to the orders topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	var errs []error
	if cfg.SettlementTopic == "" {
		errs = append(errs, errors.New("settlement topic is required"))
	}
	if cfg.OrdersTopic == "" {
		errs = append(errs, errors.New("orders topic is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	withdrawal := factory[payloads.WithdrawalEvent]()
	descriptors := []EventDescriptor{
		{enums.EventDepositSettled, enums.AggregateDeposit, cfg.SettlementTopic, factory[payloads.DepositSettledEvent]()},
		{enums.EventWithdrawalRequested, enums.AggregateWithdrawal, cfg.SettlementTopic, withdrawal},
		{enums.EventWithdrawalApproved, enums.AggregateWithdrawal, cfg.SettlementTopic, withdrawal},
		{enums.EventWithdrawalCompleted, enums.AggregateWithdrawal, cfg.SettlementTopic, withdrawal},
		{enums.EventWithdrawalRejected, enums.AggregateWithdrawal, cfg.SettlementTopic, withdrawal},
		{enums.EventOrderCreated, enums.AggregateOrder, cfg.OrdersTopic, factory[payloads.OrderCreatedEvent]()},
		{enums.EventOrderStatusChanged, enums.AggregateOrder, cfg.OrdersTopic, factory[payloads.OrderStatusChangedEvent]()},
		{enums.EventOrderRated, enums.AggregateOrder, cfg.OrdersTopic, factory[payloads.OrderRatedEvent]()},
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(descriptors))}
	for _, desc := range descriptors {
		reg.entries[desc.EventType] = desc
	}
	return reg, nil
}

// Topics lists every topic an event can be routed to.
func (r *EventRegistry) Topics() []string {
	seen := make(map[string]struct{})
	var topics []string
	for _, desc := range r.entries {
		if _, ok := seen[desc.Topic]; ok {
			continue
		}
		seen[desc.Topic] = struct{}{}
		topics = append(topics, desc.Topic)
	}
	return topics
}

// Resolve validates the row against its descriptor and decodes the typed
// payload. Every failure is non-retryable.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, nonRetryablef("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, nonRetryablef("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, nonRetryablef("missing aggregate_id")
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	if !envelope.HasData() {
		return nil, nonRetryablef("payload missing for %s", event.EventType)
	}
	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, nonRetryablef("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
