// Package worker pulls settlement events off Pub/Sub and feeds them to the
// export router exactly once per event id.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/coinmarket-backend/internal/analytics/router"
	"github.com/angelmondragon/coinmarket-backend/internal/analytics/types"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
	"github.com/angelmondragon/coinmarket-backend/pkg/outbox"
	"github.com/angelmondragon/coinmarket-backend/pkg/outbox/idempotency"
)

// ConsumerName scopes the export's idempotency claims.
const ConsumerName = "settlement-export"

type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

type HandlerFunc func(ctx context.Context, envelope types.Envelope) error

func (fn HandlerFunc) Handle(ctx context.Context, envelope types.Envelope) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, envelope)
}

type eventClaimer interface {
	Claim(ctx context.Context, id string) (idempotency.ClaimState, error)
	Complete(ctx context.Context, id string) error
	Release(ctx context.Context, id string) error
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type disposition int

const (
	ack disposition = iota
	nack
)

type Service struct {
	subscription receiver
	handler      Handler
	claims       eventClaimer
	logg         *logger.Logger
}

func NewService(subscription receiver, handler Handler, claims eventClaimer, logg *logger.Logger) (*Service, error) {
	switch {
	case subscription == nil:
		return nil, errors.New("settlement subscription is required")
	case handler == nil:
		return nil, errors.New("export handler is required")
	case claims == nil:
		return nil, errors.New("idempotency guard is required")
	case logg == nil:
		return nil, errors.New("logger is required")
	}
	return &Service{subscription: subscription, handler: handler, claims: claims, logg: logg}, nil
}

// Run blocks until ctx is canceled or the subscription fails.
func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(msgCtx context.Context, msg *gcppubsub.Message) {
		if s.process(msgCtx, msg) == nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// process decides the fate of one delivery. Messages that can never be
// exported are acked so they stop coming back. Failures that may clear on a
// later delivery release the claim and nack, as does a delivery racing one
// that still holds the lease.
func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) disposition {
	fields := map[string]any{"message_id": msg.ID, "delivery_attempt": deliveryAttempt(msg)}
	envelope, err := decodeEnvelope(msg.Data, msg.Attributes)
	if err != nil {
		fields["error"] = err.Error()
		s.logg.Warn(s.logg.WithFields(ctx, fields), "dropping undecodable settlement message")
		return ack
	}
	fields["event_id"] = envelope.EventID
	fields["event_type"] = envelope.EventType
	fields["aggregate_id"] = envelope.AggregateID
	ctx = s.logg.WithFields(ctx, fields)

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		s.logg.Warn(ctx, "dropping settlement message with malformed event id")
		return ack
	}

	key := eventID.String()
	state, err := s.claims.Claim(ctx, key)
	if err != nil {
		s.logg.Error(ctx, "claim settlement event", err)
		return nack
	}
	switch state {
	case idempotency.Done:
		s.logg.Debug(ctx, "settlement event already exported")
		return ack
	case idempotency.InFlight:
		s.logg.Debug(ctx, "settlement event export in flight elsewhere")
		return nack
	}

	err = s.handler.Handle(ctx, envelope)
	switch {
	case err == nil:
		s.logg.Info(ctx, "settlement event exported")
		s.complete(ctx, key)
		return ack
	case errors.Is(err, router.ErrUnsupportedEventType):
		s.logg.Warn(ctx, "settlement event type not exported")
		s.complete(ctx, key)
		return ack
	}
	s.logg.Error(ctx, "export settlement event", err)
	if releaseErr := s.claims.Release(context.WithoutCancel(ctx), key); releaseErr != nil {
		s.logg.Error(ctx, "release settlement claim", releaseErr)
	}
	return nack
}

// complete failures are logged only; the lease expires and a redelivery is
// absorbed by the BigQuery insert id.
func (s *Service) complete(ctx context.Context, key string) {
	if err := s.claims.Complete(context.WithoutCancel(ctx), key); err != nil {
		s.logg.Error(ctx, "complete settlement claim", err)
	}
}

// decodeEnvelope combines the stored payload envelope with the routing
// attributes the outbox publisher stamps on every message.
func decodeEnvelope(data []byte, attrs map[string]string) (types.Envelope, error) {
	attr := func(name string) string { return strings.TrimSpace(attrs[name]) }

	if raw := attr("schema_version"); raw != "" {
		version, err := strconv.Atoi(raw)
		if err != nil || version > outbox.EnvelopeVersion {
			return types.Envelope{}, fmt.Errorf("%w: %q", outbox.ErrEnvelopeVersion, raw)
		}
	}

	stored, err := outbox.DecodeEnvelope(data)
	if err != nil {
		return types.Envelope{}, err
	}
	eventType, err := enums.ParseOutboxEventType(attr("event_type"))
	if err != nil {
		return types.Envelope{}, fmt.Errorf("event_type: %w", err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(attr("aggregate_type"))
	if err != nil {
		return types.Envelope{}, fmt.Errorf("aggregate_type: %w", err)
	}
	aggregateID := attr("aggregate_id")
	if aggregateID == "" {
		return types.Envelope{}, errors.New("aggregate_id missing")
	}

	eventID := strings.TrimSpace(stored.EventID)
	if eventID == "" {
		eventID = attr("event_id")
	}
	if eventID == "" {
		return types.Envelope{}, errors.New("event_id missing")
	}

	occurredAt := stored.OccurredAt
	if occurredAt.IsZero() {
		if parsed, err := time.Parse(time.RFC3339Nano, attr("occurred_at")); err == nil {
			occurredAt = parsed
		}
	}

	return types.Envelope{
		EventID:       eventID,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    occurredAt.UTC(),
		Payload:       stored.Data,
	}, nil
}

func deliveryAttempt(msg *gcppubsub.Message) int {
	if msg.DeliveryAttempt == nil {
		return 0
	}
	return *msg.DeliveryAttempt
}
