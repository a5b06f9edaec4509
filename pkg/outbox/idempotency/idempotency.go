// Package idempotency deduplicates at-least-once deliveries, both outbox
// events redelivered by Pub/Sub and gateway webhooks retried by Asaas.
//
// A claim moves through two states. Claim writes a short processing lease;
// Complete replaces it with a done marker held for the full retention. A
// delivery that crashes mid-flight leaves only the lease behind, so the next
// redelivery after the lease expires runs again instead of being dropped.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/coinmarket-backend/pkg/redis"
)

// ClaimState reports what Claim found for a delivery id.
type ClaimState int

const (
	// Acquired means the caller owns the delivery and must Complete or Release it.
	Acquired ClaimState = iota
	// Done means an earlier delivery finished; the caller acks and skips.
	Done
	// InFlight means another delivery holds the lease; the caller retries later.
	InFlight
)

func (s ClaimState) String() string {
	switch s {
	case Acquired:
		return "acquired"
	case Done:
		return "done"
	case InFlight:
		return "in_flight"
	default:
		return fmt.Sprintf("claim_state(%d)", int(s))
	}
}

const (
	stateProcessing = "processing"
	stateDone       = "done"

	// DefaultLease bounds how long a crashed delivery blocks its id.
	DefaultLease = 5 * time.Minute
)

// Guard scopes claims to one consumer. Keys follow
// `cm:idempotency:evt:processed:<consumer>:<id>`.
type Guard struct {
	store    redis.IdempotencyStore
	consumer string
	ttl      time.Duration
	lease    time.Duration
}

// NewGuard keeps completed ids for ttl. A zero ttl keeps them until released.
// The processing lease is DefaultLease, capped at ttl.
func NewGuard(store redis.IdempotencyStore, consumer string, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return nil, errors.New("consumer name is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	lease := DefaultLease
	if ttl > 0 && ttl < lease {
		lease = ttl
	}
	return &Guard{store: store, consumer: consumer, ttl: ttl, lease: lease}, nil
}

func (g *Guard) Consumer() string { return g.consumer }

// Claim tries to take the processing lease for id.
func (g *Guard) Claim(ctx context.Context, id string) (ClaimState, error) {
	key, err := g.key(id)
	if err != nil {
		return InFlight, err
	}
	acquired, err := g.store.SetNX(ctx, key, stateProcessing, g.lease)
	if err != nil {
		return InFlight, fmt.Errorf("claim %s: %w", key, err)
	}
	if acquired {
		return Acquired, nil
	}

	current, err := g.store.Get(ctx, key)
	switch {
	case errors.Is(err, goredis.Nil):
		// the holder released between our calls; let the caller retry
		return InFlight, nil
	case err != nil:
		return InFlight, fmt.Errorf("read claim %s: %w", key, err)
	case current == stateProcessing:
		return InFlight, nil
	default:
		// markers written before the lease existed hold "1"
		return Done, nil
	}
}

// Complete marks id as done for the guard's ttl.
func (g *Guard) Complete(ctx context.Context, id string) error {
	key, err := g.key(id)
	if err != nil {
		return err
	}
	if err := g.store.Set(ctx, key, stateDone, g.ttl); err != nil {
		return fmt.Errorf("complete %s: %w", key, err)
	}
	return nil
}

// Release drops the lease so a failed delivery runs again on redelivery.
func (g *Guard) Release(ctx context.Context, id string) error {
	key, err := g.key(id)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *Guard) key(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("delivery id is required")
	}
	return g.store.IdempotencyKey("evt:processed:"+g.consumer, id), nil
}
