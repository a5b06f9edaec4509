// Package session tracks access tokens revoked before their natural expiry.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/coinmarket-backend/pkg/config"
)

type revocationStore interface {
	RevokeSession(ctx context.Context, tokenID string, ttl time.Duration) error
	IsSessionRevoked(ctx context.Context, tokenID string) (bool, error)
}

// RevocationChecker exposes the read-only surface needed by middleware.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Revoker keeps a Redis-backed deny list of token ids. Entries live as long as
// the longest token the issuer can mint, after which the token expires anyway.
type Revoker struct {
	store revocationStore
	ttl   time.Duration
}

// NewRevoker constructs a revoker backed by Redis.
func NewRevoker(store revocationStore, cfg config.JWTConfig) (*Revoker, error) {
	if store == nil {
		return nil, fmt.Errorf("revocation store is required")
	}
	ttl := cfg.Expiration()
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive")
	}
	return &Revoker{store: store, ttl: ttl}, nil
}

// Revoke denies tokenID for the rest of its lifetime.
func (r *Revoker) Revoke(ctx context.Context, tokenID string) error {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return fmt.Errorf("token id is required")
	}
	return r.store.RevokeSession(ctx, tokenID, r.ttl)
}

// IsRevoked reports whether tokenID was revoked.
func (r *Revoker) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return false, fmt.Errorf("token id is required")
	}
	return r.store.IsSessionRevoked(ctx, tokenID)
}
