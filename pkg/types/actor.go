package types

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
)

// Actor is the authenticated caller behind a request. It is always taken from
// the verified session, never from request bodies.
type Actor struct {
	AccountID uuid.UUID
	Role      enums.AccountRole
}

// IsAdmin reports whether the actor may apply administrative overrides.
func (a Actor) IsAdmin() bool {
	return a.Role == enums.AccountRoleAdmin
}
