package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
)

var ErrInvalidClaims = errors.New("invalid access token claims")

// AccessTokenPayload is what the caller knows when minting a token. An empty
// JTI is replaced with a random uuid.
type AccessTokenPayload struct {
	AccountID uuid.UUID
	Role      enums.AccountRole
	SellerID  *uuid.UUID
	JTI       string
}

// AccessTokenClaims is the verified identity behind a request. Handlers read
// the acting account from here and never from request bodies.
type AccessTokenClaims struct {
	AccountID uuid.UUID         `json:"account_id"`
	Role      enums.AccountRole `json:"role"`
	SellerID  *uuid.UUID        `json:"seller_id,omitempty"`
	jwt.RegisteredClaims
}

// Validate runs after the registered claims checks during parsing and before
// signing. A seller token must name its seller profile.
func (c AccessTokenClaims) Validate() error {
	switch {
	case c.AccountID == uuid.Nil:
		return fmt.Errorf("%w: account id missing", ErrInvalidClaims)
	case !c.Role.IsValid():
		return fmt.Errorf("%w: role %q", ErrInvalidClaims, c.Role)
	case c.Role == enums.AccountRoleSeller && (c.SellerID == nil || *c.SellerID == uuid.Nil):
		return fmt.Errorf("%w: seller token without seller id", ErrInvalidClaims)
	}
	return nil
}
