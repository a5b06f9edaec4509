package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	"github.com/angelmondragon/coinmarket-backend/pkg/types"
)

type authInfoKey struct{}

// authInfo is what Auth learned from the bearer token. It is stored by value
// so the With* helpers never mutate a parent context's copy.
type authInfo struct {
	accountID string
	role      string
	sellerID  string
	tokenID   string
}

func authFrom(ctx context.Context) authInfo {
	if ctx == nil {
		return authInfo{}
	}
	info, _ := ctx.Value(authInfoKey{}).(authInfo)
	return info
}

func withAuth(ctx context.Context, update func(*authInfo)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	info := authFrom(ctx)
	update(&info)
	return context.WithValue(ctx, authInfoKey{}, info)
}

func AccountIDFromContext(ctx context.Context) string { return authFrom(ctx).accountID }
func RoleFromContext(ctx context.Context) string      { return authFrom(ctx).role }
func SellerIDFromContext(ctx context.Context) string  { return authFrom(ctx).sellerID }

// TokenIDFromContext returns the jti of the token that authenticated the request.
func TokenIDFromContext(ctx context.Context) string { return authFrom(ctx).tokenID }

// ActorFromContext builds the authenticated actor. ok is false when the
// request did not pass through Auth or the stored values are malformed.
func ActorFromContext(ctx context.Context) (types.Actor, bool) {
	info := authFrom(ctx)
	id, err := uuid.Parse(info.accountID)
	if err != nil || id == uuid.Nil {
		return types.Actor{}, false
	}
	role := enums.AccountRole(info.role)
	if !role.IsValid() {
		return types.Actor{}, false
	}
	return types.Actor{AccountID: id, Role: role}, true
}

func WithAccountID(ctx context.Context, accountID string) context.Context {
	return withAuth(ctx, func(info *authInfo) { info.accountID = accountID })
}

func WithRole(ctx context.Context, role enums.AccountRole) context.Context {
	return withAuth(ctx, func(info *authInfo) { info.role = string(role) })
}

func WithTokenID(ctx context.Context, tokenID string) context.Context {
	return withAuth(ctx, func(info *authInfo) { info.tokenID = tokenID })
}
