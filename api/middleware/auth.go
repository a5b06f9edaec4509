package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/coinmarket-backend/api/responses"
	pkgAuth "github.com/angelmondragon/coinmarket-backend/pkg/auth"
	"github.com/angelmondragon/coinmarket-backend/pkg/auth/session"
	"github.com/angelmondragon/coinmarket-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/coinmarket-backend/pkg/errors"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
)

// Auth validates the bearer token, rejects revoked sessions and seeds the
// request context with the token's claims.
func Auth(cfg config.JWTConfig, revocations session.RevocationChecker, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := authenticate(r, cfg, revocations)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			sellerID := ""
			if claims.SellerID != nil {
				sellerID = claims.SellerID.String()
			}
			info := authInfo{
				accountID: claims.AccountID.String(),
				role:      string(claims.Role),
				sellerID:  sellerID,
				tokenID:   claims.ID,
			}
			ctx := context.WithValue(r.Context(), authInfoKey{}, info)
			if logg != nil {
				fields := map[string]any{"account_id": info.accountID, "actor_role": info.role}
				if sellerID != "" {
					fields["seller_id"] = sellerID
				}
				ctx = logg.WithFields(ctx, fields)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(r *http.Request, cfg config.JWTConfig, revocations session.RevocationChecker) (*pkgAuth.AccessTokenClaims, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	claims, err := pkgAuth.ParseAccessToken(cfg, token)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token")
	}
	if claims.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing token id")
	}
	if revocations == nil {
		return claims, nil
	}
	revoked, err := revocations.IsRevoked(r.Context(), claims.ID)
	switch {
	case err != nil:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check token revocation")
	case revoked:
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "token revoked")
	}
	return claims, nil
}

// bearerToken accepts "Bearer <token>" in any case, or a bare token.
func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if scheme, rest, ok := strings.Cut(raw, " "); ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(rest)
	}
	if strings.EqualFold(raw, "bearer") {
		return ""
	}
	return raw
}
