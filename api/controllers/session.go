package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/coinmarket-backend/api/middleware"
	"github.com/angelmondragon/coinmarket-backend/api/responses"
	"github.com/angelmondragon/coinmarket-backend/pkg/errors"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
)

type sessionRevoker interface {
	Revoke(ctx context.Context, tokenID string) error
}

type revokeResponse struct {
	TokenID string `json:"token_id"`
	Status  string `json:"status"`
}

// SessionLogout revokes the access token that authenticated the request.
func SessionLogout(revoker sessionRevoker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if revoker == nil {
			responses.WriteError(r.Context(), logg, w, errors.New(errors.CodeInternal, "session revoker unavailable"))
			return
		}

		tokenID := middleware.TokenIDFromContext(r.Context())
		if tokenID == "" {
			responses.WriteError(r.Context(), logg, w, errors.New(errors.CodeUnauthorized, "missing token id"))
			return
		}

		if err := revoker.Revoke(r.Context(), tokenID); err != nil {
			responses.WriteError(r.Context(), logg, w, errors.Wrap(errors.CodeDependency, err, "revoke session"))
			return
		}

		responses.WriteSuccess(w, revokeResponse{TokenID: tokenID, Status: "logged_out"})
	}
}

// AdminRevokeSession revokes an arbitrary token id, e.g. one leaked by a compromised client.
func AdminRevokeSession(revoker sessionRevoker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if revoker == nil {
			responses.WriteError(r.Context(), logg, w, errors.New(errors.CodeInternal, "session revoker unavailable"))
			return
		}

		tokenID := strings.TrimSpace(chi.URLParam(r, "tokenId"))
		if tokenID == "" {
			responses.WriteError(r.Context(), logg, w, errors.New(errors.CodeValidation, "token id is required"))
			return
		}

		if err := revoker.Revoke(r.Context(), tokenID); err != nil {
			responses.WriteError(r.Context(), logg, w, errors.Wrap(errors.CodeDependency, err, "revoke session"))
			return
		}

		if logg != nil {
			logg.Info(logg.WithField(r.Context(), "revoked_token_id", tokenID), "session.revoked")
		}
		responses.WriteSuccess(w, revokeResponse{TokenID: tokenID, Status: "revoked"})
	}
}
