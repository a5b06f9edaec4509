package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/angelmondragon/coinmarket-backend/api/responses"
	asaaswebhook "github.com/angelmondragon/coinmarket-backend/internal/webhooks/asaas"
	pkgerrors "github.com/angelmondragon/coinmarket-backend/pkg/errors"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
)

const maxWebhookBody = 1 << 20

type PaymentGatewayService interface {
	HandleEvent(ctx context.Context, event *asaaswebhook.Event) (asaaswebhook.Outcome, error)
}

type receivedResponse struct {
	Received bool `json:"received"`
}

// PaymentGateway accepts gateway event deliveries. Every delivery that passes
// the token check is acknowledged unless processing hit an internal failure,
// in which case the gateway is expected to redeliver.
func PaymentGateway(svc PaymentGatewayService, webhookToken string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		if !asaaswebhook.VerifyToken(webhookToken, r.Header.Get(asaaswebhook.TokenHeader)) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook token"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		event, err := asaaswebhook.ParseEvent(payload)
		if err != nil {
			if logg != nil {
				logg.Warn(logg.WithField(ctx, "reason", err.Error()), "webhook.payload_rejected")
			}
			responses.WriteSuccess(w, receivedResponse{Received: true})
			return
		}

		outcome, err := svc.HandleEvent(ctx, event)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(logg.WithFields(ctx, map[string]any{
				"webhook_event": string(event.Event),
				"outcome":       string(outcome),
			}), "webhook.processed")
		}
		responses.WriteSuccess(w, receivedResponse{Received: true})
	}
}
