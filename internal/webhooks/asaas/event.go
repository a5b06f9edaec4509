package asaaswebhook

import (
	"crypto/subtle"
	"encoding/json"
	"strings"

	"github.com/angelmondragon/coinmarket-backend/pkg/asaas"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coinmarket-backend/pkg/errors"
)

// TokenHeader carries the shared secret configured on the gateway dashboard.
const TokenHeader = "asaas-access-token"

// Event is one webhook delivery. Payment events carry Payment, transfer
// events carry Transfer.
type Event struct {
	ID       string                 `json:"id"`
	Event    enums.GatewayEventType `json:"event"`
	Payment  *asaas.Payment         `json:"payment,omitempty"`
	Transfer *asaas.Transfer        `json:"transfer,omitempty"`
}

// ParseEvent decodes a raw webhook body.
func ParseEvent(body []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload")
	}
	if strings.TrimSpace(string(event.Event)) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook event name missing")
	}
	return &event, nil
}

// DeliveryID identifies the delivery for redelivery detection: the event name
// plus the id of the payment or transfer it describes.
func (e *Event) DeliveryID() string {
	var objectID string
	switch {
	case e.Payment != nil && e.Payment.ID != "":
		objectID = e.Payment.ID
	case e.Transfer != nil && e.Transfer.ID != "":
		objectID = e.Transfer.ID
	case e.ID != "":
		objectID = e.ID
	default:
		return ""
	}
	return string(e.Event) + ":" + objectID
}

// VerifyToken compares the presented token with the configured one in
// constant time. An unconfigured token rejects every delivery.
func VerifyToken(expected, presented string) bool {
	if expected == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}
