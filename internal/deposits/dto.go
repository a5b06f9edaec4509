package deposits

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
)

// Settlement sources recorded on metrics and outbox payloads.
const (
	SourcePoll    = "poll"
	SourceWebhook = "webhook"
)

// CreateDepositInput is a request to fund AccountID's balance.
type CreateDepositInput struct {
	AccountID   uuid.UUID
	AmountCents int64
	BillingType enums.BillingType
	TaxID       string
}

// DepositResult is returned to the client after the gateway charge is opened.
type DepositResult struct {
	PaymentID   string                     `json:"payment_id"`
	Status      enums.GatewayPaymentStatus `json:"status"`
	AmountCents int64                      `json:"amount_cents"`
	Amount      string                     `json:"amount"`
	BillingType enums.BillingType          `json:"billing_type"`
	InvoiceURL  string                     `json:"invoice_url,omitempty"`
	PixQRCode   *string                    `json:"pix_qr_code,omitempty"`
	PixPayload  *string                    `json:"pix_payload,omitempty"`
	ExpiresAt   *string                    `json:"expires_at,omitempty"`
}

// CheckStatusInput asks for the live status of a deposit the caller owns.
type CheckStatusInput struct {
	AccountID uuid.UUID
	PaymentID string
}

// StatusResult reports the gateway status and whether this call credited it.
type StatusResult struct {
	PaymentID      string                     `json:"payment_id"`
	Status         enums.GatewayPaymentStatus `json:"status"`
	State          enums.DepositState         `json:"state"`
	AmountCents    int64                      `json:"amount_cents"`
	BillingType    enums.BillingType          `json:"billing_type"`
	Credited       bool                       `json:"credited"`
	AlreadySettled bool                       `json:"already_settled"`
}

// SettlementInput is a confirmed payment ready to be credited.
type SettlementInput struct {
	PaymentID   string
	AccountID   uuid.UUID
	AmountCents int64
	BillingType enums.BillingType
	Source      string
}

// SettlementResult reports the outcome of Settle. Duplicate means the payment
// was credited by an earlier call and nothing changed.
type SettlementResult struct {
	PaymentID     string     `json:"payment_id"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	Settled       bool       `json:"settled"`
	Duplicate     bool       `json:"duplicate"`
	SettledAt     *time.Time `json:"settled_at,omitempty"`
}

// IdempotencyKey is the settlement marker stored on the deposit transaction.
func IdempotencyKey(paymentID string) string {
	return "deposit:" + paymentID
}
