package asaas

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coinmarket-backend/pkg/errors"
	"github.com/angelmondragon/coinmarket-backend/pkg/money"
)

const dateLayout = "2006-01-02"

// PaymentInput describes a deposit charge.
type PaymentInput struct {
	CustomerID  string
	AmountCents int64
	BillingType enums.BillingType
	DueDate     time.Time
	Description string
	Reference   Reference
}

type paymentRequest struct {
	Customer          string            `json:"customer"`
	BillingType       enums.BillingType `json:"billingType"`
	Value             json.Number       `json:"value"`
	DueDate           string            `json:"dueDate"`
	Description       string            `json:"description,omitempty"`
	ExternalReference string            `json:"externalReference"`
}

// Payment is the gateway view of a charge.
type Payment struct {
	ID                string                     `json:"id"`
	Customer          string                     `json:"customer"`
	Status            enums.GatewayPaymentStatus `json:"status"`
	Value             decimal.Decimal            `json:"value"`
	NetValue          decimal.Decimal            `json:"netValue"`
	BillingType       enums.BillingType          `json:"billingType"`
	InvoiceURL        string                     `json:"invoiceUrl"`
	DueDate           string                     `json:"dueDate"`
	ExternalReference string                     `json:"externalReference"`
}

// AmountCents converts the decimal charge value to cents.
func (p Payment) AmountCents() int64 {
	return money.ToCents(p.Value)
}

// PixQRCode is the copy-paste payload and image for a PIX charge.
type PixQRCode struct {
	EncodedImage   string `json:"encodedImage"`
	Payload        string `json:"payload"`
	ExpirationDate string `json:"expirationDate"`
}

// CreatePayment opens a charge for the customer.
func (c *Client) CreatePayment(ctx context.Context, input PaymentInput) (*Payment, error) {
	if strings.TrimSpace(input.CustomerID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be positive")
	}
	if !input.BillingType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid billing type")
	}
	due := input.DueDate
	if due.IsZero() {
		due = time.Now().UTC()
	}

	req := paymentRequest{
		Customer:          input.CustomerID,
		BillingType:       input.BillingType,
		Value:             json.Number(money.FromCents(input.AmountCents).StringFixed(2)),
		DueDate:           due.Format(dateLayout),
		Description:       input.Description,
		ExternalReference: input.Reference.Encode(),
	}
	fields := map[string]any{
		"customer_id":  input.CustomerID,
		"amount_cents": input.AmountCents,
		"billing_type": input.BillingType,
	}
	c.log(ctx, "start", "create_payment", fields, nil)

	var payment Payment
	if err := c.do(ctx, "create_payment", http.MethodPost, "payments", nil, req, &payment); err != nil {
		c.log(ctx, "error", "create_payment", fields, err)
		return nil, err
	}

	c.log(ctx, "success", "create_payment", map[string]any{"payment_id": payment.ID, "status": payment.Status}, nil)
	return &payment, nil
}

// GetPayment fetches the live status of a charge.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	trimmed := strings.TrimSpace(paymentID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	fields := map[string]any{"payment_id": trimmed}
	c.log(ctx, "start", "get_payment", fields, nil)

	var payment Payment
	if err := c.do(ctx, "get_payment", http.MethodGet, "payments/"+url.PathEscape(trimmed), nil, nil, &payment); err != nil {
		c.log(ctx, "error", "get_payment", fields, err)
		return nil, err
	}

	c.log(ctx, "success", "get_payment", map[string]any{"payment_id": payment.ID, "status": payment.Status}, nil)
	return &payment, nil
}

// GetPixQRCode fetches the QR code for a PIX charge.
func (c *Client) GetPixQRCode(ctx context.Context, paymentID string) (*PixQRCode, error) {
	trimmed := strings.TrimSpace(paymentID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	fields := map[string]any{"payment_id": trimmed}
	c.log(ctx, "start", "get_pix_qr_code", fields, nil)

	var qr PixQRCode
	if err := c.do(ctx, "get_pix_qr_code", http.MethodGet, "payments/"+url.PathEscape(trimmed)+"/pixQrCode", nil, nil, &qr); err != nil {
		c.log(ctx, "error", "get_pix_qr_code", fields, err)
		return nil, err
	}

	c.log(ctx, "success", "get_pix_qr_code", fields, nil)
	return &qr, nil
}
